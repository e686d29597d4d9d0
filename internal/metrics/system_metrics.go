package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SystemMetrics собирает метрики уровня процесса бота
type SystemMetrics interface {
	Record()
	StartRecording(interval time.Duration)
	Stop()
}

type systemMetrics struct {
	log          *logger.Logger
	goroutines   prometheus.Gauge
	memoryAlloc  prometheus.Gauge
	memorySystem prometheus.Gauge
	gcRuns       prometheus.Counter

	mu        sync.Mutex
	lastNumGC uint32
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewSystemMetrics регистрирует метрики процесса в registry
func NewSystemMetrics(registry *prometheus.Registry, log *logger.Logger) SystemMetrics {
	f := promauto.With(registry)

	return &systemMetrics{
		log: log,
		goroutines: f.NewGauge(prometheus.GaugeOpts{
			Name: "numgate_goroutines",
			Help: "Current number of goroutines",
		}),
		memoryAlloc: f.NewGauge(prometheus.GaugeOpts{
			Name: "numgate_memory_alloc_bytes",
			Help: "Currently allocated heap memory in bytes",
		}),
		memorySystem: f.NewGauge(prometheus.GaugeOpts{
			Name: "numgate_memory_system_bytes",
			Help: "Memory obtained from the OS in bytes",
		}),
		gcRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "numgate_gc_runs_total",
			Help: "Completed garbage collection cycles",
		}),
		stopCh: make(chan struct{}),
	}
}

// Record снимает показатели runtime один раз
func (m *systemMetrics) Record() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAlloc.Set(float64(ms.Alloc))
	m.memorySystem.Set(float64(ms.Sys))

	m.mu.Lock()
	if ms.NumGC > m.lastNumGC {
		m.gcRuns.Add(float64(ms.NumGC - m.lastNumGC))
		m.lastNumGC = ms.NumGC
	}
	m.mu.Unlock()
}

// StartRecording снимает показатели runtime каждые interval до Stop
func (m *systemMetrics) StartRecording(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Record()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.log.Info("System metrics recording started with interval %s", interval)
}

func (m *systemMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.log.Info("System metrics recording stopped")
	})
}
