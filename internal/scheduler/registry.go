// Package scheduler выполняет отложенные действия (уведомления об окончании
// пробного периода, удаление временных сообщений) как именованные отменяемые
// задачи вместо спящих горутин.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dhoini/numgate/pkg/logger"
)

// TaskFunc тело запланированной задачи. ctx отменяется при Shutdown.
type TaskFunc func(ctx context.Context)

// Registry владеет всеми ожидающими задачами. Планирование по уже занятому
// ключу заменяет предыдущую задачу.
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Logger
}

// Task дескриптор одной запланированной функции.
type Task struct {
	key      string
	timer    *time.Timer
	registry *Registry
	state    atomic.Int32
}

const (
	taskPending int32 = iota
	taskFired
	taskCancelled
)

// NewRegistry создает пустой реестр
func NewRegistry(log *logger.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Schedule запускает fn через delay под ключом key. После Shutdown возвращает
// уже отмененную задачу, и fn не выполняется.
func (r *Registry) Schedule(key string, delay time.Duration, fn TaskFunc) *Task {
	t := &Task{key: key, registry: r}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		t.state.Store(taskCancelled)
		return t
	}
	if prev, ok := r.tasks[key]; ok {
		prev.stop()
	}
	r.tasks[key] = t

	t.timer = time.AfterFunc(delay, func() { r.fire(t, fn) })
	return t
}

func (r *Registry) fire(t *Task, fn TaskFunc) {
	if !t.state.CompareAndSwap(taskPending, taskFired) {
		return
	}

	r.mu.Lock()
	if r.tasks[t.key] == t {
		delete(r.tasks, t.key)
	}
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("Scheduled task panicked", "task", t.key, "panic", rec)
		}
	}()

	fn(r.ctx)
}

// Cancel отменяет ожидающую задачу под key. Сообщает, была ли остановлена
// задача.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	t, ok := r.tasks[key]
	if ok {
		delete(r.tasks, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	return t.stop()
}

// Pending возвращает число задач, которые не сработали и не были отменены.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown отменяет все ожидающие задачи и контекст выполняющихся, затем ждет
// их завершения или истечения ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	tasks := r.tasks
	r.tasks = make(map[string]*Task)
	r.mu.Unlock()

	for _, t := range tasks {
		t.stop()
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Infow("Task registry stopped", "cancelled", len(tasks))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel останавливает задачу. Вызов после срабатывания или повторный вызов
// ничего не делает и возвращает false.
func (t *Task) Cancel() bool {
	if t.registry != nil {
		t.registry.mu.Lock()
		if t.registry.tasks[t.key] == t {
			delete(t.registry.tasks, t.key)
		}
		t.registry.mu.Unlock()
	}
	return t.stop()
}

func (t *Task) stop() bool {
	if !t.state.CompareAndSwap(taskPending, taskCancelled) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

// Fired сообщает, началось ли выполнение задачи.
func (t *Task) Fired() bool {
	return t.state.Load() == taskFired
}

// Key возвращает ключ задачи.
func (t *Task) Key() string {
	return t.key
}
