package grpc

import (
	"fmt"
	"net"
	"time"

	"github.com/Dhoini/numgate/internal/interceptors"
	"github.com/Dhoini/numgate/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServiceName запись health, отражающая работу бота
const ServiceName = "numgate.Bot"

// PublicMethods не требуют токена
var PublicMethods = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.v1.ServerReflection/",
	"/grpc.reflection.v1alpha.ServerReflection/",
}

// Server операторский gRPC сервер. Отдает стандартный health протокол и
// reflection, остальное требует admin токена.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	log        *logger.Logger
	listener   net.Listener
}

// NewServer создает сервер, который после запуска слушает port
func NewServer(port string, auth *interceptors.AuthInterceptor, log *logger.Logger) *Server {
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     5 * time.Minute,
		MaxConnectionAge:      time.Hour,
		MaxConnectionAgeGrace: 5 * time.Minute,
		Time:                  2 * time.Minute,
		Timeout:               20 * time.Second,
	}

	opts := []grpc.ServerOption{grpc.KeepaliveParams(kaParams)}
	if auth != nil {
		opts = append(opts, grpc.ChainUnaryInterceptor(auth.Unary()), grpc.ChainStreamInterceptor(auth.Stream()))
	}

	grpcServer := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		addr:       ":" + port,
		log:        log,
	}
}

// SetServing переключает health статус бота
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Start слушает заданный адрес и обслуживает запросы до Stop
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve обслуживает запросы на существующем listener
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener
	s.log.Info("Starting gRPC server on %s", listener.Addr())

	if err := s.grpcServer.Serve(listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop помечает все сервисы как неготовые и дожидается текущих вызовов
func (s *Server) Stop() {
	s.log.Info("Stopping gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
