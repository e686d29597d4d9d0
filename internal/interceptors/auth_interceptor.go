package interceptors

import (
	"context"
	"strings"

	"github.com/Dhoini/numgate/internal/middleware"
	"github.com/Dhoini/numgate/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthInterceptor проверяет bearer токены в gRPC вызовах
type AuthInterceptor struct {
	log       *logger.Logger
	validator middleware.TokenValidator
	public    map[string]bool
	scopes    []string
}

// NewAuthInterceptor создает interceptor, требующий scopes для всех методов,
// кроме перечисленных в public (полные имена методов или префиксы сервисов с
// "/" на конце).
func NewAuthInterceptor(log *logger.Logger, validator middleware.TokenValidator, public []string, scopes ...string) *AuthInterceptor {
	p := make(map[string]bool, len(public))
	for _, m := range public {
		p[m] = true
	}
	return &AuthInterceptor{
		log:       log,
		validator: validator,
		public:    p,
		scopes:    scopes,
	}
}

func (i *AuthInterceptor) isPublic(fullMethod string) bool {
	if i.public[fullMethod] {
		return true
	}
	if idx := strings.LastIndex(fullMethod, "/"); idx > 0 {
		return i.public[fullMethod[:idx+1]]
	}
	return false
}

func (i *AuthInterceptor) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		i.log.Warnw("gRPC auth: missing metadata", "method", fullMethod)
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 || !strings.HasPrefix(authHeaders[0], "Bearer ") {
		i.log.Warnw("gRPC auth: missing bearer token", "method", fullMethod)
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	claims, err := i.validator.Validate(strings.TrimPrefix(authHeaders[0], "Bearer "))
	if err != nil {
		i.log.Warnw("gRPC auth: invalid token", "method", fullMethod, "error", err)
		return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
	}
	if !middleware.HasScope(claims.Scope, i.scopes) {
		return nil, status.Error(codes.PermissionDenied, "insufficient token permissions")
	}
	if claims.Subject == "" {
		return nil, status.Error(codes.Unauthenticated, "subject missing in token")
	}

	return context.WithValue(ctx, middleware.ContextSubjectKey, claims.Subject), nil
}

// Unary возвращает unary interceptor сервера
func (i *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if i.isPublic(info.FullMethod) {
			return handler(ctx, req)
		}
		authed, err := i.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(authed, req)
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// Stream возвращает stream interceptor сервера
func (i *AuthInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if i.isPublic(info.FullMethod) {
			return handler(srv, ss)
		}
		authed, err := i.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: authed})
	}
}
