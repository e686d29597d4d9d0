package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/Dhoini/numgate/pkg/res"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey ключ значений, которые слои авторизации кладут в контекст запроса
type ContextKey string

const (
	// ContextSubjectKey хранит subject проверенного токена
	ContextSubjectKey ContextKey = "subject"

	// ScopeAdmin дает доступ к admin API
	ScopeAdmin = "admin"

	authHeaderPrefix = "Bearer "
)

// TokenValidator проверяет bearer токен
type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims claims операторского токена
type TokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTMiddleware защищает HTTP маршруты bearer токенами
type JWTMiddleware struct {
	log       *logger.Logger
	validator TokenValidator
}

// NewJWTMiddleware создает новый middleware
func NewJWTMiddleware(log *logger.Logger, validator TokenValidator) *JWTMiddleware {
	return &JWTMiddleware{
		log:       log,
		validator: validator,
	}
}

// RequireAuth отклоняет запросы без валидного токена с одним из requiredScopes
func (m *JWTMiddleware) RequireAuth(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, authHeaderPrefix) {
			m.handleAuthError(c, "missing authorization token")
			return
		}

		claims, err := m.validator.Validate(strings.TrimPrefix(authHeader, authHeaderPrefix))
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("token validation failed: %v", err))
			return
		}
		if !HasScope(claims.Scope, requiredScopes) {
			m.handleAuthError(c, "insufficient token permissions")
			return
		}
		if claims.Subject == "" {
			m.handleAuthError(c, "subject missing in token")
			return
		}

		c.Set(string(ContextSubjectKey), claims.Subject)
		m.log.Debugw("Request authenticated", "subject", claims.Subject, "path", c.FullPath())
		c.Next()
	}
}

// HasScope проверяет, удовлетворяет ли tokenScope списку required. Scopes в
// токене разделены пробелами, пустой required принимает любой токен.
func HasScope(tokenScope string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	granted := strings.Fields(tokenScope)
	for _, want := range required {
		for _, have := range granted {
			if have == want {
				return true
			}
		}
	}
	return false
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string) {
	m.log.Warnw("HTTP authentication failed", "path", c.Request.URL.Path, "error", message)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     message,
		ErrorCode: http.StatusUnauthorized,
	}, http.StatusUnauthorized)
	c.Abort()
}

// DefaultTokenValidator проверяет токены, подписанные HMAC
type DefaultTokenValidator struct {
	Secret []byte
}

func (v *DefaultTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	if len(v.Secret) == 0 {
		return nil, errors.New("token auth disabled")
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errors.New("malformed token")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.New("invalid token signature")
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, errors.New("token expired")
		default:
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}

// IssueToken подписывает операторский токен для subject, используется утилитами
// и тестами
func IssueToken(secret []byte, subject, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
