package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"newsdesk/internal/apperr"
	"newsdesk/internal/rbac"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type actorContextKey struct{}

// anonymousContextKey 标记开发模式注入的固定调用方，限流时按 IP 区分。
type anonymousContextKey struct{}

// WithActor 把调用方写入 context。
func WithActor(ctx context.Context, actor rbac.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFrom 从 context 中取出经过鉴权的调用方。
func ActorFrom(ctx context.Context) (rbac.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(rbac.Actor)
	return actor, ok
}

// AuthConfig 描述可用的凭证来源，至少配置一种。
type AuthConfig struct {
	JWTSecret string
	JWKSURL   string
	// 服务间调用的 API Key，持有者视为 ADMIN
	APIKeys []string
}

// Authenticator 校验 Bearer JWT（HMAC 或 JWKS）以及 ApiKey 凭证。
type Authenticator struct {
	secret  []byte
	jwks    *keyfunc.JWKS
	apiKeys map[string]int
	log     zerolog.Logger
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var validMethods = []string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"}

// NewAuthenticator 初始化鉴权器。JWKS 获取失败时只记录警告，此后仅接受 HMAC 与 API Key。
func NewAuthenticator(cfg AuthConfig, log zerolog.Logger) *Authenticator {
	a := &Authenticator{
		secret:  []byte(cfg.JWTSecret),
		apiKeys: make(map[string]int, len(cfg.APIKeys)),
		log:     log.With().Str("component", "auth").Logger(),
	}
	for i, key := range cfg.APIKeys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			a.apiKeys[trimmed] = i + 1
		}
	}

	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				a.log.Error().Err(err).Msg("jwks refresh failed")
			},
		})
		if err != nil {
			a.log.Warn().Err(err).Str("jwks_url", cfg.JWKSURL).Msg("jwks init failed, asymmetric tokens will be rejected")
		} else {
			a.jwks = jwks
			a.log.Info().Str("jwks_url", cfg.JWKSURL).Msg("jwks initialized")
		}
	}
	return a
}

// Close 停止 JWKS 后台刷新。
func (a *Authenticator) Close() {
	if a != nil && a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// Middleware 接受 "Bearer <jwt>" 或 "ApiKey <token>"，成功后将 rbac.Actor 写入 context。
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeUnauthorized(w, "missing Authorization header")
			return
		}

		scheme, credential, _ := strings.Cut(header, " ")
		credential = strings.TrimSpace(credential)
		if credential == "" {
			writeUnauthorized(w, "empty credential")
			return
		}

		var (
			actor rbac.Actor
			err   error
		)
		switch strings.ToLower(scheme) {
		case "bearer":
			actor, err = a.verifyToken(credential)
		case "apikey":
			actor, err = a.verifyAPIKey(credential)
		default:
			writeUnauthorized(w, "invalid Authorization format, expected: Bearer <token> or ApiKey <token>")
			return
		}
		if err != nil {
			a.log.Debug().Err(err).Str("scheme", scheme).Msg("authentication failed")
			if apperr.Is(err, apperr.KindAuthorization) {
				writeError(w, err)
				return
			}
			writeUnauthorized(w, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func (a *Authenticator) verifyAPIKey(key string) (rbac.Actor, error) {
	idx, ok := a.apiKeys[key]
	if !ok {
		return rbac.Actor{}, errors.New("invalid API key")
	}
	return rbac.Actor{
		ID:   fmt.Sprintf("service-%d", idx),
		Name: "service account",
		Role: rbac.RoleAdmin,
	}, nil
}

func (a *Authenticator) verifyToken(raw string) (rbac.Actor, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, a.keyFor, jwt.WithValidMethods(validMethods))
	if err != nil || !token.Valid {
		return rbac.Actor{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return rbac.Actor{}, errors.New("token has no subject")
	}
	role, err := rbac.ParseRole(claims.Role)
	if err != nil {
		return rbac.Actor{}, apperr.Authorization("token carries no recognised role")
	}
	return rbac.Actor{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
		Role:  role,
	}, nil
}

func (a *Authenticator) keyFor(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(a.secret) == 0 {
			return nil, errors.New("hmac tokens are not accepted")
		}
		return a.secret, nil
	}
	if a.jwks == nil {
		return nil, errors.New("no key set for asymmetric tokens")
	}
	return a.jwks.Keyfunc(token)
}

// Anonymous 在关闭鉴权的开发模式下注入固定调用方。
func Anonymous(actor rbac.Actor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(WithActor(r.Context(), actor), anonymousContextKey{}, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission 要求调用方至少持有其中一个权限。
func RequirePermission(perms ...rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				writeUnauthorized(w, "authentication required")
				return
			}
			if !rbac.HasAnyPermission(actor.Role, perms...) {
				writeError(w, apperr.Authorization("role %s lacks permission %s", actor.Role, joinPermissions(perms)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func joinPermissions(perms []rbac.Permission) string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return strings.Join(names, " or ")
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Message: message, Code: code})
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		writeJSONError(w, appErr.HTTPStatus(), string(appErr.Kind), appErr.Message)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, string(apperr.KindInternal), err.Error())
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="newsdesk"`)
	writeJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", message)
}
