// auth.go - JWT middleware аутентификации.
// Подпись проверяется либо через JWKS (RS256), либо общим секретом (HS256)
// существующего издателя токенов. Идентификатор пользователя берётся из sub,
// при его отсутствии из числового claim id.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/dnasearch/internal/api/errors"
)

// contextKey - тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims - извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"

	contextKeyHolder contextKey = "claims_holder"
)

// AuthClaims - claims, доступные обработчикам.
type AuthClaims struct {
	// Subject - идентификатор пользователя (sub или id)
	Subject string
	Email   string
	// Name - отображаемое имя (claim nombre)
	Name string
}

// tokenClaims - raw claims токена.
type tokenClaims struct {
	jwt.RegisteredClaims
	// UserID - числовой id издателя, если sub не задан
	UserID any    `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	Nombre string `json:"nombre,omitempty"`
}

// subject возвращает sub, а при его отсутствии - id.
func (c *tokenClaims) subject() string {
	if c.Subject != "" {
		return c.Subject
	}
	switch v := c.UserID.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// AuthConfig - параметры проверки токенов.
// Должен быть задан ровно один из JWKSURL и Secret.
type AuthConfig struct {
	JWKSURL         string
	Secret          string
	Issuer          string
	Leeway          time.Duration
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
}

// JWTAuth - middleware для JWT-аутентификации.
type JWTAuth struct {
	jwks    keyfunc.Keyfunc
	secret  []byte
	methods []string
	issuer  string
	leeway  time.Duration
	logger  *slog.Logger
}

// NewJWTAuth создаёт JWT middleware.
// С JWKSURL ключи загружаются и обновляются в фоне; первый запрос к JWKS
// может завершиться ошибкой, сервис при этом всё равно стартует.
func NewJWTAuth(cfg AuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	j := &JWTAuth{
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}

	switch {
	case cfg.JWKSURL != "" && cfg.Secret != "":
		return nil, fmt.Errorf("JWKS URL и секрет HS256 взаимоисключающие")
	case cfg.Secret != "":
		j.secret = []byte(cfg.Secret)
		j.methods = []string{"HS256"}
		return j, nil
	case cfg.JWKSURL == "":
		return nil, fmt.Errorf("не задан ни JWKS URL, ни секрет HS256")
	}

	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: cfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	j.jwks = k
	j.methods = []string{"RS256"}
	return j, nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовым keyfunc (RS256).
// Используется в тестах.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:    kf,
		methods: []string{"RS256"},
		leeway:  5 * time.Second,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			raw := &tokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods(j.methods),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, raw, j.keyfunc(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			subject := raw.subject()
			if subject == "" {
				apierrors.Unauthorized(w, "Отсутствует идентификатор пользователя в токене")
				return
			}

			claims := &AuthClaims{
				Subject: subject,
				Email:   raw.Email,
				Name:    raw.Nombre,
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func (j *JWTAuth) keyfunc(ctx context.Context) jwt.Keyfunc {
	if j.jwks != nil {
		return j.jwks.KeyfuncCtx(ctx)
	}
	return func(*jwt.Token) (any, error) {
		return j.secret, nil
	}
}

// Close освобождает ресурсы JWT middleware.
func (j *JWTAuth) Close() {
	// keyfunc v3 не требует явного закрытия
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// SubjectFromContext извлекает идентификатор пользователя из контекста.
// Возвращает пустую строку, если claims не найдены.
func SubjectFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// WithClaims помещает claims в контекст.
// Если выше по цепочке стоит RequestLogger, claims передаются и ему.
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	if h, ok := ctx.Value(contextKeyHolder).(*claimsHolder); ok {
		h.claims = claims
	}
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// claimsHolder - ячейка для claims, видимая middleware выше JWTAuth.
type claimsHolder struct {
	claims *AuthClaims
}

func withClaimsHolder(ctx context.Context, h *claimsHolder) context.Context {
	return context.WithValue(ctx, contextKeyHolder, h)
}
