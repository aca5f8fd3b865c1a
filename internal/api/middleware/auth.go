// auth.go — проверка bearer JWT, выданных внешним Identity Provider.
// Подпись проверяется по JWKS провайдера; группы пользователя
// отображаются в роли admin/readonly, у сервисных аккаунтов
// права задаются scopes files:read/files:write.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/acervo-module/internal/api/errors"
)

type contextKey string

// ContextKeyClaims — ключ claims в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// SubjectType — тип субъекта токена.
type SubjectType string

const (
	SubjectTypeUser SubjectType = "user"
	SubjectTypeSA   SubjectType = "service_account"
)

// Роли пользователей.
const (
	RoleReadonly = "readonly"
	RoleAdmin    = "admin"
)

// Scopes сервисных аккаунтов.
const (
	ScopeFilesRead  = "files:read"
	ScopeFilesWrite = "files:write"
)

var roleWeight = map[string]int{
	RoleReadonly: 1,
	RoleAdmin:    2,
}

// AuthClaims — claims запроса после проверки токена.
type AuthClaims struct {
	Subject           string
	SubjectType       SubjectType
	PreferredUsername string
	ClientID          string
	Groups            []string
	// Role — итоговая роль пользователя (admin, readonly или пусто)
	Role   string
	Scopes []string
}

// Usuario — имя, которым помечаются записи реестра и журнала.
func (c *AuthClaims) Usuario() string {
	switch {
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.ClientID != "":
		return c.ClientID
	}
	return c.Subject
}

// HasAnyRole проверяет роль пользователя.
func (c *AuthClaims) HasAnyRole(roles ...string) bool {
	return c.Role != "" && slices.Contains(roles, c.Role)
}

// HasAnyScope проверяет наличие хотя бы одного scope.
func (c *AuthClaims) HasAnyScope(scopes ...string) bool {
	for _, s := range scopes {
		if slices.Contains(c.Scopes, s) {
			return true
		}
	}
	return false
}

type idpClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
	Groups            []string     `json:"groups,omitempty"`
	Scope             string       `json:"scope,omitempty"`
	ClientID          string       `json:"client_id,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware аутентификации по JWKS.
type JWTAuth struct {
	jwks           keyfunc.Keyfunc
	logger         *slog.Logger
	adminGroups    []string
	readonlyGroups []string
	issuer         string
	leeway         time.Duration
}

// NewJWTAuth создаёт middleware с JWKS, загружаемым по jwksURL
// с фоновым обновлением. caCertPath и issuer необязательны.
func NewJWTAuth(
	jwksURL, caCertPath, issuer string,
	adminGroups, readonlyGroups []string,
	clientTimeout, refreshInterval, leeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: clientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, clientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// Стартуем, даже если провайдер ещё недоступен: ключи подтянутся при обновлении.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
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

	a := NewJWTAuthWithKeyfunc(k, issuer, adminGroups, readonlyGroups, logger)
	a.leeway = leeway
	return a, nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовым keyfunc.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	adminGroups, readonlyGroups []string,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:           kf,
		logger:         logger.With(slog.String("component", "jwt_auth")),
		adminGroups:    adminGroups,
		readonlyGroups: readonlyGroups,
		issuer:         issuer,
	}
}

func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("в файле нет PEM-сертификатов")
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		},
	}, nil
}

// Middleware проверяет Bearer token (RS256) и кладёт AuthClaims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			tokenString = strings.TrimSpace(tokenString)
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			raw := &idpClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if raw.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			claims := j.buildClaims(raw)
			noteUsuario(r.Context(), claims.Usuario())
			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildClaims определяет тип субъекта: у сервисного аккаунта есть
// client_id и scope, у пользователя — группы.
func (j *JWTAuth) buildClaims(raw *idpClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		PreferredUsername: raw.PreferredUsername,
	}

	if raw.ClientID != "" && raw.Scope != "" {
		claims.SubjectType = SubjectTypeSA
		claims.ClientID = raw.ClientID
		claims.Scopes = strings.Fields(raw.Scope)
		return claims
	}

	claims.SubjectType = SubjectTypeUser
	claims.Groups = raw.Groups
	claims.Role = mapGroupsToRole(raw.Groups, j.adminGroups, j.readonlyGroups)

	// Группы не дали роли — пробуем realm_access.roles
	if claims.Role == "" && raw.RealmAccess != nil {
		var known []string
		for _, r := range raw.RealmAccess.Roles {
			if _, ok := roleWeight[r]; ok {
				known = append(known, r)
			}
		}
		claims.Role = highestRole(known)
	}
	return claims
}

func mapGroupsToRole(groups, adminGroups, readonlyGroups []string) string {
	var roles []string
	for _, g := range groups {
		if slices.Contains(adminGroups, g) {
			roles = append(roles, RoleAdmin)
		}
		if slices.Contains(readonlyGroups, g) {
			roles = append(roles, RoleReadonly)
		}
	}
	return highestRole(roles)
}

func highestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		if roleWeight[r] > roleWeight[highest] {
			highest = r
		}
	}
	return highest
}

// ScopesFunc возвращает scopes, которых требует операция запроса.
// Пустой результат — операция публичная.
type ScopesFunc func(ctx context.Context) []string

// Protect применяет проверку токена и прав только к операциям,
// для которых required возвращает scopes.
func (j *JWTAuth) Protect(required ScopesFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		secured := j.Middleware()(RequireScopes(required)(next))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required(r.Context())) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			secured.ServeHTTP(w, r)
		})
	}
}

// RequireScopes проверяет права субъекта на операцию.
// files:read доступен ролям admin и readonly, files:write — только admin.
// Сервисному аккаунту со scope files:write доступно и чтение.
// Ставится после JWTAuth.Middleware().
func RequireScopes(required ScopesFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes := required(r.Context())
			if len(scopes) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !accessAllowed(claims, scopes) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется %s", strings.Join(scopes, " или ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessAllowed(c *AuthClaims, required []string) bool {
	for _, s := range required {
		switch s {
		case ScopeFilesRead:
			if c.HasAnyRole(RoleAdmin, RoleReadonly) || c.HasAnyScope(ScopeFilesRead, ScopeFilesWrite) {
				return true
			}
		case ScopeFilesWrite:
			if c.HasAnyRole(RoleAdmin) || c.HasAnyScope(ScopeFilesWrite) {
				return true
			}
		}
	}
	return false
}

// ClaimsFromContext извлекает AuthClaims. nil, если запрос не аутентифицирован.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// UsuarioFromContext возвращает имя субъекта запроса или пустую строку.
func UsuarioFromContext(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.Usuario()
	}
	return ""
}

// WithClaims кладёт claims в контекст; используется в тестах обработчиков.
func WithClaims(ctx context.Context, c *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, c)
}
