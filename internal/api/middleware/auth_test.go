package middleware

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID  = "test-key-ac"
	testIssuer = "https://idp.test/realms/acervo"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth с JWKS в памяти.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()

	jwk, err := jwkset.NewJWKFromKey(&key.PublicKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			ALG: jwkset.AlgRS256,
			KID: testKeyID,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		t.Fatalf("создание JWK: %v", err)
	}
	storage := jwkset.NewMemoryStorage()
	if err := storage.KeyWrite(context.Background(), jwk); err != nil {
		t.Fatalf("запись JWK: %v", err)
	}
	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		t.Fatalf("создание keyfunc: %v", err)
	}

	return NewJWTAuthWithKeyfunc(kf, testIssuer,
		[]string{"acervo-admins"}, []string{"acervo-viewers"}, testLogger())
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = testIssuer
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func userToken(t *testing.T, key *rsa.PrivateKey, username string, groups ...string) string {
	t.Helper()
	return signToken(t, key, jwt.MapClaims{
		"sub":                "user-" + username,
		"preferred_username": username,
		"groups":             groups,
	})
}

func saToken(t *testing.T, key *rsa.PrivateKey, clientID, scope string) string {
	t.Helper()
	return signToken(t, key, jwt.MapClaims{
		"sub":       "sa-" + clientID,
		"client_id": clientID,
		"scope":     scope,
	})
}

func doRequest(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth_UserClaims(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := doRequest(h, userToken(t, key, "maria", "outros", "acervo-viewers", "acervo-admins"))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	if got == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if got.SubjectType != SubjectTypeUser {
		t.Errorf("SubjectType = %s", got.SubjectType)
	}
	if got.Role != RoleAdmin {
		t.Errorf("Role = %q, ожидалась старшая роль admin", got.Role)
	}
	if got.Usuario() != "maria" {
		t.Errorf("Usuario() = %q", got.Usuario())
	}
}

func TestJWTAuth_RealmRolesFallback(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
	}))

	token := signToken(t, key, jwt.MapClaims{
		"sub":          "user-joao",
		"realm_access": map[string]any{"roles": []string{"offline_access", "readonly"}},
	})
	if rec := doRequest(h, token); rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if got.Role != RoleReadonly {
		t.Errorf("Role = %q, ожидалась readonly", got.Role)
	}
	if got.Usuario() != "user-joao" {
		t.Errorf("Usuario() = %q, ожидался sub", got.Usuario())
	}
}

func TestJWTAuth_ServiceAccount(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
	}))

	if rec := doRequest(h, saToken(t, key, "ingest", "openid files:write")); rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if got.SubjectType != SubjectTypeSA {
		t.Errorf("SubjectType = %s", got.SubjectType)
	}
	if !got.HasAnyScope(ScopeFilesWrite) || got.HasAnyScope(ScopeFilesRead) {
		t.Errorf("Scopes = %v", got.Scopes)
	}
	if got.Usuario() != "ingest" {
		t.Errorf("Usuario() = %q", got.Usuario())
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("обработчик не должен вызываться")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"без заголовка", ""},
		{"basic", "Basic dXNlcjpwYXNz"},
		{"без схемы", "token123"},
		{"пустой bearer", "Bearer "},
		{"просрочен", "Bearer " + signToken(t, key, jwt.MapClaims{
			"sub": "u", "exp": jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})},
		{"чужой issuer", "Bearer " + signToken(t, key, jwt.MapClaims{"sub": "u", "iss": "https://evil.test"})},
		{"чужой ключ", "Bearer " + signToken(t, other, jwt.MapClaims{"sub": "u"})},
		{"без sub", "Bearer " + signToken(t, key, jwt.MapClaims{"preferred_username": "x"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("статус = %d, ожидался 401", rec.Code)
			}
		})
	}
}

// scopesOf возвращает ScopesFunc с фиксированным набором.
func scopesOf(scopes ...string) ScopesFunc {
	return func(context.Context) []string { return scopes }
}

func TestRequireScopes(t *testing.T) {
	tests := []struct {
		name     string
		claims   *AuthClaims
		required []string
		want     int
	}{
		{"admin пишет", &AuthClaims{SubjectType: SubjectTypeUser, Role: RoleAdmin}, []string{ScopeFilesWrite}, http.StatusOK},
		{"readonly читает", &AuthClaims{SubjectType: SubjectTypeUser, Role: RoleReadonly}, []string{ScopeFilesRead}, http.StatusOK},
		{"readonly не пишет", &AuthClaims{SubjectType: SubjectTypeUser, Role: RoleReadonly}, []string{ScopeFilesWrite}, http.StatusForbidden},
		{"без роли", &AuthClaims{SubjectType: SubjectTypeUser}, []string{ScopeFilesRead}, http.StatusForbidden},
		{"SA write читает", &AuthClaims{SubjectType: SubjectTypeSA, Scopes: []string{ScopeFilesWrite}}, []string{ScopeFilesRead}, http.StatusOK},
		{"SA read не пишет", &AuthClaims{SubjectType: SubjectTypeSA, Scopes: []string{ScopeFilesRead}}, []string{ScopeFilesWrite}, http.StatusForbidden},
		{"публичная операция", nil, nil, http.StatusOK},
		{"нет claims", nil, []string{ScopeFilesRead}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireScopes(scopesOf(tt.required...))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.want)
			}
		})
	}
}

func TestProtect_PublicOperationSkipsToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	if rec := doRequest(auth.Protect(scopesOf())(ok), ""); rec.Code != http.StatusNoContent {
		t.Errorf("публичная операция: статус = %d", rec.Code)
	}
	if rec := doRequest(auth.Protect(scopesOf(ScopeFilesRead))(ok), ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("защищённая операция без токена: статус = %d", rec.Code)
	}
	token := userToken(t, key, "ana", "acervo-viewers")
	if rec := doRequest(auth.Protect(scopesOf(ScopeFilesRead))(ok), token); rec.Code != http.StatusNoContent {
		t.Errorf("readonly на чтение: статус = %d", rec.Code)
	}
	if rec := doRequest(auth.Protect(scopesOf(ScopeFilesWrite))(ok), token); rec.Code != http.StatusForbidden {
		t.Errorf("readonly на запись: статус = %d", rec.Code)
	}
}

func TestRequestLogger_RouteAndUsuario(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(RequestLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	r.With(auth.Middleware()).Get("/api/v1/files/{arquivo_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/42", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, key, "joana", "acervo-viewers"))
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "route=/api/v1/files/{arquivo_id}") {
		t.Errorf("нет шаблона маршрута: %q", out)
	}
	if !strings.Contains(out, "usuario=joana") {
		t.Errorf("нет субъекта токена: %q", out)
	}

	// без токена субъект не пишется
	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/files/42", nil))
	out = buf.String()
	if strings.Contains(out, "usuario=") || !strings.Contains(out, "status=401") {
		t.Errorf("запись без токена: %q", out)
	}
}
