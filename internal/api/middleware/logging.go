// logging.go — журнал HTTP-запросов Acervo через slog.
// Запись содержит шаблон маршрута chi и субъекта токена: JWT-проверка
// выполняется глубже по цепочке и отмечает субъекта в requestInfo.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder перехватывает статус и размер ответа.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap открывает исходный ResponseWriter для http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

type requestInfoKey struct{}

// requestInfo — сведения, которые внутренние middleware оставляют
// для журнала запроса.
type requestInfo struct {
	usuario string
}

// noteUsuario отмечает субъекта запроса для журнала.
// Без RequestLogger в цепочке ничего не делает.
func noteUsuario(ctx context.Context, usuario string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.usuario = usuario
	}
}

// RequestLogger логирует каждый запрос. Уровень зависит от статуса:
// INFO для 1xx-3xx, WARN для 4xx, ERROR для 5xx.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newStatusRecorder(w)
			info := &requestInfo{}
			r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", routePattern(r)),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			}
			if info.usuario != "" {
				attrs = append(attrs, slog.String("usuario", info.usuario))
			}
			attrs = append(attrs, slog.String("remote_addr", r.RemoteAddr))

			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
