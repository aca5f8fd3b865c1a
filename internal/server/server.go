// Пакет server — HTTP-сервер Acervo Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"github.com/bigkaa/goartstore/acervo-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/acervo-module/internal/config"
)

// tileSuffix — суффикс путей векторных тайлов.
const tileSuffix = ".mvt"

// Server — HTTP-сервер Acervo Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// Options — middleware сервера.
type Options struct {
	// Middlewares применяются ко всем запросам роутера (metrics, logging).
	Middlewares []func(http.Handler) http.Handler
	// OperationMiddlewares применяются к операциям после разбора параметров
	// (JWT, проверка по контракту), в порядке среза.
	OperationMiddlewares []openapi.MiddlewareFunc
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// handler — реализация openapi.ServerInterface (APIHandler).
func New(cfg *config.Config, logger *slog.Logger, handler openapi.ServerInterface, opts Options) (*Server, error) {
	router := chi.NewRouter()

	for _, mw := range opts.Middlewares {
		router.Use(mw)
	}

	gzipTiles, err := TileCompression()
	if err != nil {
		return nil, err
	}
	router.Use(gzipTiles)

	openapi.HandlerWithOptions(handler, openapi.ChiServerOptions{
		BaseRouter:  router,
		Middlewares: opts.OperationMiddlewares,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}, nil
}

// TileCompression возвращает middleware gzip для ответов с тайлами.
// Остальные пути проходят без сжатия.
func TileCompression() (func(http.Handler) http.Handler, error) {
	wrapper, err := gzhttp.NewWrapper(
		gzhttp.MinSize(256),
		gzhttp.ContentTypes([]string{"application/x-protobuf"}),
	)
	if err != nil {
		return nil, fmt.Errorf("настройка gzip: %w", err)
	}
	return OnlyForSuffix(func(next http.Handler) http.Handler { return wrapper(next) }, tileSuffix), nil
}

// OnlyForSuffix применяет middleware только к путям с указанным суффиксом.
func OnlyForSuffix(mw func(http.Handler) http.Handler, suffix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, suffix) {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handler возвращает корневой обработчик (для тестов).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
