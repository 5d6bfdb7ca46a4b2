// Пакет server — HTTP-сервер Sew: chi-роутер, middleware, /metrics,
// запуск и остановка http.Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DevM15/Sew/internal/api/handlers"
	"github.com/DevM15/Sew/internal/api/middleware"
	"github.com/DevM15/Sew/internal/config"
)

// Таймауты http.Server.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 60 * time.Second
	idleTimeout  = 120 * time.Second
)

// Server — HTTP-сервер Sew.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New создаёт сервер с настроенными маршрутами и middleware.
// Порядок middleware: request id, recover, журнал, метрики, CORS.
func New(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, api),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
	}
}

// NewRouter собирает chi-роутер со всеми маршрутами.
func NewRouter(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler) chi.Router {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Metrics())

	if cfg.CORSOrigin != "" {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{cfg.CORSOrigin},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Range"},
			ExposedHeaders:   []string{"Content-Disposition", "Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Handle("/metrics", promhttp.Handler())
	api.Mount(router)

	return router
}

// Start запускает приём соединений в отдельной горутине.
// Ошибка запуска (например, занятый порт) приходит в возвращаемый канал;
// после Shutdown канал закрывается без ошибки.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}()

	return errCh
}

// Shutdown останавливает сервер, дожидаясь завершения активных запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Выполняется graceful shutdown HTTP-сервера...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}
	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
