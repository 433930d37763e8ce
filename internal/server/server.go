package server

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/config"
	"github.com/medgate/dispatcher/internal/domain/outcome"
	"github.com/medgate/dispatcher/internal/platform/db"
	"github.com/medgate/dispatcher/internal/platform/middleware"
)

// New assembles the echo instance: middleware chain, error mapping, the
// document routes and the health endpoint.
func New(cfg *config.Config, handler *Handler, pool *pgxpool.Pool, broker db.Pinger, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))

	v1 := e.Group("/v1")
	handler.RegisterRoutes(v1)

	e.GET("/healthz", db.HealthHandler(pool, broker))

	return e
}

// errorHandler maps pipeline problems to their transport status and keeps the
// problem-details body stable for unclassified failures.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		// echo's own errors (404, 405, 413 from the body limiter) pass
		// through untranslated.
		if httpErr, ok := err.(*echo.HTTPError); ok {
			_ = c.JSON(httpErr.Code, map[string]interface{}{
				"type":   outcome.TypeGenericError,
				"title":  "Errore generico.",
				"detail": httpErr.Message,
			})
			return
		}

		p := outcome.AsProblem(err)
		if p.HTTPStatus() >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
		}
		_ = c.JSON(p.HTTPStatus(), p)
	}
}

// Start runs the server until ctx is cancelled, then drains in-flight
// requests.
func Start(ctx context.Context, e *echo.Echo, port string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(":" + port)
	}()
	logger.Info().Str("port", port).Msg("server started")

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
