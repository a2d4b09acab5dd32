package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/enrollment-payments/api"
	"github.com/frahmantamala/enrollment-payments/internal/auth"
	"github.com/frahmantamala/enrollment-payments/internal/enrollment"
	"github.com/frahmantamala/enrollment-payments/internal/payment"
	"github.com/frahmantamala/enrollment-payments/internal/report"
	"github.com/frahmantamala/enrollment-payments/internal/transport/rest"
	"github.com/frahmantamala/enrollment-payments/internal/transport/swagger"
	"github.com/frahmantamala/enrollment-payments/internal/webhook"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server for the payment, enrollment and webhook APIs`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

const accessTokenTTL = 24 * time.Hour

func startHTTPServer() {
	cfg, lg := setup("api")

	if _, err := swagger.Load(context.Background(), api.OpenAPI); err != nil {
		lg.Error("embedded OpenAPI document is invalid", "error", err)
		os.Exit(1)
	}

	app, err := buildApp(cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, buildHandlers(app), rest.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, lg)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	lg.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			lg.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("Server failed to start", "error", err)
			app.Close()
			os.Exit(1)
		}
	}

	app.Close()
	lg.Info("Server stopped")
}

func buildHandlers(app *App) rest.Handlers {
	cfg := app.Config
	lg := app.Logger

	checks := map[string]rest.Pinger{"database": app.SQL}
	if app.Redis != nil {
		checks["redis"] = rest.PingFunc(app.redisPing)
	}

	tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, accessTokenTTL)

	return rest.Handlers{
		Auth:       auth.NewHandler(tokens, lg),
		Payment:    payment.NewHandler(app.Payments, app.Codec, lg),
		Webhook:    webhook.NewHandler(app.Dispatcher, cfg.Webhook.MaxBodyBytes, lg),
		Enrollment: enrollment.NewHandler(app.Enrollment, app.Codec, lg),
		Report:     report.NewHandler(report.NewExporter(report.NewStore(app.DB), app.Codec, lg), lg),
		Health:     rest.NewHealthHandler(checks),
		OpenAPI:    api.OpenAPI,
	}
}
