package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/MKhalifi/employee-checkin/internal/app"
	"github.com/MKhalifi/employee-checkin/internal/config"
	"github.com/MKhalifi/employee-checkin/internal/handler"
	"github.com/MKhalifi/employee-checkin/internal/httpmiddleware"
	"github.com/MKhalifi/employee-checkin/internal/identity"
	"github.com/MKhalifi/employee-checkin/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool   `help:"Enable debug logging."`
		EnvFile string `help:"Dotenv file loaded before the environment." default:".env" type:"path"`
		Version kong.VersionFlag
	}
)

func main() {
	kong.Parse(&cli,
		kong.Description("Employee check-in API server."),
		kong.Vars{"version": version},
	)

	cfg, err := config.Load(cli.EnvFile)
	if err != nil {
		logger.Setup(true, cli.Debug)
		log.Fatal().Err(err).Msg("Load configuration failed")
	}
	logger.Setup(!cfg.Production(), cli.Debug)
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close() //nolint:errcheck

	var idp handler.IdentityProvider
	if cfg.OIDCEnabled() {
		p, err := identity.NewProvider(ctx, identity.Config{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			StateKey:     cfg.StateSigningKey,
			StateIssuer:  cfg.StateIssuer,
		})
		if err != nil {
			return err
		}
		idp = p
		log.Info().Str("issuer", cfg.OIDCIssuer).Msg("Identity provider login enabled")
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(deps.Redis.Client, cfg.RateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	h := handler.Deps{
		Service:       deps.Service,
		Queue:         deps.Queue,
		Identity:      idp,
		PublicBaseURL: cfg.PublicBaseURL,
	}
	if deps.Redis != nil {
		h.Redis = deps.Redis
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(log.Logger, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.AllowOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders(cfg.Production()))
	r.Use(httpmiddleware.Middleware(limiter))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.New(h).Register(r, handler.Secrets{Cron: cfg.CronSecret, Admin: cfg.AdminPassword})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced shutdown")
	}
	log.Info().Msg("Server exited")
	return nil
}
