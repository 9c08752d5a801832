package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	app "github.com/mark3748/jobdesk-go/cmd/api/app"
	authpkg "github.com/mark3748/jobdesk-go/cmd/api/auth"
	customerspkg "github.com/mark3748/jobdesk-go/cmd/api/customers"
	eventspkg "github.com/mark3748/jobdesk-go/cmd/api/events"
	exportspkg "github.com/mark3748/jobdesk-go/cmd/api/exports"
	jobspkg "github.com/mark3748/jobdesk-go/cmd/api/jobs"
	metrics "github.com/mark3748/jobdesk-go/cmd/api/metrics"
	"github.com/mark3748/jobdesk-go/cmd/api/migrations"
	productspkg "github.com/mark3748/jobdesk-go/cmd/api/products"
	"github.com/mark3748/jobdesk-go/cmd/api/ws"
	"github.com/mark3748/jobdesk-go/internal/catalog"
	"github.com/mark3748/jobdesk-go/internal/jobs"
	"github.com/mark3748/jobdesk-go/internal/ratelimit"
	"github.com/mark3748/jobdesk-go/internal/s3"
	"github.com/mark3748/jobdesk-go/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := app.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open store")
	}
	defer conn.Close()
	if conn.SQL != nil {
		if err := migrations.Apply(ctx, conn.SQL, conn.Driver); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
	}

	keyf, err := keyfunc(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("jwks_url", cfg.JWKSURL).Msg("jwks")
	}

	// Redis client (optional)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	coord := jobs.NewCoordinator(conn,
		jobs.WithTimeout(cfg.TxTimeout),
		jobs.WithNotifier(eventspkg.NewPublisher(rdb)),
	)
	cat := catalog.NewService(conn, cfg.TxTimeout)
	if err := seedAdmin(ctx, cat, app.GetEnv("ADMIN_PASSWORD", "")); err != nil {
		log.Error().Err(err).Msg("seed admin")
	}

	a := app.NewApp(cfg, coord, cat, keyf, rdb)
	a.Ping = conn.Ping
	if cfg.MinIOEndpoint != "" {
		a.Images, err = s3.New(cfg.MinIOEndpoint, cfg.MinIOAccess, cfg.MinIOSecret, cfg.MinIOBucket, cfg.MinIOUseSSL, cfg.ImageURLTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("object storage")
		}
	}
	hub := ws.NewHub(rdb)
	go hub.Run(ctx)
	routes(a, hub, ratelimit.New(rdb, cfg.LoginRateLimit, time.Minute, "login:"))

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()
	log.Info().Str("addr", cfg.Addr).Str("driver", cfg.DBDriver).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}

// keyfunc combines the local HS256 secret with the remote JWKS, when set.
func keyfunc(ctx context.Context, cfg app.Config) (jwt.Keyfunc, error) {
	var remote jwt.Keyfunc
	if cfg.JWKSURL != "" {
		var err error
		remote, err = authpkg.JWKSKeyfunc(ctx, cfg.JWKSURL, 10*time.Minute)
		if err != nil {
			return nil, err
		}
	}
	return authpkg.Keyfunc(cfg.AuthLocalSecret, remote), nil
}

// seedAdmin creates the admin service account on first start when a password
// is configured.
func seedAdmin(ctx context.Context, cat *catalog.Service, password string) error {
	if password == "" {
		return nil
	}
	_, err := cat.Register(ctx, catalog.RegisterInput{
		ServiceRef: "admin",
		Email:      "admin@example.com",
		Password:   password,
		Role:       "admin",
	})
	if errors.Is(err, jobs.ErrConflict) {
		return nil
	}
	if err == nil {
		log.Info().Str("service_ref", "admin").Msg("seeded admin service account")
	}
	return err
}

func routes(a *app.App, hub *ws.Hub, login *ratelimit.Limiter) {
	a.R.GET("/healthz", health(a))
	a.R.GET("/metrics", metrics.Handler())
	a.R.POST("/auth/login", app.Limit(login, func(c *gin.Context) string { return c.ClientIP() }, "login"), authpkg.Login(a))

	auth := a.R.Group("/")
	auth.Use(authpkg.Middleware(a))
	auth.GET("/me", authpkg.Me)
	auth.POST("/auth/register", authpkg.RequireRole("admin"), authpkg.Register(a))

	auth.GET("/jobs", jobspkg.List(a))
	auth.GET("/jobs/status/:status", jobspkg.ListByStatus(a))
	auth.POST("/jobs", jobspkg.Create(a))
	auth.GET("/jobs/:jobRef", jobspkg.Get(a))
	auth.GET("/jobs/:jobRef/history", jobspkg.History(a))
	auth.GET("/jobs/:jobRef/actions", jobspkg.Actions(a))
	auth.PUT("/jobs/:jobRef/status", jobspkg.UpdateStatus(a))
	auth.PUT("/jobs/:jobRef/remark", jobspkg.UpdateRemark(a))
	auth.DELETE("/jobs/:jobRef", authpkg.RequireRole("manager"), jobspkg.Delete(a))
	auth.POST("/jobs/:jobRef/images/upload-url", jobspkg.ImageUploadURL(a))

	auth.GET("/customers", customerspkg.List(a))
	auth.POST("/customers", customerspkg.Create(a))
	auth.PUT("/customers/:customerRef", customerspkg.Update(a))
	auth.GET("/products", productspkg.List(a))
	auth.POST("/products", productspkg.Create(a))
	auth.PUT("/products/:productRef", productspkg.Update(a))
	auth.GET("/categories", productspkg.ListCategories(a))
	auth.POST("/categories", productspkg.CreateCategory(a))

	auth.GET("/exports/jobs", exportspkg.Jobs(a))
	auth.GET("/exports/jobs/:jobRef/history", exportspkg.History(a))

	auth.GET("/events", eventspkg.Stream(a.Q))
	auth.GET("/ws", ws.Handler(hub))
}

func health(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := a.Ping(ctx); err != nil {
				c.Set("app_cause", err)
				app.AbortError(c, http.StatusServiceUnavailable, "store_unavailable", "store unavailable", nil)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
