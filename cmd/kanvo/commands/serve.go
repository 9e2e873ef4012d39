package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/priyankagnana/Kanvo/api"
	"github.com/priyankagnana/Kanvo/config"
	"github.com/priyankagnana/Kanvo/domain"
	"github.com/priyankagnana/Kanvo/repair"
	"github.com/priyankagnana/Kanvo/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scope repair worker",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	if err := cfg.ValidateAuth(); err != nil {
		return err
	}

	s := cfg.Storage
	store, err := storage.New(s.ConnectionString, s.BoardsTable, s.SectionsTable, s.TasksTable, s.RepairQueue)
	if err != nil {
		return err
	}
	redisOpts, err := config.ParseRedisOptions(cfg.Redis.ConnectionString)
	if err != nil {
		return err
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("tracer shutdown")
		}
	}()

	reindexer := domain.NewReindexer(store, store)
	boards := domain.NewBoardService(store, reindexer)
	cache := storage.NewCache(boards, rc, cfg.Redis.CacheTTL)
	broker := api.NewUpdateBroker()
	publisher := api.NewRedisPublisher(rc, cfg.Redis.UpdatesChannel)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		ExposeHeaders: []string{"X-Scope-Version", "X-Source-Scope-Version", "Idempotent-Replayed"},
	}))
	e.Use(middleware.Decompress())
	if cfg.Debug {
		pprof.Register(e)
	}

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	api.Register(e, api.Services{
		Boards:   boards,
		Views:    cache,
		Sections: domain.NewSectionService(store),
		Tasks:    domain.NewTaskService(store, reindexer),
		Cache:    cache,
		Deduper:  api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL),
		Updates:  publisher,
		Stream:   broker,
	}, auth, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go broker.Relay(ctx, rc, cfg.Redis.UpdatesChannel)
	worker := repair.NewWorker(store, domain.NewRepairer(store))
	worker.Cache, worker.Updates = cache, publisher
	go worker.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("http shutdown")
		}
	}()

	log.WithField("addr", cfg.ListenAddr).Info("kanvo api listening")
	if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newAuth(cfg config.Auth) (*api.Auth, error) {
	if cfg.LocalMode {
		log.Warn("local auth mode: accepting HS256 tokens signed with the shared secret")
		return api.NewLocalAuth([]byte(cfg.LocalSecret))
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, cfg.Audience, cfg.Issuer(), 0), nil
}
