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
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/d60-Lab/microblog/internal/api"
	"github.com/d60-Lab/microblog/internal/api/handler"
	"github.com/d60-Lab/microblog/internal/api/middleware"
	"github.com/d60-Lab/microblog/internal/auth"
	"github.com/d60-Lab/microblog/internal/cache"
	"github.com/d60-Lab/microblog/internal/events"
	"github.com/d60-Lab/microblog/internal/mail"
	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/repository"
	"github.com/d60-Lab/microblog/internal/service"
	"github.com/d60-Lab/microblog/pkg/database"
	"github.com/d60-Lab/microblog/pkg/logger"
)

const (
	countsTTL       = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "run database migrations before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	cfg := a.cfg

	if autoMigrate {
		if err := database.Migrate(a.db, model.All()...); err != nil {
			return err
		}
	}

	accounts := repository.NewAccountRepository(a.db)
	follows := repository.NewFollowRepository(a.db)
	posts := repository.NewPostRepository(a.db)
	outbox := repository.NewOutboxRepository(a.db)

	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.ResetTTL)

	dispatcher := mail.NewDispatcher(mail.NewTransport(cfg.Mail), cfg.Mail.QueueSize)
	stopMail := dispatcher.Start(cfg.Mail.Workers)
	if cfg.Mail.Server != "" && cfg.Server.Mode != gin.DebugMode {
		logger.Apply(mail.NewAlertCore(dispatcher, "no-reply@"+cfg.Mail.Server, cfg.Mail.Admins).Hook())
	}

	publisher, err := events.Open(cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer publisher.Close()
	relay := service.NewOutboxRelay(outbox, publisher, cfg.NATS.RelayWorkers, cfg.NATS.RelayBatch, cfg.NATS.RelayInterval)
	stopRelay := relay.Start(ctx)

	accountSvc := service.NewAccountService(service.AccountDeps{
		Accounts:   accounts,
		Follows:    follows,
		Posts:      posts,
		Outbox:     outbox,
		Sync:       a.sync,
		Tokens:     tokens,
		ResetGuard: auth.NewRedisResetGuard(a.redis),
		Mailer:     mail.NewResetMailer(dispatcher, cfg.Mail.Sender, cfg.Server.PublicURL),
		BcryptCost: bcrypt.DefaultCost,
	})
	h := handler.NewHandler(
		accountSvc,
		service.NewPostService(accounts, posts, outbox, a.sync, cfg.Feed.PostsPerPage),
		service.NewFeedAssembler(posts, cfg.Feed.PostsPerPage),
		service.NewRelationshipService(accounts, follows, cache.NewCountCache(a.redis, countsTTL)),
		cfg.Avatar.Style,
	)
	if err := handler.RegisterValidators(); err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(api.Deps{
		Handler:     h,
		Tokens:      tokens,
		Toucher:     accountSvc,
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		DB:          a.db,
		ServiceName: cfg.Tracing.ServiceName,
	})
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if rerr := stopRelay(shutdownCtx); rerr != nil {
			logger.Warn("outbox relay did not stop cleanly", zap.Error(rerr))
		}
		if merr := stopMail(shutdownCtx); merr != nil {
			logger.Warn("mail dispatcher did not drain", zap.Error(merr), zap.Int("queued", dispatcher.QueueLen()))
		}
		return err
	})
	return g.Wait()
}
