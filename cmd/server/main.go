package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/vetchat/internal/api"
	"github.com/npezzotti/vetchat/internal/config"
	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/identity"
	"github.com/npezzotti/vetchat/internal/mailer"
	"github.com/npezzotti/vetchat/internal/messaging"
	"github.com/npezzotti/vetchat/internal/server"
	"github.com/npezzotti/vetchat/internal/stats"
	"github.com/redis/go-redis/v9"
)

// stringSliceFlag collects comma-separated values. The first use on the
// command line replaces the default taken from the environment.
type stringSliceFlag struct {
	values   []string
	replaced bool
}

func (s *stringSliceFlag) String() string {
	return strings.Join(s.values, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	if !s.replaced {
		s.values = nil
		s.replaced = true
	}
	s.values = append(s.values, strings.Split(value, ",")...)
	return nil
}

func openRepository(logger *log.Logger, cfg *config.Config) (database.VetChatRepository, func() error, error) {
	if cfg.Store == config.StoreMemory {
		logger.Println("using in-memory store, data will not survive a restart")
		return database.NewMemoryVetChatRepository(), func() error { return nil }, nil
	}

	db, err := database.NewPgVetChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db open: %w", err)
	}

	if cfg.Migrate {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return db, db.Close, nil
}

func main() {
	logger := log.New(os.Stderr, "[vetchat] ", log.LstdFlags)

	params, err := config.LoadParams(".env")
	if err != nil {
		logger.Fatal("env:", err)
	}

	allowedOrigins := &stringSliceFlag{values: params.AllowedOrigins}

	flag.StringVar(&params.ServerAddr, "addr", params.ServerAddr, "server address")
	flag.StringVar(&params.DatabaseDSN, "dsn", params.DatabaseDSN, "database connection string")
	flag.StringVar(&params.SigningKey, "signing-key", params.SigningKey, "base64 encoded signing key")
	flag.Var(allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&params.Store, "store", params.Store, "message store: memory or postgres")
	flag.BoolVar(&params.Migrate, "migrate", params.Migrate, "apply database migrations on startup")
	flag.StringVar(&params.RedisAddr, "redis-addr", params.RedisAddr, "redis address for fan-out across processes")
	flag.DurationVar(&params.StoreTimeout, "store-timeout", params.StoreTimeout, "timeout for store and identity calls")
	flag.DurationVar(&params.MailTimeout, "mail-timeout", params.MailTimeout, "timeout for sending one email")
	flag.StringVar(&params.SMTPHost, "smtp-host", params.SMTPHost, "SMTP relay host, emails are only logged when empty")
	flag.IntVar(&params.SMTPPort, "smtp-port", params.SMTPPort, "SMTP relay port")
	flag.StringVar(&params.MailFrom, "mail-from", params.MailFrom, "sender address for outgoing email")
	flag.Parse()

	params.AllowedOrigins = allowedOrigins.values

	cfg, err := config.NewConfig(params)
	if err != nil {
		logger.Fatal("config:", err)
	}

	repo, closeRepo, err := openRepository(logger, cfg)
	if err != nil {
		logger.Fatal(err)
	}
	defer func() {
		if err := closeRepo(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()

	registry := server.NewRegistry(logger, statsUpdater)

	var (
		pub    server.Publisher = registry
		broker *server.RedisBroker
		rdb    *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		broker = server.NewRedisBroker(logger, rdb, registry)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
		err := broker.Start(ctx)
		cancel()
		if err != nil {
			logger.Fatal("redis broker:", err)
		}
		logger.Printf("fanning out events through redis at %s\n", cfg.RedisAddr)
		pub = broker
	}

	dispatcher := server.NewDispatcher(logger, pub)
	dir := identity.NewDirectory(logger, repo, cfg.SigningKey, cfg.StoreTimeout)

	var m mailer.Mailer = mailer.NewLogMailer(logger)
	if cfg.MailEnabled() {
		m = mailer.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}

	messages := messaging.NewMessageService(logger, repo, dispatcher, statsUpdater, cfg.StoreTimeout)
	notifications := messaging.NewNotificationService(logger, repo, dispatcher, statsUpdater, cfg.StoreTimeout)
	consultations := messaging.NewConsultationService(logger, repo, dir, notifications, m, cfg.StoreTimeout, cfg.MailTimeout)

	chatServer := server.NewChatServer(logger, pub, dir, messages, statsUpdater, cfg.AllowedOrigins)

	srv := api.NewVetChatApp(mux, logger, chatServer, repo, api.Services{
		Identity:      dir,
		Messages:      messages,
		Notifications: notifications,
		Consultations: consultations,
	}, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	consultations.Wait()

	if broker != nil {
		if err := broker.Close(); err != nil {
			logger.Println("redis broker close:", err)
		}
		rdb.Close()
	}

	statsUpdater.Stop()

	logger.Println("shutdown complete")
}
