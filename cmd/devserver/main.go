package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pliu/courier/internal/devserver"
	"github.com/pliu/courier/internal/logging"
)

var (
	addr      = flag.String("addr", ":8080", "http service address")
	dbPath    = flag.String("db", "courier-dev.db", "sqlite database path")
	demoEmail = flag.String("demo-email", "demo@x.com", "identity the external-provider stub logs in as")
	debug     = flag.Bool("debug", false, "debug logging")
	seed      = flag.Bool("seed", false, "create a few demo users on startup")
)

func main() {
	godotenv.Load()
	flag.Parse()

	logger, err := logging.New(*debug)
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := devserver.NewStore(*dbPath)
	if err != nil {
		logger.Fatal("opening store", zap.String("db", *dbPath), zap.Error(err))
	}
	defer store.Close()

	if *seed {
		seedUsers(store, logger)
	}

	srv := devserver.New(store, logger, devserver.Options{DemoEmail: *demoEmail})
	httpSrv := &http.Server{Addr: *addr, Handler: srv.Router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("devserver listening", zap.String("addr", *addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("devserver exited", zap.Error(err))
	}
}

func seedUsers(store *devserver.Store, logger *zap.Logger) {
	for _, u := range []struct{ email, username string }{
		{"demo@x.com", "demo"},
		{"alice@x.com", "alice"},
		{"bob@x.com", "bob"},
	} {
		if _, err := store.CreateUser(u.email, u.username, "password"); err != nil {
			// Already seeded on a previous run.
			logger.Debug("seed user exists", zap.String("email", u.email))
		}
	}
}
