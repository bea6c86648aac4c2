package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"

	"github.com/coder/retry"
	"github.com/coder/serpent"

	"github.com/Anilsharma012/ekschin/notifyd"
	"github.com/Anilsharma012/ekschin/notifyd/notifstore"
	"github.com/Anilsharma012/ekschin/notifyd/notifstore/notifstorefake"
)

func main() {
	var (
		address     string
		postgresURL string
		verbose     bool
	)
	cmd := serpent.Command{
		Use:   "notifyd",
		Short: "Run the real-time notification server",
		Options: serpent.OptionSet{
			{
				Name:        "address",
				Description: "Address to listen on.",
				Flag:        "address",
				Env:         "NOTIFYD_ADDRESS",
				Default:     "127.0.0.1:3000",
				Value:       serpent.StringOf(&address),
			},
			{
				Name:        "postgres-url",
				Description: "Postgres connection URL for the notification log. Empty runs with a non-durable in-memory store.",
				Flag:        "postgres-url",
				Env:         "NOTIFYD_POSTGRES_URL",
				Value:       serpent.StringOf(&postgresURL),
			},
			{
				Name:          "verbose",
				Description:   "Enable debug logging.",
				Flag:          "verbose",
				FlagShorthand: "v",
				Env:           "NOTIFYD_VERBOSE",
				Value:         serpent.BoolOf(&verbose),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			ctx, stop := signal.NotifyContext(inv.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.Make(sloghuman.Sink(inv.Stderr))
			if verbose {
				logger = logger.Leveled(slog.LevelDebug)
			}

			var store notifstore.Store
			if postgresURL == "" {
				logger.Warn(ctx, "no postgres url configured, notifications will not survive restarts")
				store = notifstorefake.New()
			} else {
				db, err := connectPostgres(ctx, logger, postgresURL)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := notifstore.Migrate(ctx, db); err != nil {
					return err
				}
				store = notifstore.NewPostgres(db)
			}

			api := notifyd.New(&notifyd.Options{
				Logger: logger,
				Store:  store,
			})
			defer api.Close()

			srv := &http.Server{
				Addr:              address,
				Handler:           api,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			logger.Info(ctx, "notification server started", slog.F("address", address))

			select {
			case err := <-errCh:
				return xerrors.Errorf("listen and serve: %w", err)
			case <-ctx.Done():
			}

			logger.Info(ctx, "interrupt caught, shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return xerrors.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}

	err := cmd.Invoke().WithOS().Run()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

// connectPostgres opens the pool and pings until the database is reachable
// or the context ends. Databases routinely come up after the service under
// container orchestration.
func connectPostgres(ctx context.Context, logger slog.Logger, dbURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, xerrors.Errorf("open postgres: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = db.Close()
		}
	}()

	for r := retry.New(50*time.Millisecond, 5*time.Second); r.Wait(ctx); {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			break
		}
		logger.Warn(ctx, "ping postgres", slog.Error(err))
	}
	if err != nil {
		return nil, xerrors.Errorf("ping postgres: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	db.SetMaxOpenConns(10)
	ok = true
	return db, nil
}
