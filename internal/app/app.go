package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-history/internal/alerting"
	"price-history/internal/config"
	"price-history/internal/events"
	"price-history/internal/service"
	"price-history/internal/storage"
)

var errNoDatabase = errors.New("database.dsn not configured")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errNoDatabase
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}

	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx, a.Logger); err != nil {
			closer()
			return nil, nil, err
		}
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store) (*service.Service, error) {
	return service.New(a.Config, store, store, store, a.newNotifier(), a.Logger)
}

// Run listens for price history events until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.Config.Events.Enabled {
		listener, err := events.NewListener(
			store,
			a.Config.Events.Channel,
			eventHandler{svc: svc},
			a.Config.Events.InitialBackoff,
			a.Config.Events.MaxBackoff,
			a.Logger,
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return listener.Run(gctx) })
	} else {
		a.Logger.Warn().Msg("events disabled; lowest prices only change through CLI commands")
	}

	if addr := a.Config.Metrics.Addr; addr != "" {
		a.serveMetrics(gctx, g, addr)
	}

	a.Logger.Info().
		Str("mode", a.Config.Recompute.Mode).
		Str("timezone", a.Config.Pricing.Timezone).
		Msg("starting price history service")

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price history service stopped")
	return nil
}

func (a *App) serveMetrics(ctx context.Context, g *errgroup.Group, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		a.Logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// RecordPriceOptions describe one price observation given on the command line.
type RecordPriceOptions struct {
	ItemID        int64
	ProductCode   string
	ChannelCode   string
	Price         string
	OriginalPrice string
	LoggedAt      *time.Time
	Publish       bool
}

// SetPeriodOptions configure the set-period command.
type SetPeriodOptions struct {
	Channel string
	Days    int
	Publish bool
}

// PreviewOptions configure the preview command.
type PreviewOptions struct {
	Channel     string
	ProductCode string
	Days        int
}

// ExportOptions hold parameters for exporting an item's price log.
type ExportOptions struct {
	ItemID      int64
	ProductCode string
	ChannelCode string
	From        *time.Time
	To          *time.Time
	PNGPath     string
	CSVPath     string
	MaxPoints   int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Channel string
	Limit   int
}
