package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/signon/internal/eventbus"
	httpapi "github.com/aussiebroadwan/signon/internal/http"
	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/identity/bartab"
	"github.com/aussiebroadwan/signon/internal/metrics"
	"github.com/aussiebroadwan/signon/internal/profile"
	"github.com/aussiebroadwan/signon/internal/session"
	"github.com/aussiebroadwan/signon/internal/store"
	"github.com/aussiebroadwan/signon/internal/tokencache"
	"github.com/aussiebroadwan/signon/internal/userinfo"
	"github.com/aussiebroadwan/signon/pkg/cryptox"
	"github.com/aussiebroadwan/signon/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Options carries what the command line adds to Config.
type Options struct {
	// Opener shows authorize URLs to the user.
	Opener bartab.Opener

	// CallbackURL completes a redirect-mode login on start.
	CallbackURL string

	// Logger overrides the logger built from Config.
	Logger *slog.Logger
}

// Application wires the session orchestrator and everything it drives.
type Application struct {
	cfg    Config
	logger *slog.Logger

	stopTracing func(context.Context) error

	// Core dependencies
	store    store.Store
	provider *bartab.Provider
	identity *identity.Adapter
	tokens   *tokencache.Cache
	profiles *profile.Cache
	bus      *eventbus.Bus
	session  *session.Orchestrator
	userinfo *userinfo.Client
	events   *eventbus.Subscription

	// Debug HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized. Nothing
// talks to the identity provider until Run or Session().Start.
func New(ctx context.Context, cfg Config, opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slogx.New(slogx.Config{
			Service: "signon",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}
	app := &Application{cfg: cfg, logger: logger}

	stop, err := SetupTracing(ctx, cfg.OTLPEndpoint, BuildVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	app.stopTracing = stop

	if err := metrics.Register(nil); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		_ = stop(ctx)
		return nil, err
	}
	app.store = st

	if err := app.initProvider(opts); err != nil {
		_ = st.Close()
		_ = stop(ctx)
		return nil, err
	}
	app.initSession()
	app.initHTTP()

	return app, nil
}

func (app *Application) initProvider(opts Options) error {
	master, ephemeral, err := cryptox.LoadMasterKey(app.cfg.MasterKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load master key: %w", err)
	}
	if ephemeral && app.cfg.CacheLocation != CacheMemory {
		app.logger.Warn("no master key configured; stored refresh tokens will not survive a restart")
	}

	sealer, err := cryptox.NewSealer(master, bartab.SealPurpose)
	if err != nil {
		return fmt.Errorf("failed to create sealer: %w", err)
	}

	app.provider = bartab.New(bartab.Config{
		ClientID:              app.cfg.ClientID,
		Authority:             app.cfg.Authority,
		RedirectURI:           app.cfg.RedirectURI,
		PostLogoutRedirectURI: app.cfg.PostLogoutRedirectURI,
		RenewalOffset:         app.cfg.RenewalOffset,
		Mode:                  bartab.InteractionMode(app.cfg.InteractionMode),
		SSOSession:            app.cfg.SSOSession,
		AutoBroker:            app.cfg.AutoBroker,
	}, app.store, sealer, opts.Opener, app.logger)

	if opts.CallbackURL != "" {
		app.provider.SetCallbackURL(opts.CallbackURL)
	}

	app.identity = identity.NewAdapter(app.provider, app.logger)
	return nil
}

// initSession builds the caches, the bus and the orchestrator. The bearer
// transport needs the orchestrator and the orchestrator needs the profile
// fetcher, so the transport's token source is set last.
func (app *Application) initSession() {
	bearer := &userinfo.BearerTransport{
		Base: &userinfo.InstrumentedTransport{
			Base: &slogx.Transport{Logger: app.logger},
		},
		SkipHosts: skipHosts(app.cfg.Authority),
		APIMarker: app.cfg.APIMarker,
		Protected: app.cfg.protected(),
	}
	hc := &http.Client{Transport: bearer, Timeout: 15 * time.Second}

	app.userinfo = userinfo.NewClient(app.cfg.ProfileURL, app.cfg.AvatarURL, hc, app.logger)
	app.tokens = tokencache.New(app.identity, app.logger)
	app.profiles = profile.NewCache(app.identity, app.userinfo, app.logger)
	app.bus = eventbus.New(app.logger)

	app.session = session.New(session.Config{
		Scopes:                app.cfg.Scopes,
		AutoRedirectOnFailure: app.cfg.AutoRedirectOnFailure,
		InteractiveDelay:      app.cfg.InteractiveDelay,
	}, session.Deps{
		Identity: app.identity,
		Tokens:   app.tokens,
		Profiles: app.profiles,
		Bus:      app.bus,
	}, app.logger)
	bearer.Tokens = app.session

	app.events = app.bus.Subscribe(context.Background(), app.logEvent)
}

func (app *Application) logEvent(ev eventbus.Event) {
	attrs := []any{slog.String("event", ev.Kind.String()), slog.Uint64("seq", ev.Seq)}
	if ev.Account != nil {
		attrs = append(attrs, slog.Any("account", *ev.Account))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	app.logger.Info("session event", attrs...)
}

// initHTTP initializes the debug router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.session, app.profiles, BuildVersion, app.logger)
	router.Checks["store"] = app.store
	router.Checks["authority"] = app.provider
	router.ApplyRoutes()

	app.router = router
	app.server = &http.Server{
		Addr:              app.cfg.DebugAddr,
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Session exposes the orchestrator to commands.
func (app *Application) Session() *session.Orchestrator { return app.session }

// Profiles exposes the profile cache to commands.
func (app *Application) Profiles() *profile.Cache { return app.profiles }

// Bus exposes the session event bus.
func (app *Application) Bus() *eventbus.Bus { return app.bus }

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger { return app.logger }

// Run starts the session and the debug server and blocks until ctx ends,
// a shutdown signal arrives or the server fails.
func (app *Application) Run(ctx context.Context) error {
	app.logger.Info("signon starting", "debug_addr", app.cfg.DebugAddr, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	go func() {
		snap, err := app.session.Start(ctx)
		if err != nil {
			app.logger.Warn("session start interrupted", "error", err)
			return
		}
		app.logger.Info("session resolved", "state", snap.State.String(), "reason", snap.Reason)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
	case <-ctx.Done():
	}

	if err := app.Shutdown(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Shutdown stops the server, the session and the store, in that order.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down signon...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	return app.Close(ctx)
}

// Close releases everything but the debug server, which commands that never
// call Run do not start.
func (app *Application) Close(ctx context.Context) error {
	app.session.Close()
	app.events.Close()
	app.bus.Close()
	app.profiles.Reset()

	if err := app.stopTracing(ctx); err != nil {
		app.logger.Error("error flushing traces", "error", err)
	}

	if err := app.store.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("signon stopped")
	return nil
}

// skipHosts lists hosts the bearer transport must never attach tokens to.
func skipHosts(authority string) []string {
	u, err := url.Parse(authority)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	return []string{u.Hostname()}
}
