// Package main provides the linkvault binary. It loads configuration from
// defaults and LINKVAULT_* environment variables, applies command-line
// overrides, wires the storage adapters and then runs one of:
//
//   - serve: the HTTP API plus the background sweeper (default)
//   - sweep: one expiry sweep and orphan reconciliation, then exit
//   - migrate: apply the schema for the configured store driver
//   - token: issue a signed identity token for a user id
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/haukened/linkvault/internal/app"
	"github.com/haukened/linkvault/internal/config"
	"github.com/haukened/linkvault/internal/hasher"
	"github.com/haukened/linkvault/internal/httpx"
	"github.com/haukened/linkvault/internal/janitor"
	"github.com/haukened/linkvault/internal/logging"
	"github.com/haukened/linkvault/internal/metrics"
	"github.com/haukened/linkvault/internal/store"
	"github.com/haukened/linkvault/internal/store/filesystem"
	"github.com/haukened/linkvault/internal/store/postgres"
	"github.com/haukened/linkvault/internal/store/s3blob"
	"github.com/haukened/linkvault/internal/store/sqlite"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// cli is the kong command tree. Global flags override the environment.
type cli struct {
	Addr      string `help:"Listen address (host:port)." placeholder:"ADDR"`
	DataDir   string `help:"Directory for the SQLite database and file payloads." placeholder:"DIR"`
	LogLevel  string `help:"Log level: debug, info, warn or error." placeholder:"LEVEL"`
	LogFormat string `help:"Log format: json, text or pretty." placeholder:"FORMAT"`

	Serve   serveCmd   `cmd:"" default:"1" help:"Run the HTTP API and the background sweeper."`
	Sweep   sweepCmd   `cmd:"" help:"Run one expiry sweep and orphan reconciliation, then exit."`
	Migrate migrateCmd `cmd:"" help:"Apply database migrations and exit."`
	Token   tokenCmd   `cmd:"" help:"Issue a signed identity token."`
}

// apply overlays non-empty flags onto cfg.
func (c *cli) apply(cfg *config.Config) {
	if c.Addr != "" {
		cfg.Addr = c.Addr
	}
	if c.DataDir != "" {
		cfg.DataDir = c.DataDir
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.LogFormat = c.LogFormat
	}
}

// runEnv is bound into every command's Run method.
type runEnv struct {
	ctx    context.Context
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

type serveCmd struct{}

func (serveCmd) Run(env *runEnv) error {
	d, err := wire(env.ctx, env.cfg, env.logger)
	if err != nil {
		return err
	}
	defer d.Close()
	ln, err := net.Listen("tcp", env.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return serve(env.ctx, d, env.cfg, env.logger, ln)
}

type sweepCmd struct{}

func (sweepCmd) Run(env *runEnv) error {
	d, err := wire(env.ctx, env.cfg, env.logger)
	if err != nil {
		return err
	}
	defer d.Close()
	j := newJanitor(d, env.cfg, env.logger)
	res, err := j.RunOnce(env.ctx)
	snap := j.MetricsSnapshot()
	fmt.Fprintf(env.out, "processed=%d failures=%d orphans=%d\n", res.Processed, len(res.Errors), snap.Orphans)
	return err
}

type migrateCmd struct{}

func (migrateCmd) Run(env *runEnv) error {
	switch env.cfg.StoreDriver {
	case "postgres":
		pool, err := postgres.Connect(env.ctx, env.cfg.PostgresDSN, env.logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.Migrate(env.ctx, pool); err != nil {
			return err
		}
	default:
		if err := ensureDataDir(env.cfg.DataDir); err != nil {
			return err
		}
		db, err := sqlite.Open(env.ctx, env.cfg.SQLiteDSN())
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer db.Close()
		if err := sqlite.Migrate(env.ctx, db); err != nil {
			return err
		}
	}
	env.logger.Info("migrations applied", "domain", "store", "driver", env.cfg.StoreDriver)
	return nil
}

type tokenCmd struct {
	User string        `arg:"" help:"User id to embed in the token."`
	TTL  time.Duration `name:"ttl" default:"24h" help:"Token lifetime."`
}

func (c *tokenCmd) Run(env *runEnv) error {
	id := httpx.NewIdentity(env.cfg.JWTSecret)
	if id == nil {
		return errors.New("jwt_secret is not configured")
	}
	tok, err := id.Issue(c.User, c.TTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.out, tok)
	return err
}

// deps holds the wired runtime graph and what must be closed on exit.
type deps struct {
	store   *store.Store
	service *app.Service
	metrics *metrics.Recorder
	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}

func openIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Index, func(), error) {
	if cfg.StoreDriver == "postgres" {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	}
	db, err := sqlite.Open(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	idx, err := sqlite.New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return idx, closeDB(db), nil
}

func closeDB(db *sql.DB) func() { return func() { _ = db.Close() } }

func openBlobs(ctx context.Context, cfg *config.Config) (store.BlobStorage, error) {
	if cfg.BlobDriver == "s3" {
		client, err := s3blob.NewClient(ctx, s3blob.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s3blob.New(client, cfg.S3Bucket, cfg.S3Prefix)
	}
	if err := os.MkdirAll(cfg.BlobDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create blobs dir: %w", err)
	}
	return filesystem.New(cfg.BlobDir())
}

// wire builds the storage adapters, the store and the application service.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	if err := ensureDataDir(cfg.DataDir); err != nil {
		return nil, err
	}
	d := &deps{metrics: metrics.New()}
	idx, closeIdx, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, closeIdx)
	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init blob storage: %w", err)
	}
	h, err := hasher.New(cfg.BcryptCost)
	if err != nil {
		d.Close()
		return nil, err
	}
	clock := realClock{}
	d.store = store.New(idx, blobs, clock, store.Options{OrphanGrace: cfg.OrphanGrace, Logger: logger})
	d.service = &app.Service{
		Store:        d.store,
		Clock:        clock,
		Hasher:       h,
		Observer:     d.metrics,
		MaxTextBytes: cfg.MaxTextBytes.Int64(),
		MaxFileBytes: cfg.MaxFileBytes.Int64(),
		DefaultTTL:   cfg.DefaultTTL,
		MaxTTL:       cfg.MaxTTL,
	}
	return d, nil
}

func newJanitor(d *deps, cfg *config.Config, logger *slog.Logger) *janitor.Janitor {
	return janitor.New(d.store, janitor.Config{
		Interval: cfg.SweepInterval,
		Recorder: d.metrics,
		Logger:   logger,
	})
}

func buildHandler(d *deps, cfg *config.Config, logger *slog.Logger) http.Handler {
	h := httpx.New(d.service, cfg.MaxTextBytes.Int64(), cfg.MaxFileBytes.Int64(), d.store.Ping)
	h.Identity = httpx.NewIdentity(cfg.JWTSecret)
	h.Metrics = metrics.Handler(d.metrics.Gatherer(), cfg.MetricsToken)
	h.Logger = logger
	return h.Router()
}

func newServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs the sweeper and the HTTP server on ln until ctx is done.
func serve(ctx context.Context, d *deps, cfg *config.Config, logger *slog.Logger, ln net.Listener) error {
	j := newJanitor(d, cfg, logger)
	j.Start(ctx)
	defer j.Stop()

	srv := newServer(buildHandler(d, cfg, logger))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("starting server",
		"addr", ln.Addr().String(),
		"pid", os.Getpid(),
		"store", cfg.StoreDriver,
		"blobs", cfg.BlobDriver,
		"identity", cfg.JWTSecret != "",
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var c cli
	parser, err := kong.New(&c,
		kong.Name("linkvault"),
		kong.Description("Ephemeral, self-destructing content sharing."),
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	c.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	logger, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return kctx.Run(&runEnv{ctx: ctx, cfg: cfg, logger: logger, out: stdout})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("linkvault failed", "err", err)
		stop()
		os.Exit(1)
	}
}
