// Command linkvault runs the link sharing service: the HTTP API with its
// background expiry reaper, the blob cleanup worker, and small operational
// helpers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/linkvault/linkvault/internal/api"
	"github.com/linkvault/linkvault/internal/auth"
	"github.com/linkvault/linkvault/internal/blob"
	"github.com/linkvault/linkvault/internal/config"
	"github.com/linkvault/linkvault/internal/database"
	"github.com/linkvault/linkvault/internal/queue"
	"github.com/linkvault/linkvault/internal/reaper"
	"github.com/linkvault/linkvault/internal/repository"
	"github.com/linkvault/linkvault/internal/service"
	"github.com/linkvault/linkvault/internal/storage"
	"github.com/linkvault/linkvault/internal/store"
	"github.com/linkvault/linkvault/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "linkvault: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "linkvault",
		Short:        "Short-lived access-controlled content links",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newSweepCmd(),
		newTokenCmd(),
	)
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			deps, err := buildDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer deps.close()

			svc := service.New(deps.records, deps.blobs, service.Options{
				DefaultTTL: cfg.DefaultTTL,
				Purge:      deps.purge,
				Logger:     log.With().Str("component", "service").Logger(),
			})
			authn := auth.New(cfg.AuthSecret)

			// The reaper is owned here: started once, stopped by the same
			// signal context that stops the API.
			rpr := reaper.New(deps.records, deps.blobs, cfg.SweepInterval,
				log.With().Str("component", "reaper").Logger())
			go rpr.Run(ctx)

			srv := api.New(cfg, svc, authn, log.With().Str("component", "api").Logger())
			return srv.Run(ctx)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the blob cleanup worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RedisAddr == "" {
				return fmt.Errorf("worker requires LINKVAULT_REDIS_ADDR")
			}
			log := newLogger(cfg)

			blobs, err := newMinio(ctx, cfg)
			if err != nil {
				return err
			}

			srv := asynq.NewServer(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, asynq.Config{
				Concurrency: cfg.WorkerConcurrency,
			})
			processor := worker.NewProcessor(blobs, log.With().Str("component", "worker").Logger())

			go func() {
				<-ctx.Done()
				srv.Shutdown()
			}()
			return srv.Run(processor.Handler())
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single expiry sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			deps, err := buildDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer deps.close()
			rpr := reaper.New(deps.records, deps.blobs, cfg.SweepInterval,
				log.With().Str("component", "reaper").Logger())
			return rpr.Sweep(ctx)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		ownerID string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an owner auth token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ownerID == "" {
				ownerID = auth.NewOwnerID()
			}
			tok, err := auth.New(cfg.AuthSecret).Mint(ownerID, ttl)
			if err != nil {
				return err
			}
			fmt.Printf("owner: %s\ntoken: %s\n", ownerID, tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner id (a fresh UUID when omitted)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

type deps struct {
	records store.RecordStore
	blobs   blob.Store
	purge   service.PurgeQueue
	close   func()
}

// buildDeps wires the stores. Dev mode keeps everything in memory so the
// service runs without Postgres, MinIO, or Redis.
func buildDeps(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*deps, error) {
	if cfg.DevMode {
		log.Warn().Msg("dev mode: using in-memory stores, nothing survives a restart")
		return &deps{
			records: storage.NewMemoryStore(),
			blobs:   blob.NewMemoryStore(),
			close:   func() {},
		}, nil
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("LINKVAULT_DATABASE_URL is required outside dev mode")
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	blobs, err := newMinio(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	d := &deps{
		records: repository.NewRecordRepository(pool),
		blobs:   blobs,
	}
	closers := []func(){pool.Close}
	if cfg.RedisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		d.purge = queue.NewClient(client)
		closers = append(closers, func() { _ = client.Close() })
	} else {
		log.Warn().Msg("no redis configured, failed blob deletions will only be logged")
	}
	d.close = func() {
		for _, c := range closers {
			c()
		}
	}
	return d, nil
}

func newMinio(ctx context.Context, cfg *config.Config) (*blob.MinioStore, error) {
	opts := blob.DefaultOptions()
	opts.Timeout = cfg.BlobTimeout
	blobs, err := blob.NewMinioStore(blob.MinioConfig{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return blobs, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.DevMode {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
