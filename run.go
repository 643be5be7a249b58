package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/bulkmutate/internal/builder"
	"github.com/tonimelisma/bulkmutate/internal/checkpoint"
	"github.com/tonimelisma/bulkmutate/internal/config"
	"github.com/tonimelisma/bulkmutate/internal/engine"
	"github.com/tonimelisma/bulkmutate/internal/output"
	"github.com/tonimelisma/bulkmutate/internal/remote"
	"github.com/tonimelisma/bulkmutate/internal/remote/apiclient"
	"github.com/tonimelisma/bulkmutate/internal/remote/sandbox"
	"github.com/tonimelisma/bulkmutate/internal/table"
)

// progressInterval is how often a running batch reports progress.
const progressInterval = 30 * time.Second

func newRunCmd() *cobra.Command {
	var (
		input     string
		maxOps    int
		dryRun    bool
		sandboxDB string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the input table",
		Long: `Reads the input table, builds operations with the processor named in its
preamble row, and submits them in batches. An interrupted run resumes after
its checkpoint when started again with the same files. Failed rows are
written to the fixup file, which can be corrected and fed back in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli := config.CLIOverrides{ConfigPath: flagConfigPath}

			// Only explicitly set flags override the file and environment.
			if cmd.Flags().Changed("input") {
				cli.Input = &input
			}

			if cmd.Flags().Changed("max-operations") {
				cli.MaxOperations = &maxOps
			}

			if cmd.Flags().Changed("dry-run") {
				cli.DryRun = &dryRun
			}

			if cmd.Flags().Changed("sandbox") {
				cli.SandboxDB = &sandboxDB
			}

			cfg, err := config.Resolve(config.ReadEnvOverrides(), cli)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			logger := buildLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

			return runBatch(cmd.Context(), cfg, logger, progressInterval)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "input table (CSV with preamble and header rows)")
	cmd.Flags().IntVar(&maxOps, "max-operations", 0, "maximum operations per mutate call")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build operations but never submit them")
	cmd.Flags().StringVar(&sandboxDB, "sandbox", "", "use the SQLite sandbox at this path instead of the remote API")

	return cmd
}

// runBatch executes one run with fully resolved configuration. It returns
// an error when the run could not start, was aborted by a fatal error, or
// was interrupted; per-row failures are reported in the output files only.
func runBatch(ctx context.Context, cfg *config.Resolved, logger *slog.Logger, every time.Duration) error {
	logger = logger.With(slog.String("run_id", uuid.NewString()))

	unlock, err := acquireRunLock(lockPath(cfg.CheckpointPath))
	if err != nil {
		return err
	}
	defer unlock()

	reader, err := table.Open(cfg.InputPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	connector, closeRemote, err := openRemote(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRemote()

	b, err := builder.New(reader.Preamble(), builder.Deps{
		Sessions: remote.NewSessions(connector, logger),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if err := b.Configure(reader.Header()); err != nil {
		return err
	}

	cp := checkpoint.New(cfg.CheckpointPath)

	resumeLine, resumed, err := cp.Load()
	if err != nil {
		return err
	}

	ctx, stop := shutdownContext(ctx, logger, cp.Current)
	defer stop()

	paths := output.Paths{
		SuccessLog: cfg.SuccessLogPath,
		ErrorLog:   cfg.ErrorLogPath,
		Fixup:      cfg.FixupPath,
	}

	if resumed {
		statusf("Resuming %s after line %d.\n", cfg.InputPath, resumeLine)
	} else if err := paths.Reset(); err != nil {
		return err
	}

	writers := output.Open(paths, reader.Preamble(), reader.Header(), os.Stderr, logger)
	defer writers.Close()

	eng := engine.New(engine.Config{
		MaxOperations:      cfg.MaxOperations,
		MaxRetries:         cfg.MaxRetries,
		RateLimitDelay:     cfg.RateLimitDelay,
		AuthChallengeDelay: cfg.AuthChallengeDelay,
		PaceEveryRows:      cfg.PaceEveryRows,
		PacePause:          cfg.PacePause,
		DryRun:             cfg.DryRun,
	}, b, reader, cp, engine.NewSink(writers, logger), logger)

	logger.Info("run starting",
		slog.String("processor", b.Name()),
		slog.String("input", cfg.InputPath),
		slog.Bool("dry_run", cfg.DryRun),
		slog.Int("max_operations", cfg.MaxOperations),
		slog.Bool("resumed", resumed),
	)

	start := time.Now()
	done := make(chan struct{})

	var (
		g   errgroup.Group
		sum engine.Summary
	)

	g.Go(func() error {
		defer close(done)

		var runErr error
		sum, runErr = eng.Run(ctx)

		return runErr
	})

	g.Go(func() error {
		return reportProgress(done, eng.Stats(), every, logger)
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			statusf("Interrupted: %s.\n", formatProgress(sum))
			return fmt.Errorf("run interrupted; rerun to resume after line %d", cp.Current())
		}

		return fmt.Errorf("run aborted (checkpoint at line %d): %w", cp.Current(), err)
	}

	statusf("%s.\n", formatSummary(sum, time.Since(start), cfg.DryRun))

	if sum.Failed > 0 {
		statusf("Failed rows were written to %s.\n", cfg.FixupPath)
	}

	return nil
}

// openRemote returns the connector selected by config: the SQLite sandbox
// when sandbox_db is set, otherwise the HTTP API. With neither, as allowed
// for dry runs, the connector is nil and any remote access fails per row.
func openRemote(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (remote.Connector, func(), error) {
	switch {
	case cfg.SandboxDB != "":
		store, err := sandbox.Open(ctx, cfg.SandboxDB, logger)
		if err != nil {
			return nil, nil, err
		}

		return store, func() { store.Close() }, nil

	case cfg.Endpoint != "":
		// Token refreshes must survive the shutdown signal so the in-flight
		// call can finish.
		ts, err := apiclient.TokenSourceFromPath(context.WithoutCancel(ctx), apiclient.OAuthSettings{
			TokenPath: cfg.TokenFile,
			TokenURL:  cfg.TokenURL,
			ClientID:  cfg.ClientID,
		}, logger)
		if err != nil {
			return nil, nil, err
		}

		client := apiclient.NewClient(cfg.Endpoint, newHTTPClient(cfg.RemoteTimeout), ts, logger, cfg.UserAgent)
		client.LimitCalls(cfg.MaxCallsPerSecond)

		return client, func() {}, nil

	default:
		logger.Info("no remote configured")

		return nil, func() {}, nil
	}
}

// reportProgress logs the run's counters every interval until done closes.
func reportProgress(done <-chan struct{}, stats *engine.Stats, every time.Duration, logger *slog.Logger) error {
	if every <= 0 {
		<-done
		return nil
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			s := stats.Snapshot()
			logger.Info("progress",
				slog.Int64("seen", s.Seen),
				slog.Int64("skipped", s.Skipped),
				slog.Int64("processed", s.Processed),
				slog.Int64("succeeded", s.Succeeded),
				slog.Int64("failed", s.Failed),
				slog.Int64("blocks", s.Blocks),
			)
			statusf("%s\n", formatProgress(s))
		}
	}
}
