package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/thread/internal/logging"
	"github.com/backkem/thread/pkg/bootstrap"
	"github.com/backkem/thread/pkg/thread"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	config   string
	logLevel string
	logFile  string
	name     string
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.config, "config", "c", "", "YAML node configuration")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", logging.LevelInfo, "trace, debug, info, warn or error")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Also write logs to this file")
	cmd.Flags().StringVar(&opts.name, "name", "", "Prefix for console log lines")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func run(ctx context.Context, opts runOptions) error {
	cfg, err := thread.LoadConfig(opts.config)
	if err != nil {
		return err
	}

	lf, err := logging.New(logging.Options{Level: opts.logLevel, File: opts.logFile, Prefix: opts.name})
	if err != nil {
		return err
	}
	defer lf.Close()
	log := lf.NewLogger("main")

	cfg.LoggerFactory = lf
	cfg.OnStateChanged = func(s thread.NodeState) {
		log.Infof("node %s", s)
	}
	cfg.OnStatusChanged = func(st bootstrap.Status) {
		log.Infof("%s partition=%08x", st, st.LeaderData.PartitionID)
	}

	node, err := thread.NewNode(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			log.Infof("received %s, shutting down", s)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		if err := node.Start(gctx); err != nil {
			return fmt.Errorf("start node: %w", err)
		}
		// Wait returns once gctx is done or a node loop failed; Stop
		// reports the same loop error.
		err := node.Wait()
		_ = node.Stop()
		cancel()
		return err
	})

	return g.Wait()
}
