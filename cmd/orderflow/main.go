package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/egress"
	"orderflow/internal/httpapi"
	"orderflow/internal/logging"
	"orderflow/internal/pipeline"
)

// Exit codes per the external-interfaces contract.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitInitFailure  = 2
	exitFatalRuntime = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "orderflow",
		Short: "Real-time crypto order-flow analytics engine",
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newHealthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode != exitOK {
			return exitCode
		}
		return exitConfigError
	}
	return exitCode
}

// exitCode is set by subcommands before returning control to run(), since
// cobra's RunE only reports error-or-not, not a specific numeric code.
var exitCode = exitOK

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the long-lived analytics service",
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = runStart()
			if exitCode != exitOK {
				return fmt.Errorf("start exited with code %d", exitCode)
			}
			return nil
		},
	}
}

func runStart() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}

	log, err := logging.New(logging.Mode(cfg.LogMode), cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging init error:", err)
		return exitInitFailure
	}
	defer log.Sync()

	pl, err := pipeline.New(cfg, log)
	if err != nil {
		log.Error("pipeline init failed", zap.Error(err))
		return exitInitFailure
	}

	srv := httpapi.New(cfg.HTTP, log, pl, pl.ZoneEngine, pl.Coordinator, pl.Sink.Broadcaster)
	go func() {
		if err := srv.Start(); err != nil {
			log.Warn("http server stopped", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- pl.Run(ctx)
	}()

	select {
	case <-sigCh:
		log.Info("shutdown signal received")
		cancel()
		srv.Shutdown()
		<-runErrCh
		return exitOK
	case err := <-runErrCh:
		srv.Shutdown()
		if err != nil && err != context.Canceled {
			log.Error("pipeline exited with fatal error", zap.Error(err))
			return exitFatalRuntime
		}
		return exitOK
	}
}

func newReplayCmd() *cobra.Command {
	var from, to int64
	var journalPath string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay journaled egress events within a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if journalPath == "" {
				cfg, err := config.Load()
				if err != nil {
					exitCode = exitConfigError
					return err
				}
				journalPath = cfg.Egress.JournalPath
			}
			recs, err := egress.ReplayRecords(journalPath, from, to)
			if err != nil {
				exitCode = exitInitFailure
				return err
			}
			for _, r := range recs {
				fmt.Printf("%+v\n", r)
			}
			exitCode = exitOK
			return nil
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "start timestamp (ms, inclusive)")
	cmd.Flags().Int64Var(&to, "to", 1<<62, "end timestamp (ms, inclusive)")
	cmd.Flags().StringVar(&journalPath, "journal", "", "journal file path (defaults to configured path)")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check configuration validity and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(); err != nil {
				exitCode = exitConfigError
				return err
			}
			fmt.Println("config ok")
			exitCode = exitOK
			return nil
		},
	}
}
