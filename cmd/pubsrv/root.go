package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pubsrv/internal/config"
	"pubsrv/internal/errors"
	"pubsrv/internal/server"
	"pubsrv/internal/slogutil"
	"pubsrv/internal/static"
	"pubsrv/internal/version"
)

// shutdownTimeout bounds the graceful drain after a signal.
const shutdownTimeout = 10 * time.Second

// newRootCmd builds the command tree. stdout receives the access log and
// the startup banner, stderr every diagnostic.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pubsrv [host] [port]",
		Short: "pubsrv - serve the publications directory over HTTP",
		Long: `pubsrv serves the files of the publications directory (../publications next
to the executable) over HTTP, answers GET / with a greeting and everything else
with a 404. One combined-format access line per request is written to stdout.`,
		Args:          cobra.MaximumNArgs(2),
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args, stdout, stderr)
		},
	}
	rootCmd.SetVersionTemplate("pubsrv version {{.Version}}\n")
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	config.RegisterFlags(rootCmd.Flags())

	rootCmd.AddCommand(newConfigCmd(stdout))
	return rootCmd
}

// execute runs the CLI and returns the process exit code. Cancelling ctx
// stops a running server the same way a signal does.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := slogutil.NewLogger(stderr, slog.LevelError)
		logger.Error("Command execution failed",
			"code", string(errors.CodeOf(err)),
			"error", err.Error(),
		)
		return 1
	}
	return 0
}

func runServe(cmd *cobra.Command, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load(cmd.Flags(), args)
	if err != nil {
		return err
	}

	format, _ := slogutil.ParseFormat(cfg.Logging.Format)
	logger := slogutil.New(stderr, slogutil.LevelFromString(cfg.Logging.Level), format)

	files, err := static.Open(cfg.StaticRoot)
	if err != nil {
		logger.Warn("Static root unavailable, serving no files", "root", cfg.StaticRoot, "error", err.Error())
		files = static.Disabled()
	}
	defer files.Close()

	srv := server.NewServer(cfg, files, logger, stdout)
	if err := srv.Listen(); err != nil {
		return err
	}
	_, port, _ := net.SplitHostPort(srv.Addr())
	fmt.Fprintf(stdout, "Listening on port %s\n", port)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Serve()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-serverErr; err != nil {
			return err
		}
		logger.Info("Server stopped gracefully")
	}
	return nil
}
