// Command multipost is the operator CLI for the post queue: it adds content, shows the queue
// and drives approvals without going through chat.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ondepub/autopost/internal/bootstrap"
	"github.com/ondepub/autopost/internal/platform/config"
	"github.com/ondepub/autopost/internal/platform/logger"
)

const appName = "multipost"

type cliOptions struct {
	envFile   string
	configDir string
	useNATS   bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Queue, approve and publish social posts",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "directory holding config.defaults.yaml")
	root.PersistentFlags().BoolVar(&opts.useNATS, "nats", false, "publish workflow events to NATS_URL")

	root.AddCommand(
		newAddCmd(opts),
		newStatusCmd(opts),
		newApproveCmd(opts),
		newRejectCmd(opts),
		newFeedbackCmd(opts),
		newProcessCmd(opts),
		newRedispatchCmd(opts),
		newTestNotifyCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func (o *cliOptions) loadConfig() (*config.Config, error) {
	var paths []string
	if o.configDir != "" {
		paths = []string{o.configDir}
	}
	return config.Load(config.Options{ConfigPaths: paths, EnvFile: o.envFile})
}

// components loads configuration and wires the workflow. Logs go to stderr so command output stays clean.
func (o *cliOptions) components(ctx context.Context) (*bootstrap.Components, *slog.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel, "text").With("service", appName)
	c, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{AppName: appName, ConnectNATS: o.useNATS})
	if err != nil {
		return nil, nil, err
	}
	return c, log, nil
}
