package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/livesync/internal/app"
	"github.com/matheus3301/livesync/internal/config"
	"github.com/matheus3301/livesync/internal/profile"
	"github.com/matheus3301/livesync/internal/status"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var (
	profileFlag    string
	jsonOutput     bool
	connectTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "livesync",
	Short:         "Real-time messaging and notification client",
	Long:          "Keeps conversations, notifications and presence in sync with the backend over REST and a push channel.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "timeout", 10*time.Second, "how long to wait for the push channel")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// activeProfile resolves and validates the profile for this invocation.
func activeProfile() (string, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// startClient builds and starts the client for the active profile. The
// returned stop function must be called before exiting.
func startClient(ctx context.Context, exclusive bool) (*app.Client, func(), error) {
	name, err := activeProfile()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(profile.ConfigPath(), profile.ConfigOverridePath(name))
	if err != nil {
		return nil, nil, err
	}

	var c *app.Client
	fxApp := fx.New(
		app.Module(app.Params{Profile: name, Config: cfg, Exclusive: exclusive}),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Populate(&c),
	)
	startCtx, cancel := context.WithTimeout(ctx, fx.DefaultTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return nil, nil, err
	}

	stop := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
		defer cancel()
		_ = fxApp.Stop(stopCtx)
	}
	return c, stop, nil
}

// awaitConnected waits up to --timeout for the push channel.
func awaitConnected(ctx context.Context, c *app.Client) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.Session.AwaitState(ctx, status.Connected); err != nil {
		return fmt.Errorf("push channel not connected after %s (state %s)", connectTimeout, c.Session.State())
	}
	return nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
