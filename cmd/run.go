package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JakeFAU/scanfleet/internal/config"
	"github.com/JakeFAU/scanfleet/internal/server"
)

// flagBindings maps CLI flags onto config keys. Negated flags are inverted
// before binding, see applyNegations.
var flagBindings = map[string]string{
	"location":    "fleet.locations",
	"account":     "fleet.accounts",
	"mock":        "fleet.mock",
	"paused":      "fleet.start_paused",
	"port":        "server.port",
	"no-server":   "server.disabled",
	"only-server": "server.only",
	"debug":       "logging.development",
}

var negations = map[string]string{
	"no-creatures":          "parse.creatures",
	"no-points-of-interest": "parse.points_of_interest",
	"no-structures":         "parse.structures",
}

// newRunCmd creates the 'run' subcommand, which starts the fleet and the
// control surface.
func newRunCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scan fleet",
		Long: `Binds accounts to locations, starts one worker per pair and serves the
control surface until SIGINT or SIGTERM. Flags override the config file, which
overrides built-in defaults; SCANFLEET_* environment variables override both
the file and the defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			cfg, err := config.LoadWith(v, *cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runFleet(cmd.Context(), &cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringArray("location", nil, `scan location "lat,lng[,alt]"; repeat or separate with "|"`)
	flags.StringArray("account", nil, `account "[provider:]username:password"; repeat for more`)
	flags.Bool("mock", false, "use the built-in mock scan source")
	flags.Bool("paused", false, "start with the fleet paused")
	flags.Int("port", 8080, "control surface port")
	flags.Bool("no-server", false, "run the fleet without the control surface")
	flags.Bool("only-server", false, "serve the control surface without scanning")
	flags.Bool("debug", false, "development logging")
	flags.Bool("no-creatures", false, "do not forward creatures")
	flags.Bool("no-points-of-interest", false, "do not forward points of interest")
	flags.Bool("no-structures", false, "do not forward structures")
	cmd.MarkFlagsMutuallyExclusive("no-server", "only-server")
	return cmd
}

// bindFlags binds only flags the user set, so unset flags never shadow the
// config file.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	for name, key := range flagBindings {
		if !flags.Changed(name) {
			continue
		}
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	for name, key := range negations {
		if !flags.Changed(name) {
			continue
		}
		off, err := flags.GetBool(name)
		if err != nil {
			return fmt.Errorf("read --%s: %w", name, err)
		}
		v.Set(key, !off)
	}
	return nil
}

func runFleet(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
