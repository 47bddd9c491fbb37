// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/observability"
)

const (
	envPrefix = "SCALPEL_EXPLORER"

	// viperKeyAnnotation maps a flag onto the configuration key it overrides.
	viperKeyAnnotation = "viper_key"
)

type contextKey string

const configKey contextKey = "config"

// NewRootCommand builds a fresh command tree. A new tree per execution keeps
// flag state from leaking between runs.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultComponentsFactory)
}

func newRootCommand(factory componentsFactory) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "scalpel-explorer",
		Short:         "Scalpel Explorer maps a web application as a graph of UI states.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-explorer"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-explorer"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting Scalpel Explorer", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error). (Overrides config/env)")
	annotateFlag(rootCmd.PersistentFlags(), "log-level", "logger.level")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newExploreCmd(factory))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with the given context.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted", zap.Error(err))
		} else {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment, then layers the
// command line flags of cmd on top.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := bindAnnotatedFlags(cmd.Flags(), v); err != nil {
		return err
	}
	return applyViewportFlag(cmd.Flags(), v)
}

// annotateFlag records the configuration key a flag overrides.
func annotateFlag(flags *pflag.FlagSet, name, key string) {
	_ = flags.SetAnnotation(name, viperKeyAnnotation, []string{key})
}

// bindAnnotatedFlags binds every annotated flag to its key. Viper only lets a
// flag win over file and env values when the user actually set it.
func bindAnnotatedFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKeyAnnotation]
		if bindErr != nil || len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

// applyViewportFlag replaces the configured viewports with the ones given on
// the command line.
func applyViewportFlag(flags *pflag.FlagSet, v *viper.Viper) error {
	f := flags.Lookup("viewport")
	if f == nil || !f.Changed {
		return nil
	}
	specs, err := flags.GetStringSlice("viewport")
	if err != nil {
		return err
	}
	viewports := make([]map[string]interface{}, 0, len(specs))
	for _, spec := range specs {
		vp, err := parseViewport(spec)
		if err != nil {
			return err
		}
		viewports = append(viewports, map[string]interface{}{
			"name": vp.Name, "width": vp.Width, "height": vp.Height, "mobile": vp.Mobile,
		})
	}
	v.Set("viewports", viewports)
	return nil
}

// parseViewport parses "name:WIDTHxHEIGHT" with an optional ":mobile" suffix.
func parseViewport(spec string) (schemas.Viewport, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return schemas.Viewport{}, fmt.Errorf("%w: viewport %q must look like name:1280x800[:mobile]", config.ErrConfiguration, spec)
	}
	vp := schemas.Viewport{Name: parts[0]}

	dims := strings.SplitN(strings.ToLower(parts[1]), "x", 2)
	if len(dims) != 2 {
		return schemas.Viewport{}, fmt.Errorf("%w: viewport %q has no WIDTHxHEIGHT size", config.ErrConfiguration, spec)
	}
	var err error
	if vp.Width, err = strconv.ParseInt(dims[0], 10, 64); err != nil {
		return schemas.Viewport{}, fmt.Errorf("%w: viewport %q has an invalid width", config.ErrConfiguration, spec)
	}
	if vp.Height, err = strconv.ParseInt(dims[1], 10, 64); err != nil {
		return schemas.Viewport{}, fmt.Errorf("%w: viewport %q has an invalid height", config.ErrConfiguration, spec)
	}

	if len(parts) == 3 {
		if parts[2] != "mobile" {
			return schemas.Viewport{}, fmt.Errorf("%w: viewport %q has unknown modifier %q", config.ErrConfiguration, spec, parts[2])
		}
		vp.Mobile = true
	}
	return vp, nil
}

// configFromContext returns the configuration loaded by the root command.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
