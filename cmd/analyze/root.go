package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"canvasapi/internal/infra"
	"canvasapi/internal/providers/canvasai"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *infra.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*infra.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = infra.LoadConfig(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// newClient builds the analysis client and a logger writing to the
// command's stderr.
func (c *commandContext) newClient(cmd *cobra.Command) (*canvasai.Client, *infra.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, cmd.ErrOrStderr())
	client, err := canvasai.NewClient(canvasai.Options{
		BaseURL:        cfg.AnalysisBaseURL,
		RequestTimeout: cfg.AnalysisTimeout,
		Logger:         &logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, &logger, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var jsonFlag bool
	ctx := &commandContext{configFlag: &configFlag, jsonFlag: &jsonFlag}

	rootCmd := &cobra.Command{
		Use:           "analyze",
		Short:         "Run canvas analyses against the remote analysis services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Write JSON instead of a table")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))

	return rootCmd
}
