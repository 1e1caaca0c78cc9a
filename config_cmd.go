package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/keyviewer-cloud/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the config file path in use",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigPath,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cc.Out, cc.Cfg.Config)
	}

	if err := toml.NewEncoder(cc.Out).Encode(cc.Cfg.Config); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}

// runConfigPath works without loading the file, so it still answers when
// the file fails to parse.
func runConfigPath(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	path := config.DefaultConfigPath()
	if env := config.ReadEnvOverrides(); env.ConfigPath != "" {
		path = env.ConfigPath
	}

	if cc.Flags.ConfigPath != "" {
		path = cc.Flags.ConfigPath
	}

	_, err := fmt.Fprintln(cc.Out, path)

	return err
}
