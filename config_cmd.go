package main

import (
	"cmp"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vidpub/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return printJSON(redactSecrets(*cc.Cfg))
			}

			return config.RenderEffective(cc.Cfg, os.Stdout)
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the default config, token and history file locations",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			cfgPath := cc.Flags.ConfigPath
			if cfgPath == "" {
				cfgPath = cmp.Or(config.ReadEnvOverrides().ConfigPath, config.DefaultConfigPath())
			}

			paths := map[string]string{
				"config":  cfgPath,
				"token":   config.DefaultTokenPath(),
				"history": config.DefaultHistoryPath(),
			}

			if cc.Flags.JSON {
				return printJSON(paths)
			}

			printTable(os.Stdout, []string{"FILE", "PATH"}, [][]string{
				{"config", paths["config"]},
				{"token", paths["token"]},
				{"history", paths["history"]},
			})

			return nil
		},
	}
}

// redactSecrets masks credentials in a copy of r for display.
func redactSecrets(r config.Resolved) config.Resolved {
	mask := func(s *string) {
		if *s != "" {
			*s = "(set)"
		}
	}

	mask(&r.Auth.ClientSecret)
	mask(&r.Server.SessionKey)
	mask(&r.Metadata.APIKey)

	return r
}
