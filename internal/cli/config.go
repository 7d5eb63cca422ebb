package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dlovans/formengine/internal/style"
	"github.com/dlovans/formengine/pkg/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective settings",
		RunE:  requireSubcommand,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the settings after files, environment and flags are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				w := cmd.OutOrStdout()
				if a.jsonOut {
					settings := make(map[string]string, len(config.Keys))
					for _, key := range config.Keys {
						v, err := a.cfg.Get(key)
						if err != nil {
							return err
						}
						settings[key] = v
					}
					return printJSON(w, settings)
				}
				return a.cfg.Write(w)
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List setting keys and their environment variables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				w := cmd.OutOrStdout()
				for _, key := range config.Keys {
					value, err := a.cfg.Get(key)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%-12s %-24s %s\n", style.Key.Render(key), style.Dim.Render(config.EnvName(key)), value)
				}
				return nil
			},
		},
	)
	return cmd
}
