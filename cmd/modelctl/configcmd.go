package main

import (
	"github.com/animus-labs/modelctl/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get FIELD",
		Short: "Print one configuration value, for use in CI scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return err
			}
			printf(a, "%s\n", v)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "fields",
		Short: "List the fields accepted by config get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.Fields() {
				printf(a, "%s\n", name)
			}
			return nil
		},
	})
	return cmd
}
