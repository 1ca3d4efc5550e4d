package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flotilla-coordinator/internal/config"
	"flotilla-coordinator/internal/repository"
)

func newSeedCmd() *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a demo installation with two decks and two robots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "sqlite" {
				return fmt.Errorf("seed 需要 sqlite 存储，当前为 %q", cfg.Database.Driver)
			}
			be, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer be.close()

			topo := repository.DemoTopology(code)
			if err := be.seed(cmd.Context(), topo); err != nil {
				return err
			}
			for _, r := range topo.Robots {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.ID, r.IsarID, r.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "installation", "DEMO", "installation code to create")
	return cmd
}
