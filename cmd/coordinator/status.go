package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"flotilla-coordinator/internal/config"
	"flotilla-coordinator/internal/localization"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the connectivity state of every robot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			be, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer be.close()

			robots, err := be.store.Robots().List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tISAR ID\tSTATE\tAREA\tMISSION")
			for _, r := range robots {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.Name, r.IsarID, colorState(localization.Connectivity(r)), orDash(r.CurrentAreaID), orDash(r.CurrentMissionID))
			}
			return w.Flush()
		},
	}
}

func colorState(s localization.State) string {
	switch s {
	case localization.ConnectedLocalized:
		return color.GreenString(string(s))
	case localization.ConnectedNotLocalized:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
