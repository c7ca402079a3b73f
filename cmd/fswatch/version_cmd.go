package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/openmined/fswatch/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print fswatch version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			if !asJSON {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.DetailedWithApp())
				return err
			}

			data, err := json.Marshal(version.Get())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}
