package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/openmined/fswatch/internal/capability"
	"github.com/openmined/fswatch/internal/config"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Detect which change kinds this platform reports as native events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			tempDir, _ := cmd.Flags().GetString("temp-dir")
			save, _ := cmd.Flags().GetString("save")

			cmd.SilenceUsage = true

			s, err := capability.Detect(cmd.Context(), capability.Options{
				Timeout: timeout,
				TempDir: tempDir,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSettings(out, s)

			if save == "" {
				return nil
			}
			if err := capability.Save(save, s); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			size := "?"
			if info, err := os.Stat(save); err == nil {
				size = humanize.Bytes(uint64(info.Size()))
			}
			fmt.Fprintf(out, "saved to %s (%s)\n", save, size)
			return nil
		},
	}

	cmd.Flags().Duration("timeout", capability.DefaultProbeTimeout, "How long to wait for events")
	cmd.Flags().String("temp-dir", "", "Where to create the scratch tree (default system temp dir)")
	cmd.Flags().String("save", "", "Save the result for later watches")
	cmd.Flags().Lookup("save").NoOptDefVal = config.DefaultSettingsPath
	return cmd
}
