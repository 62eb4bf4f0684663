package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jeanedlune/idbkv/internal/snapshot"
)

func newDumpCommand(a *app) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write a snapshot of the store",
		Long: `Write every entry of the store to a JSON snapshot. Values keep their
encoded form, so sets, maps and undefined survive a restore.`,
		Example: `  idbkv dump --out backup.json
  idbkv dump > backup.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", outFile, err)
				}
				defer func() {
					_ = f.Close()
				}()
				w = f
			}

			snap, err := snapshot.Dump(a.store, w)
			if err != nil {
				return err
			}
			a.logger.Info().
				Str("snapshot_id", snap.ID).
				Int("entries", len(snap.Entries)).
				Msg("snapshot written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "snapshot output file (default stdout)")
	return cmd
}

func newRestoreCommand(a *app) *cobra.Command {
	var inFile string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the store's contents with a snapshot",
		Example: `  idbkv restore --in backup.json
  idbkv restore < backup.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if inFile != "" {
				f, err := os.Open(inFile)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", inFile, err)
				}
				defer func() {
					_ = f.Close()
				}()
				r = f
			}

			snap, err := snapshot.Restore(a.store, r)
			if err != nil {
				return err
			}
			a.logger.Info().
				Str("snapshot_id", snap.ID).
				Int("entries", len(snap.Entries)).
				Msg("snapshot restored")
			return nil
		},
	}

	cmd.Flags().StringVarP(&inFile, "in", "i", "", "snapshot input file (default stdin)")
	return cmd
}
