package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"bunpro-backup/services/srsbackup/store/runlog"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(restoreCmd)
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replay every deck backup in the data directory, then the kanji snapshot.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}

		results, restoreErr := svc.Restore(cmd.Context())

		db, err := runlog.Open(filepath.Join(dataDir, "runs.db"))
		if err != nil {
			return err
		}
		defer db.Close()
		log := runlog.New(db)
		for _, result := range results {
			err := log.Record(cmd.Context(), runlog.Run{
				Operation: "restore",
				Target:    result.File,
				Records:   result.Applied,
				Skipped:   result.Skipped,
				Time:      time.Now(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("restored %s: %d applied, %d skipped\n", result.File, result.Applied, result.Skipped)
		}
		return restoreErr
	},
}
