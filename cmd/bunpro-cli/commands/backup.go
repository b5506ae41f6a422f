package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"bunpro-backup/services/srsbackup/store/runlog"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(backupCmd)
}

var backupCmd = &cobra.Command{
	Use:   "backup <deck_path_or_url>",
	Short: "Scrape a deck's SRS state and save it, plus a kanji snapshot, to JSON backups.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deckPath, err := normalizeDeckPath(args[0])
		if err != nil {
			return err
		}
		svc, err := newService()
		if err != nil {
			return err
		}

		results, err := svc.Backup(cmd.Context(), deckPath)
		if err != nil {
			return err
		}

		db, err := runlog.Open(filepath.Join(dataDir, "runs.db"))
		if err != nil {
			return err
		}
		defer db.Close()
		log := runlog.New(db)
		for _, result := range results {
			err := log.Record(cmd.Context(), runlog.Run{
				Operation: "backup",
				Target:    result.DeckPath,
				Records:   result.Records,
				Skipped:   result.SkippedCards,
				Time:      time.Now(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("backed up %s: %d records -> %s\n", result.DeckPath, result.Records, result.File)
		}
		return nil
	},
}
