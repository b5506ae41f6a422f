package commands

import (
	"os"
	"path/filepath"
	"time"

	"bunpro-backup/services/srsbackup/store/runlog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past backup and restore runs.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := runlog.Open(filepath.Join(dataDir, "runs.db"))
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := runlog.New(db).List(cmd.Context())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"time", "operation", "target", "records", "skipped"})
		for _, run := range runs {
			t.AppendRow(table.Row{
				run.Time.Format(time.DateTime),
				run.Operation,
				run.Target,
				run.Records,
				run.Skipped,
			})
		}
		t.Render()
		return nil
	},
}
