// Package runlog keeps a small sqlite log of backup and restore runs
// so an operator can see what was done to an account and when.
package runlog

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation TEXT NOT NULL,
	target TEXT NOT NULL,
	records INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	time INTEGER NOT NULL
);
`

type Log struct {
	db *sql.DB
}

func New(db *sql.DB) Log {
	return Log{db: db}
}

// Open opens (or creates) the run log database at the given path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type Run struct {
	Operation string
	Target    string
	Records   int
	Skipped   int
	Time      time.Time
}

func (l Log) Record(ctx context.Context, run Run) error {
	_, err := l.db.ExecContext(
		ctx,
		`INSERT INTO runs (operation, target, records, skipped, time) VALUES (?, ?, ?, ?, ?)`,
		run.Operation, run.Target, run.Records, run.Skipped, run.Time.Unix(),
	)
	return err
}

func (l Log) List(ctx context.Context) ([]Run, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT operation, target, records, skipped, time FROM runs ORDER BY time, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var unix int64
		err := rows.Scan(&run.Operation, &run.Target, &run.Records, &run.Skipped, &unix)
		if err != nil {
			return nil, err
		}
		run.Time = time.Unix(unix, 0)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
