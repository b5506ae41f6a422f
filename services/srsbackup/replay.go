package srsbackup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"bunpro-backup/lib/scrapers/bunpro/deck"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type RestoreResult struct {
	File    string
	Applied int
	// records with no srs stage, never entered into the review queue
	Skipped int
}

// RestoreDeck replays one backup file: every record with an srs stage
// is re-registered for review and has its streak set, in file order.
// The sequence is not transactional; on failure, records already
// applied stay applied and the error reports how far the replay got.
func (s Service) RestoreDeck(ctx context.Context, file string) (RestoreResult, error) {
	ctx, span := tracer.Start(ctx, "service:RestoreDeck")
	defer span.End()
	span.SetAttributes(attribute.String("file", file))

	slog.InfoContext(ctx, "starting restore", "file", file)

	if err := s.client.EnsureLogin(ctx); err != nil {
		return RestoreResult{File: file}, err
	}
	records, err := s.store.ReadDeck(file)
	if err != nil {
		return RestoreResult{File: file}, err
	}

	result := RestoreResult{File: file}
	for i, record := range records {
		if record.Srs == nil {
			slog.DebugContext(ctx, "skipping record without srs stage", "url", record.Url)
			result.Skipped++
			continue
		}

		err := s.replayRecord(ctx, record)
		if err != nil {
			span.SetStatus(codes.Error, "replay aborted")
			return result, fmt.Errorf(
				"replay of %s aborted at record %d of %d (%d applied): %w",
				file, i+1, len(records), result.Applied, err,
			)
		}
		result.Applied++
	}

	slog.InfoContext(
		ctx, "deck restored",
		"file", file,
		"applied", result.Applied,
		"skipped", result.Skipped,
	)
	return result, nil
}

// replayRecord performs the two-call replay the upstream service
// expects: register the item for review, then set its streak on the
// review id the first call returned.
func (s Service) replayRecord(ctx context.Context, record deck.ReviewRecord) error {
	streak, err := ParseStreak(*record.Srs)
	if err != nil {
		return err
	}

	reviewId, err := s.api.AddToReviews(ctx, record.ReviewableId, record.DeckId)
	if err != nil {
		return fmt.Errorf("add to reviews for %q: %w", record.Url, err)
	}
	err = s.api.SetStreak(ctx, reviewId, streak)
	if err != nil {
		return fmt.Errorf("set streak for %q: %w", record.Url, err)
	}
	return nil
}

// ParseStreak pulls the numeric streak out of a stage label: the
// label's second whitespace-separated token, so "Stage 3" yields 3.
func ParseStreak(label string) (int, error) {
	fields := strings.Fields(label)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed srs stage label %q", label)
	}
	streak, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed srs stage label %q: %w", label, err)
	}
	return streak, nil
}
