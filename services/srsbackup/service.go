// Package srsbackup ties the bunpro scrapers together into the two
// operations the tool exposes: backing up a user's review state to
// JSON files and replaying those files back onto the account.
package srsbackup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"bunpro-backup/lib/scrapers/bunpro/core"
	"bunpro-backup/lib/scrapers/bunpro/deck"
	"bunpro-backup/lib/scrapers/bunpro/frontend"
	"bunpro-backup/services/srsbackup/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/srsbackup")

type Service struct {
	client *core.Client
	api    frontend.Client
	store  store.Store
}

func NewService(client *core.Client, st store.Store) Service {
	return Service{
		client: client,
		api:    frontend.NewClient(client),
		store:  st,
	}
}

type BackupResult struct {
	DeckPath string
	File     string
	Records  int
	// cards that had no detail link and were not backed up
	SkippedCards int
}

// BackupDeck scrapes one deck and writes its backup file, overwriting
// any previous backup of the same deck.
func (s Service) BackupDeck(ctx context.Context, deckPath string) (BackupResult, error) {
	ctx, span := tracer.Start(ctx, "service:BackupDeck")
	defer span.End()
	span.SetAttributes(attribute.String("deck", deckPath))

	slog.InfoContext(ctx, "starting backup", "deck", deckPath)

	result, err := deck.Scrape(ctx, s.client, deckPath)
	if err != nil {
		span.SetStatus(codes.Error, "scrape failed")
		return BackupResult{}, err
	}
	file, err := s.store.WriteDeck(deckPath, result.Records)
	if err != nil {
		span.SetStatus(codes.Error, "failed to write backup file")
		return BackupResult{}, err
	}

	slog.InfoContext(
		ctx, "deck backed up",
		"deck", deckPath,
		"file", file,
		"records", len(result.Records),
		"skipped_cards", result.SkippedCards,
	)
	return BackupResult{
		DeckPath:     deckPath,
		File:         file,
		Records:      len(result.Records),
		SkippedCards: result.SkippedCards,
	}, nil
}

// BackupKanji snapshots the server's known-kanji state by posting an
// empty kanji list and persisting the full response.
func (s Service) BackupKanji(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "service:BackupKanji")
	defer span.End()

	if err := s.client.EnsureLogin(ctx); err != nil {
		return err
	}
	raw, err := s.api.AddKnownKanji(ctx, nil)
	if err != nil {
		span.SetStatus(codes.Error, "failed to snapshot known kanji")
		return err
	}
	err = s.store.WriteKanji(raw)
	if err != nil {
		span.SetStatus(codes.Error, "failed to write kanji snapshot")
		return err
	}
	slog.InfoContext(ctx, "kanji snapshot written", "file", s.store.KanjiFilePath())
	return nil
}

// Backup backs up every given deck, then the kanji snapshot.
func (s Service) Backup(ctx context.Context, deckPaths ...string) ([]BackupResult, error) {
	var results []BackupResult
	for _, deckPath := range deckPaths {
		result, err := s.BackupDeck(ctx, deckPath)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, s.BackupKanji(ctx)
}

// RestoreKanji posts the key set of the persisted kanji snapshot's
// known_kanji mapping back to the server.
func (s Service) RestoreKanji(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "service:RestoreKanji")
	defer span.End()

	if err := s.client.EnsureLogin(ctx); err != nil {
		return err
	}
	raw, err := s.store.ReadKanji()
	if err != nil {
		return err
	}

	var snapshot struct {
		KnownKanji map[string]json.RawMessage `json:"known_kanji"`
	}
	err = json.Unmarshal(raw, &snapshot)
	if err != nil {
		return fmt.Errorf("malformed kanji snapshot: %w", err)
	}
	kanjis := make([]string, 0, len(snapshot.KnownKanji))
	for kanji := range snapshot.KnownKanji {
		kanjis = append(kanjis, kanji)
	}
	sort.Strings(kanjis)

	_, err = s.api.AddKnownKanji(ctx, kanjis)
	if err != nil {
		span.SetStatus(codes.Error, "failed to restore known kanji")
		return err
	}
	slog.InfoContext(ctx, "known kanji restored", "kanjis", len(kanjis))
	return nil
}

// Restore replays every deck backup file in the data directory, then
// the kanji snapshot.
func (s Service) Restore(ctx context.Context) ([]RestoreResult, error) {
	files, err := s.store.DeckFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no deck backups found in %s", s.store.Dir())
	}

	var results []RestoreResult
	for _, file := range files {
		result, err := s.RestoreDeck(ctx, file)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, s.RestoreKanji(ctx)
}
