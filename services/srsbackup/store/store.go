// Package store persists deck backups and the kanji snapshot as
// human-readable JSON files under a data directory.
package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"bunpro-backup/lib/scrapers/bunpro/deck"
)

const kanjiFileName = "kanji_data.json"

type Store struct {
	dir string
}

func New(dir string) Store {
	return Store{dir: dir}
}

func (s Store) Dir() string {
	return s.dir
}

// DeckFilePath derives a backup file name from the deck's path: the
// last path segment, lowercased, e.g. /decks/nn10ai/Bunpro-N5-Grammar
// becomes deck_bunpro-n5-grammar.json.
func (s Store) DeckFilePath(deckPath string) string {
	name := deckPath
	if link, err := url.Parse(deckPath); err == nil {
		name = link.Path
	}
	name = strings.TrimSuffix(name, "/")
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	return filepath.Join(s.dir, fmt.Sprintf("deck_%s.json", strings.ToLower(name)))
}

func (s Store) KanjiFilePath() string {
	return filepath.Join(s.dir, kanjiFileName)
}

// DeckFiles lists every deck backup file in the data directory.
func (s Store) DeckFiles() ([]string, error) {
	return filepath.Glob(filepath.Join(s.dir, "deck_*.json"))
}

// WriteDeck persists the records of one deck, overwriting any previous
// backup of the same deck. Returns the file written.
func (s Store) WriteDeck(deckPath string, records []deck.ReviewRecord) (string, error) {
	file := s.DeckFilePath(deckPath)
	if records == nil {
		records = []deck.ReviewRecord{}
	}
	return file, s.writeJson(file, records)
}

func (s Store) ReadDeck(file string) ([]deck.ReviewRecord, error) {
	contents, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var records []deck.ReviewRecord
	err = json.Unmarshal(contents, &records)
	if err != nil {
		return nil, fmt.Errorf("malformed deck backup %s: %w", file, err)
	}
	return records, nil
}

// WriteKanji persists the raw known-kanji document as returned by the
// frontend api.
func (s Store) WriteKanji(raw json.RawMessage) error {
	return s.writeJson(s.KanjiFilePath(), raw)
}

func (s Store) ReadKanji() (json.RawMessage, error) {
	contents, err := os.ReadFile(s.KanjiFilePath())
	if err != nil {
		return nil, err
	}
	return json.RawMessage(contents), nil
}

func (s Store) writeJson(file string, value any) error {
	err := os.MkdirAll(s.dir, 0755)
	if err != nil {
		return err
	}
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	// backups are meant to be readable and diffable, keep the kanji
	// characters as-is instead of escaping them
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
