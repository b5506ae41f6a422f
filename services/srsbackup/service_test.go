package srsbackup

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"bunpro-backup/lib/scrapers/bunpro/core"
	"bunpro-backup/lib/scrapers/bunpro/deck"
	"bunpro-backup/lib/telemetry"
	"bunpro-backup/services/srsbackup/store"

	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const signInPage = `<html><body>
<form><input type="hidden" name="authenticity_token" value="tok123"></form>
</body></html>`

const deckPage = `<html><body>
<div class="deck-info-card">
	<a href="/grammar_points/ga?deck_id=7">が</a>
	<span>SRS: Stage 2</span>
</div>
</body></html>`

const detailPage = `<html><body><script id="__NEXT_DATA__" type="application/json">` +
	`{"props":{"pageProps":{"reviewable":{"id":42}}}}` +
	`</script></body></html>`

func ptr[T any](v T) *T {
	return &v
}

func newTestService(t *testing.T) Service {
	client, err := core.NewClient(core.ClientOptions{
		Email:    "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)

	httpmock.ActivateNonDefault(client.Http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(
		"GET", "https://bunpro.jp/users/sign_in",
		httpmock.NewStringResponder(200, signInPage),
	)
	loggedIn := httpmock.NewStringResponse(200, "<html><body></body></html>")
	loggedIn.Header.Set("Set-Cookie", "frontend_api_token=token-abc; Path=/")
	httpmock.RegisterResponder(
		"POST", "https://bunpro.jp/users/sign_in",
		httpmock.ResponderFromResponse(loggedIn),
	)

	return NewService(client, store.New(t.TempDir()))
}

func TestBackupRestoreEndToEnd(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/srsbackup")
	defer cleanup()
	ctx := context.Background()

	svc := newTestService(t)

	httpmock.RegisterResponder(
		"GET", "https://bunpro.jp/decks/nn10ai/Bunpro-N5-Grammar",
		httpmock.NewStringResponder(200, deckPage),
	)
	httpmock.RegisterResponder(
		"GET", "https://bunpro.jp/grammar_points/ga?deck_id=7",
		httpmock.NewStringResponder(200, detailPage),
	)
	httpmock.RegisterResponder(
		"POST", "https://bunpro.jp/api/frontend/user/add_known_kanji",
		httpmock.NewStringResponder(200, `{"known_kanji":{"水":{}}}`),
	)

	results, err := svc.Backup(ctx, "/decks/nn10ai/Bunpro-N5-Grammar")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Records)

	written, err := os.ReadFile(results[0].File)
	require.NoError(t, err)
	var records []deck.ReviewRecord
	require.NoError(t, json.Unmarshal(written, &records))
	want := []deck.ReviewRecord{{
		Url:          "/grammar_points/ga?deck_id=7",
		Srs:          ptr("Stage 2"),
		ReviewableId: 42,
		DeckId:       ptr(int64(7)),
	}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("unexpected backup file contents (-want +got):\n%s", diff)
	}

	kanjiFile, err := os.ReadFile(svc.store.KanjiFilePath())
	require.NoError(t, err)
	require.Contains(t, string(kanjiFile), "水")

	// restore: exactly one add-to-reviews followed by one set-streak
	httpmock.RegisterResponder(
		"PATCH", "https://bunpro.jp/api/frontend/reviews/add_to_reviews",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				ReviewableId   int64  `json:"reviewable_id"`
				ReviewableType string `json:"reviewable_type"`
				DeckId         *int64 `json:"deck_id"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, int64(42), body.ReviewableId)
			require.Equal(t, "GrammarPoint", body.ReviewableType)
			require.NotNil(t, body.DeckId)
			require.Equal(t, int64(7), *body.DeckId)
			return httpmock.NewStringResponse(200, `{"data":{"id":900}}`), nil
		},
	)
	httpmock.RegisterResponder(
		"PATCH", "https://bunpro.jp/api/frontend/reviews/900/update_via_action_type",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				ActionType string `json:"action_type"`
				NewStreak  int    `json:"new_streak"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, "set_streak", body.ActionType)
			require.Equal(t, 2, body.NewStreak)
			return httpmock.NewStringResponse(200, `{}`), nil
		},
	)

	restored, err := svc.Restore(ctx)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Equal(t, 1, restored[0].Applied)
	require.Equal(t, 0, restored[0].Skipped)

	calls := httpmock.GetCallCountInfo()
	require.Equal(t, 1, calls["PATCH https://bunpro.jp/api/frontend/reviews/add_to_reviews"])
	require.Equal(t, 1, calls["PATCH https://bunpro.jp/api/frontend/reviews/900/update_via_action_type"])
}

func TestRestoreSkipsRecordsWithoutSrs(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/srsbackup")
	defer cleanup()
	ctx := context.Background()

	svc := newTestService(t)

	file, err := svc.store.WriteDeck("/decks/x/Mixed", []deck.ReviewRecord{
		{Url: "/grammar_points/a?deck_id=7", Srs: nil, ReviewableId: 41, DeckId: ptr(int64(7))},
		{Url: "/grammar_points/b?deck_id=7", Srs: ptr("Stage 3"), ReviewableId: 42, DeckId: ptr(int64(7))},
	})
	require.NoError(t, err)

	httpmock.RegisterResponder(
		"PATCH", "https://bunpro.jp/api/frontend/reviews/add_to_reviews",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				ReviewableId int64 `json:"reviewable_id"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			// the srs-less record must never reach the api
			require.Equal(t, int64(42), body.ReviewableId)
			return httpmock.NewStringResponse(200, `{"data":{"id":901}}`), nil
		},
	)
	httpmock.RegisterResponder(
		"PATCH", "https://bunpro.jp/api/frontend/reviews/901/update_via_action_type",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				NewStreak int `json:"new_streak"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, 3, body.NewStreak)
			return httpmock.NewStringResponse(200, `{}`), nil
		},
	)

	result, err := svc.RestoreDeck(ctx, file)
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)
	require.Equal(t, 1, result.Skipped)

	calls := httpmock.GetCallCountInfo()
	require.Equal(t, 1, calls["PATCH https://bunpro.jp/api/frontend/reviews/add_to_reviews"])
}

func TestRestoreAbortsOnMalformedLabel(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/srsbackup")
	defer cleanup()
	ctx := context.Background()

	svc := newTestService(t)

	file, err := svc.store.WriteDeck("/decks/x/Broken", []deck.ReviewRecord{
		{Url: "/grammar_points/a?deck_id=7", Srs: ptr("Stage"), ReviewableId: 41, DeckId: ptr(int64(7))},
		{Url: "/grammar_points/b?deck_id=7", Srs: ptr("Stage 3"), ReviewableId: 42, DeckId: ptr(int64(7))},
	})
	require.NoError(t, err)

	_, err = svc.RestoreDeck(ctx, file)
	require.ErrorContains(t, err, "malformed srs stage label")

	// the malformed record aborts before any api call is made
	calls := httpmock.GetCallCountInfo()
	require.Equal(t, 0, calls["PATCH https://bunpro.jp/api/frontend/reviews/add_to_reviews"])
}

func TestRestoreKanjiSendsKeySet(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/srsbackup")
	defer cleanup()
	ctx := context.Background()

	svc := newTestService(t)
	require.NoError(t, svc.store.WriteKanji(json.RawMessage(
		`{"known_kanji":{"水":{"level":1},"火":{"level":2}}}`,
	)))

	httpmock.RegisterResponder(
		"POST", "https://bunpro.jp/api/frontend/user/add_known_kanji",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				Kanjis []string `json:"kanjis"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.ElementsMatch(t, []string{"水", "火"}, body.Kanjis)
			return httpmock.NewStringResponse(200, `{}`), nil
		},
	)

	require.NoError(t, svc.RestoreKanji(ctx))
	calls := httpmock.GetCallCountInfo()
	require.Equal(t, 1, calls["POST https://bunpro.jp/api/frontend/user/add_known_kanji"])
}

func TestParseStreak(t *testing.T) {
	streak, err := ParseStreak("Stage 3")
	require.NoError(t, err)
	require.Equal(t, 3, streak)

	_, err = ParseStreak("Stage")
	require.ErrorContains(t, err, "malformed")

	_, err = ParseStreak("Stage three")
	require.ErrorContains(t, err, "malformed")
}
