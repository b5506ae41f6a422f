package deck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"bunpro-backup/lib/htmlutil"
	"bunpro-backup/lib/scrapers/bunpro/core"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/bunpro/deck")

// number of item detail pages fetched at once
const detailConcurrency = 4

// ReviewRecord is the backed-up review state of a single deck item.
// Srs is nil when the item is not in the review queue yet; such
// records are skipped on restore. DeckId is nil when the item link
// carries no deck_id query parameter.
type ReviewRecord struct {
	Url          string  `json:"url"`
	Srs          *string `json:"srs"`
	ReviewableId int64   `json:"reviewable_id"`
	DeckId       *int64  `json:"deck_id"`
}

type Result struct {
	Records []ReviewRecord
	// cards on the statistics page that had no detail link and
	// therefore could not be resolved to a reviewable
	SkippedCards int
}

// Scrape walks a deck's statistics page and resolves one ReviewRecord
// per item card, in document order. It fetches each card's detail page
// to recover the internal reviewable id, with at most detailConcurrency
// fetches in flight; emit order is still the page's section order.
func Scrape(ctx context.Context, client *core.Client, deckPath string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Scrape")
	defer span.End()
	span.SetAttributes(attribute.String("deck", deckPath))

	if err := client.EnsureLogin(ctx); err != nil {
		return Result{}, err
	}

	res, err := client.Http.R().
		SetContext(ctx).
		Get(deckPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch deck statistics page")
		return Result{}, err
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "deck statistics page returned an error status")
		return Result{}, fmt.Errorf("deck statistics page returned status %d", res.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse deck statistics page")
		return Result{}, err
	}

	var out Result
	doc.Find("div.deck-info-card").Each(func(i int, card *goquery.Selection) {
		anchors := htmlutil.GetAnchors(card.Find("a"))
		if len(anchors) == 0 {
			// a card without a detail link can never be restored,
			// keep the rest of the deck instead of failing the scrape
			slog.WarnContext(ctx, "skipping card without a detail link", "card", i)
			out.SkippedCards++
			return
		}
		href := anchors[0].Href

		out.Records = append(out.Records, ReviewRecord{
			Url:    href,
			Srs:    srsLabel(card),
			DeckId: deckIdFromUrl(href),
		})
	})
	span.SetAttributes(
		attribute.Int("cards", len(out.Records)),
		attribute.Int("skipped_cards", out.SkippedCards),
	)

	sem := make(chan struct{}, detailConcurrency)
	wg := sync.WaitGroup{}
	errs := make([]error, len(out.Records))
	for i := range out.Records {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			id, err := fetchReviewableId(ctx, client, out.Records[i].Url)
			if err != nil {
				errs[i] = fmt.Errorf("card %q: %w", out.Records[i].Url, err)
				return
			}
			out.Records[i].ReviewableId = id
		}(i)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		span.SetStatus(codes.Error, "failed to resolve reviewable ids")
		return Result{}, err
	}
	return out, nil
}

// srsLabel extracts the item's stage label, e.g. "Stage 3", from the
// first span mentioning SRS. The "SRS" marker itself is not part of
// the label. Returns nil when the item has no stage, meaning it is
// not in the review queue yet.
func srsLabel(card *goquery.Selection) *string {
	var label *string
	card.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		text := htmlutil.CleanText(span.Text())
		if !strings.Contains(text, "SRS") {
			return true
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, "SRS"))
		text = strings.TrimSpace(strings.TrimPrefix(text, ":"))
		label = &text
		return false
	})
	return label
}

func deckIdFromUrl(href string) *int64 {
	link, err := url.Parse(href)
	if err != nil {
		return nil
	}
	raw := link.Query().Get("deck_id")
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// fetchReviewableId loads an item's detail page and pulls the internal
// reviewable id out of the JSON document next.js embeds in the page.
func fetchReviewableId(ctx context.Context, client *core.Client, href string) (int64, error) {
	res, err := client.Http.R().
		SetContext(ctx).
		Get(href)
	if err != nil {
		return 0, err
	}
	if !res.IsSuccess() {
		return 0, fmt.Errorf("item detail page returned status %d", res.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return 0, err
	}

	data := doc.Find(`script#__NEXT_DATA__[type="application/json"]`)
	if data.Length() == 0 {
		return 0, errors.New("item detail page is missing the __NEXT_DATA__ document")
	}

	var payload struct {
		Props struct {
			PageProps struct {
				Reviewable struct {
					Id json.Number `json:"id"`
				} `json:"reviewable"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	err = json.Unmarshal([]byte(data.Text()), &payload)
	if err != nil {
		return 0, fmt.Errorf("failed to parse __NEXT_DATA__: %w", err)
	}
	if payload.Props.PageProps.Reviewable.Id == "" {
		return 0, errors.New("__NEXT_DATA__ has no props.pageProps.reviewable.id")
	}
	id, err := payload.Props.PageProps.Reviewable.Id.Int64()
	if err != nil {
		return 0, fmt.Errorf("reviewable id is not numeric: %w", err)
	}
	return id, nil
}
