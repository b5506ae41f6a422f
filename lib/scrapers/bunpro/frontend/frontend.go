// Package frontend talks to the undocumented JSON api backing the
// bunpro web frontend. Every call is authorized by the token cookie
// issued at login, sent as a bearer-style Authorization header.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bunpro-backup/lib/scrapers/bunpro/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/bunpro/frontend")

const (
	addKnownKanjiPath = "/api/frontend/user/add_known_kanji"
	addToReviewsPath  = "/api/frontend/reviews/add_to_reviews"
)

// the only reviewable type this tool replays
const reviewableTypeGrammarPoint = "GrammarPoint"

type Client struct {
	core *core.Client
}

func NewClient(coreClient *core.Client) Client {
	return Client{core: coreClient}
}

func (c Client) authorization() (string, error) {
	token := c.core.APIToken()
	if token == "" {
		return "", errors.New("session has no frontend api token cookie, login first")
	}
	return fmt.Sprintf("Token token=%s", token), nil
}

// AddKnownKanji submits the set of known kanji and returns the raw
// response document, which contains the server's full known-kanji
// state. Posting an empty list reads the current state back without
// changing it, which is how backups snapshot it.
func (c Client) AddKnownKanji(ctx context.Context, kanjis []string) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "client:AddKnownKanji")
	defer span.End()
	span.SetAttributes(attribute.Int("kanjis", len(kanjis)))

	auth, err := c.authorization()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if kanjis == nil {
		kanjis = []string{}
	}

	res, err := c.core.Http.R().
		SetContext(ctx).
		SetHeader("Authorization", auth).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"kanjis": kanjis}).
		Post(addKnownKanjiPath)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "add_known_kanji returned an error status")
		return nil, fmt.Errorf("add_known_kanji returned status %d", res.StatusCode())
	}
	return json.RawMessage(res.Body()), nil
}

// AddToReviews registers a grammar point for review and returns the
// id of the newly created review.
func (c Client) AddToReviews(ctx context.Context, reviewableId int64, deckId *int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "client:AddToReviews")
	defer span.End()
	span.SetAttributes(attribute.Int64("reviewable_id", reviewableId))

	auth, err := c.authorization()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	res, err := c.core.Http.R().
		SetContext(ctx).
		SetHeader("Authorization", auth).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"reviewable_id":   reviewableId,
			"reviewable_type": reviewableTypeGrammarPoint,
			"deck_id":         deckId,
		}).
		Patch(addToReviewsPath)
	if err != nil {
		return 0, err
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "add_to_reviews returned an error status")
		return 0, fmt.Errorf("add_to_reviews returned status %d", res.StatusCode())
	}

	var envelope struct {
		Data struct {
			Id json.Number `json:"id"`
		} `json:"data"`
	}
	err = json.Unmarshal(res.Body(), &envelope)
	if err != nil {
		return 0, fmt.Errorf("failed to parse add_to_reviews response: %w", err)
	}
	if envelope.Data.Id == "" {
		return 0, errors.New("add_to_reviews response has no data.id")
	}
	id, err := envelope.Data.Id.Int64()
	if err != nil {
		return 0, fmt.Errorf("review id is not numeric: %w", err)
	}
	return id, nil
}

// SetStreak replays an item's spaced-repetition streak onto a review
// created by AddToReviews.
func (c Client) SetStreak(ctx context.Context, reviewId int64, streak int) error {
	ctx, span := tracer.Start(ctx, "client:SetStreak")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("review_id", reviewId),
		attribute.Int("streak", streak),
	)

	auth, err := c.authorization()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res, err := c.core.Http.R().
		SetContext(ctx).
		SetHeader("Authorization", auth).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"action_type": "set_streak",
			"new_streak":  streak,
		}).
		Patch(fmt.Sprintf("/api/frontend/reviews/%d/update_via_action_type", reviewId))
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "update_via_action_type returned an error status")
		return fmt.Errorf("update_via_action_type returned status %d", res.StatusCode())
	}
	return nil
}
