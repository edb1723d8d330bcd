package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/finsight-ai/finsight/pkg/models"
)

// PreferenceStore is the persistence contract the preference agent needs.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (models.UserPreference, error)
	Merge(ctx context.Context, userID string, patch models.UserPreference) (models.UserPreference, error)
}

// InteractionStore records append-only interaction events.
type InteractionStore interface {
	Record(ctx context.Context, interaction models.Interaction) error
	ListRecent(ctx context.Context, userID string, limit int) ([]models.Interaction, error)
}

// PreferenceAgent supplies personalization context to the other agents and
// fronts the preference and interaction stores.
type PreferenceAgent struct {
	prefs        PreferenceStore
	interactions InteractionStore
	now          func() time.Time
}

// NewPreferenceAgent creates the preference agent. Panics on nil stores.
func NewPreferenceAgent(prefs PreferenceStore, interactions InteractionStore) *PreferenceAgent {
	if prefs == nil || interactions == nil {
		panic("preference agent requires both stores")
	}
	return &PreferenceAgent{prefs: prefs, interactions: interactions, now: time.Now}
}

// Get returns the user's preference, defaulting to empty for unknown users.
func (a *PreferenceAgent) Get(ctx context.Context, userID string) (models.UserPreference, error) {
	pref, err := a.prefs.Get(ctx, userID)
	if err != nil {
		return models.UserPreference{}, NewError(ErrorKindInternal, "preferences", err)
	}
	return pref, nil
}

// Merge applies a category-wise patch and returns the stored result. Each
// category key in the patch replaces its stored sub-object entirely;
// categories absent from the patch are untouched.
func (a *PreferenceAgent) Merge(ctx context.Context, userID string, patch models.UserPreference) (models.UserPreference, error) {
	if len(patch.Categories) == 0 {
		return models.UserPreference{}, NewError(ErrorKindIntentParse, "preferences", fmt.Errorf("preference patch is empty"))
	}
	merged, err := a.prefs.Merge(ctx, userID, patch)
	if err != nil {
		return models.UserPreference{}, NewError(ErrorKindInternal, "preferences", err)
	}
	return merged, nil
}

// RecordInteraction appends one event to the interaction log, stamping the
// time when the caller left it zero.
func (a *PreferenceAgent) RecordInteraction(ctx context.Context, interaction models.Interaction) error {
	if interaction.UserID == "" || interaction.EventType == "" {
		return NewError(ErrorKindIntentParse, "preferences", fmt.Errorf("interaction requires user_id and event_type"))
	}
	if interaction.Timestamp.IsZero() {
		interaction.Timestamp = a.now().UTC()
	}
	if err := a.interactions.Record(ctx, interaction); err != nil {
		return NewError(ErrorKindInternal, "preferences", err)
	}
	return nil
}

// RecentInteractions returns the user's most recent interaction events,
// newest first. The personalization signal for dashboards and prompts.
func (a *PreferenceAgent) RecentInteractions(ctx context.Context, userID string, limit int) ([]models.Interaction, error) {
	events, err := a.interactions.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, NewError(ErrorKindInternal, "preferences", err)
	}
	return events, nil
}

const (
	// recommendationEventWindow is how many recent interactions feed the
	// personalization heuristic.
	recommendationEventWindow = 50
	// minCategoryMentions is the frequency floor below which a category
	// produces no recommendation.
	minCategoryMentions = 2
	// maxRecommendations caps one Recommendations call.
	maxRecommendations = 5
)

// Recommendations derives personalization suggestions from the user's
// recent interactions and stored preferences. A frequently queried category
// the user does not track yields a tracking suggestion; a tracked, enabled
// category they keep asking about yields an alert suggestion.
func (a *PreferenceAgent) Recommendations(ctx context.Context, userID string) ([]models.Recommendation, error) {
	pref, err := a.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	events, err := a.interactions.ListRecent(ctx, userID, recommendationEventWindow)
	if err != nil {
		return nil, NewError(ErrorKindInternal, "preferences", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	for _, ev := range events {
		category, ok := ev.Payload["category"].(string)
		if !ok || category == "" {
			continue
		}
		counts[strings.ToLower(category)]++
	}

	recs := make([]models.Recommendation, 0, len(counts))
	for category, count := range counts {
		if count < minCategoryMentions {
			continue
		}
		score := float64(count) / float64(len(events))
		stored, tracked := lookupCategory(pref, category)
		switch {
		case !tracked:
			recs = append(recs, models.Recommendation{
				Category: category,
				Action:   "track_category",
				Reason:   fmt.Sprintf("You asked about %s %d times recently. Set a budget threshold to track it.", category, count),
				Score:    score,
			})
		case stored.Enabled:
			recs = append(recs, models.Recommendation{
				Category: category,
				Action:   "set_alert",
				Reason:   fmt.Sprintf("You track %s and ask about it often. A spending alert would notify you past your $%s threshold.", category, stored.Threshold.StringFixed(2)),
				Score:    score,
			})
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].Category < recs[j].Category
	})
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs, nil
}

func lookupCategory(pref models.UserPreference, category string) (models.CategoryPreference, bool) {
	for k, v := range pref.Categories {
		if strings.EqualFold(k, category) {
			return v, true
		}
	}
	return models.CategoryPreference{}, false
}

// Categories returns the user's known category set, builtin plus any
// preference-defined ones.
func (a *PreferenceAgent) Categories(ctx context.Context, userID string) ([]string, error) {
	pref, err := a.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return KnownCategories(preferenceKeys(pref)), nil
}
