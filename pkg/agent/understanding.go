package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/models"
)

// UnderstandingAgent turns free-form query text into a structured Intent.
// It delegates extraction to the model gateway and validates the result
// against the Intent schema; ambiguity is not resolved interactively.
type UnderstandingAgent struct {
	generator llm.Generator
	now       func() time.Time // injectable clock for tests
}

// NewUnderstandingAgent creates the understanding agent.
func NewUnderstandingAgent(generator llm.Generator) *UnderstandingAgent {
	return &UnderstandingAgent{generator: generator, now: time.Now}
}

// intentPayload is the JSON shape the model is asked to produce.
type intentPayload struct {
	Category           string `json:"category"`
	TimePeriod         string `json:"time_period"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	Metric             string `json:"metric"`
	ComparisonTarget   string `json:"comparison_target"`
	NeedsVisualization bool   `json:"needs_visualization"`
}

// Understand extracts a validated Intent from the raw query text. The
// user's known categories bias entity extraction; a category outside the
// known set, an unparsable date range, or a missing metric all yield an
// intent-parse error.
func (a *UnderstandingAgent) Understand(ctx context.Context, rawText string, pref models.UserPreference) (models.Intent, error) {
	const stage = "understanding"

	if strings.TrimSpace(rawText) == "" {
		return models.Intent{}, NewError(ErrorKindIntentParse, stage, fmt.Errorf("query text is empty"))
	}

	known := KnownCategories(preferenceKeys(pref))
	prompt := buildUnderstandingPrompt(rawText, known)

	raw, err := a.generator.Generate(ctx, prompt, llm.Options{MaxTokens: 512, Temperature: 0.1})
	if err != nil {
		return models.Intent{}, Classify(stage, ErrorKindInternal, err)
	}

	var payload intentPayload
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &payload); err != nil {
		return models.Intent{}, NewError(ErrorKindIntentParse, stage, fmt.Errorf("model output is not valid intent JSON: %w", err))
	}

	metric := models.Metric(payload.Metric)
	if !metric.Valid() {
		return models.Intent{}, NewError(ErrorKindIntentParse, stage, fmt.Errorf("unknown metric %q", payload.Metric))
	}

	dateRange, err := a.resolveDateRange(payload)
	if err != nil {
		return models.Intent{}, NewError(ErrorKindIntentParse, stage, err)
	}

	category := strings.ToLower(strings.TrimSpace(payload.Category))
	if category != "" && !contains(known, category) {
		return models.Intent{}, NewError(ErrorKindIntentParse, stage, fmt.Errorf("category %q is not among known categories", category))
	}

	return models.Intent{
		RawText:            rawText,
		Category:           category,
		DateRange:          dateRange,
		Metric:             metric,
		ComparisonTarget:   strings.TrimSpace(payload.ComparisonTarget),
		NeedsVisualization: payload.NeedsVisualization,
	}, nil
}

func (a *UnderstandingAgent) resolveDateRange(payload intentPayload) (models.DateRange, error) {
	if payload.StartDate != "" && payload.EndDate != "" {
		start, errS := time.Parse("2006-01-02", payload.StartDate)
		end, errE := time.Parse("2006-01-02", payload.EndDate)
		if errS != nil || errE != nil || !end.After(start) {
			return models.DateRange{}, fmt.Errorf("unparsable date range %q..%q", payload.StartDate, payload.EndDate)
		}
		return models.DateRange{Start: start, End: end}, nil
	}
	if r, ok := ResolvePeriod(payload.TimePeriod, a.now()); ok {
		return r, nil
	}
	return models.DateRange{}, fmt.Errorf("unparsable time period %q", payload.TimePeriod)
}

// ResolvePeriod maps a relative period token to a concrete date range
// anchored at now. Returns false for unknown tokens.
func ResolvePeriod(token string, now time.Time) (models.DateRange, bool) {
	now = now.UTC()
	today := now.Truncate(24 * time.Hour)
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "today":
		return models.DateRange{Start: today, End: today.AddDate(0, 0, 1)}, true
	case "yesterday":
		return models.DateRange{Start: today.AddDate(0, 0, -1), End: today}, true
	case "this_week", "this week":
		start := models.PeriodWeekly.Start(now)
		return models.DateRange{Start: start, End: start.AddDate(0, 0, 7)}, true
	case "last_week", "last week":
		start := models.PeriodWeekly.Start(now).AddDate(0, 0, -7)
		return models.DateRange{Start: start, End: start.AddDate(0, 0, 7)}, true
	case "this_month", "this month":
		start := models.PeriodMonthly.Start(now)
		return models.DateRange{Start: start, End: start.AddDate(0, 1, 0)}, true
	case "last_month", "last month":
		start := models.PeriodMonthly.Start(now).AddDate(0, -1, 0)
		return models.DateRange{Start: start, End: start.AddDate(0, 1, 0)}, true
	case "this_year", "this year":
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return models.DateRange{Start: start, End: start.AddDate(1, 0, 0)}, true
	}
	return models.DateRange{}, false
}

func buildUnderstandingPrompt(rawText string, knownCategories []string) string {
	var sb strings.Builder
	sb.WriteString("Analyze this user question about their personal banking and spending data.\n\n")
	sb.WriteString(fmt.Sprintf("Question: %q\n\n", rawText))
	sb.WriteString("Known spending categories: ")
	sb.WriteString(strings.Join(knownCategories, ", "))
	sb.WriteString("\n\nRespond with a single JSON object and nothing else:\n")
	sb.WriteString(`{
  "category": "one of the known categories, or empty string if none applies",
  "time_period": "one of: today, yesterday, this_week, last_week, this_month, last_month, this_year",
  "start_date": "YYYY-MM-DD, only when the question names explicit dates",
  "end_date": "YYYY-MM-DD, only when the question names explicit dates",
  "metric": "one of: sum, avg, trend, compare",
  "comparison_target": "what to compare against, or empty string",
  "needs_visualization": true
}`)
	return sb.String()
}

// Extracted categories are lowercased before validation, so stored keys
// must be lowercased here too or they could never match.
func preferenceKeys(pref models.UserPreference) []string {
	keys := make([]string, 0, len(pref.Categories))
	for k := range pref.Categories {
		keys = append(keys, strings.ToLower(k))
	}
	return keys
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
