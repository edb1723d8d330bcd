package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/models"
)

// InsightConfig carries the synthesis tunables.
type InsightConfig struct {
	// AnomalyVarianceMultiple is how many standard deviations the current
	// daily spend may drift from the baseline before a finding becomes an
	// anomaly.
	AnomalyVarianceMultiple float64
	// LowVolumeFloor is the row count below which a finding is downgraded
	// to lowest confidence rather than suppressed.
	LowVolumeFloor int
	// MaxPerRun bounds how many insights one invocation may produce.
	MaxPerRun int
	// Retention is how long a produced insight stays valid.
	Retention time.Duration
}

// InsightAgent turns a QueryResult plus a historical baseline into a ranked
// set of insights. Classification and confidence are computed from the data;
// the model gateway only rephrases the finding text and is allowed to fail.
type InsightAgent struct {
	generator llm.Generator
	logger    *slog.Logger
	cfg       InsightConfig
	now       func() time.Time
}

// NewInsightAgent creates the insight agent.
func NewInsightAgent(generator llm.Generator, logger *slog.Logger, cfg InsightConfig) *InsightAgent {
	if cfg.MaxPerRun <= 0 {
		cfg.MaxPerRun = 3
	}
	return &InsightAgent{
		generator: generator,
		logger:    logger.With("agent", "insight_generator"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// ResultSummary condenses a QueryResult into the figures insight text is
// built from.
type ResultSummary struct {
	Total    decimal.Decimal
	Count    int
	HasTotal bool
}

// Summarize extracts total spend and transaction count from a query result.
// It understands the aggregate column names the analyst emits and falls back
// to summing per-row amount columns.
func Summarize(result models.QueryResult) ResultSummary {
	summary := ResultSummary{Count: result.RowCount}
	if len(result.Rows) == 0 {
		return summary
	}

	first := result.Rows[0]
	if _, ok := first["total_cents"]; ok {
		summary.Total = centsToDollars(rowInt64(first, "total_cents"))
		summary.HasTotal = true
		if _, ok := first["txn_count"]; ok {
			summary.Count = int(rowInt64(first, "txn_count"))
		}
		return summary
	}

	total := decimal.Zero
	found := false
	for _, row := range result.Rows {
		if _, ok := row["amount"]; ok {
			total = total.Add(centsToDollars(rowInt64(row, "amount")))
			found = true
		}
	}
	if found {
		summary.Total = total
		summary.HasTotal = true
	}
	return summary
}

// Synthesize classifies the findings in the result against the baseline and
// returns at most MaxPerRun insights ranked by confidence. It never returns
// an empty error alongside an empty slice for a populated result; an empty
// result yields a single low-confidence recommendation.
func (a *InsightAgent) Synthesize(ctx context.Context, result models.QueryResult, intent models.Intent, baseline Baseline, userID string) ([]models.Insight, error) {
	summary := Summarize(result)
	now := a.now().UTC()

	candidates := a.classify(summary, intent, baseline)
	if band, ok := a.bandCandidate(result, intent, a.confidence(summary.Count, baseline)); ok {
		candidates = append(candidates, band)
	}

	insights := make([]models.Insight, 0, len(candidates))
	for i, c := range candidates {
		content := a.polish(ctx, c.content)
		insights = append(insights, models.Insight{
			ID:         uuid.NewString(),
			UserID:     userID,
			Kind:       c.kind,
			Title:      c.title,
			Content:    content,
			Confidence: c.confidence,
			CreatedAt:  now.Add(time.Duration(i) * time.Millisecond),
			ExpiresAt:  now.Add(a.cfg.Retention),
			Read:       false,
		})
	}

	sort.SliceStable(insights, func(i, j int) bool {
		if insights[i].Confidence != insights[j].Confidence {
			return insights[i].Confidence > insights[j].Confidence
		}
		return insights[i].CreatedAt.After(insights[j].CreatedAt)
	})
	if len(insights) > a.cfg.MaxPerRun {
		insights = insights[:a.cfg.MaxPerRun]
	}
	return insights, nil
}

type candidate struct {
	kind       models.InsightKind
	title      string
	content    string
	confidence float64
}

func (a *InsightAgent) classify(summary ResultSummary, intent models.Intent, baseline Baseline) []candidate {
	subject := "overall spending"
	if intent.Category != "" {
		subject = intent.Category + " spending"
	}
	window := describeWindow(intent.DateRange)
	conf := a.confidence(summary.Count, baseline)

	var out []candidate

	// Primary finding from the aggregate itself.
	primary := candidate{
		kind:       models.InsightKindRecommendation,
		title:      fmt.Sprintf("Your %s %s", subject, window),
		confidence: conf,
	}
	switch {
	case !summary.HasTotal:
		primary.content = fmt.Sprintf("Your query about %s matched %d records %s.", subject, summary.Count, window)
	case summary.Count == 0:
		primary.content = fmt.Sprintf("No %s was recorded %s.", subject, window)
	default:
		primary.content = fmt.Sprintf("You spent $%s across %d transactions on %s %s.",
			summary.Total.StringFixed(2), summary.Count, subject, window)
	}
	if intent.Metric == models.MetricTrend {
		primary.kind = models.InsightKindTrend
	}
	out = append(out, primary)

	if !summary.HasTotal || baseline.Days == 0 {
		return out
	}

	// Anomaly: current daily rate outside the baseline envelope.
	days := math.Max(intent.DateRange.Duration().Hours()/24, 1)
	totalF, _ := summary.Total.Float64()
	currentDaily := totalF / days
	stddev := math.Sqrt(baseline.DailyVariance)
	if stddev > 0 && math.Abs(currentDaily-baseline.DailyMean) > a.cfg.AnomalyVarianceMultiple*stddev {
		direction := "above"
		if currentDaily < baseline.DailyMean {
			direction = "below"
		}
		out = append(out, candidate{
			kind:  models.InsightKindAnomaly,
			title: fmt.Sprintf("Unusual %s", subject),
			content: fmt.Sprintf("Your daily %s of $%.2f %s is well %s your typical $%.2f per day.",
				subject, currentDaily, window, direction, baseline.DailyMean),
			confidence: conf,
		})
	}

	// Period-over-period comparison when the prior window has data.
	if baseline.Total.IsPositive() {
		change := summary.Total.Sub(baseline.Total)
		pct := change.Div(baseline.Total).Mul(decimal.NewFromInt(100))
		c := candidate{kind: models.InsightKindTrend, title: fmt.Sprintf("%s compared with the prior period", capitalize(subject)), confidence: conf}
		switch {
		case pct.LessThanOrEqual(decimal.NewFromInt(-5)):
			c.kind = models.InsightKindRecommendation
			c.content = fmt.Sprintf("Nice work: your %s is down %s%% from the previous period ($%s vs $%s). Keep it up.",
				subject, pct.Abs().StringFixed(1), summary.Total.StringFixed(2), baseline.Total.StringFixed(2))
		case pct.GreaterThanOrEqual(decimal.NewFromInt(5)):
			c.content = fmt.Sprintf("Your %s is up %s%% from the previous period ($%s vs $%s).",
				subject, pct.StringFixed(1), summary.Total.StringFixed(2), baseline.Total.StringFixed(2))
		default:
			c.content = fmt.Sprintf("Your %s is holding steady at $%s, within 5%% of the previous period.",
				subject, summary.Total.StringFixed(2))
		}
		out = append(out, c)
	}
	return out
}

// amountBand labels a purchase size bucket, boundaries in dollars.
type amountBand struct {
	label string
	max   float64
}

var amountBands = []amountBand{
	{"small (under $10)", 10},
	{"medium ($10-$50)", 50},
	{"large ($50-$200)", 200},
	{"very large (over $200)", math.Inf(1)},
}

// bandCandidate breaks per-row amounts into purchase-size bands and reports
// where the money concentrates. Only applies to row-level results.
func (a *InsightAgent) bandCandidate(result models.QueryResult, intent models.Intent, conf float64) (candidate, bool) {
	counts := make([]int, len(amountBands))
	totals := make([]float64, len(amountBands))
	seen := 0
	for _, row := range result.Rows {
		if _, ok := row["amount"]; !ok {
			continue
		}
		dollars, _ := centsToDollars(rowInt64(row, "amount")).Float64()
		for i, band := range amountBands {
			if dollars <= band.max {
				counts[i]++
				totals[i] += dollars
				break
			}
		}
		seen++
	}
	if seen < 3 {
		return candidate{}, false
	}

	top := 0
	for i := range totals {
		if totals[i] > totals[top] {
			top = i
		}
	}

	subject := "purchases"
	if intent.Category != "" {
		subject = intent.Category + " purchases"
	}
	return candidate{
		kind:  models.InsightKindRecommendation,
		title: fmt.Sprintf("Where your %s money goes", subject),
		content: fmt.Sprintf("Most of your spending came from %s %s: %d of them totaling $%.2f.",
			amountBands[top].label, subject, counts[top], totals[top]),
		confidence: conf,
	}, true
}

// confidence derives a normalized score from data volume and baseline
// stability. Results under the low-volume floor are pinned to the lowest
// confidence rather than dropped.
func (a *InsightAgent) confidence(count int, baseline Baseline) float64 {
	if count < a.cfg.LowVolumeFloor {
		return 0.1
	}
	volume := math.Min(1, float64(count)/30)
	stability := 1.0
	if baseline.Days > 0 && baseline.DailyMean > 0 {
		cv := math.Sqrt(baseline.DailyVariance) / baseline.DailyMean
		stability = 1 / (1 + cv)
	}
	score := 0.3 + 0.7*volume*stability
	return math.Round(math.Min(score, 1)*100) / 100
}

// Improvement compares the averages of two adjacent window halves and
// returns an insight when spending moved more than five percent either way.
// Returns nil for flat or empty data.
func (a *InsightAgent) Improvement(ctx context.Context, earlier, later Aggregate, userID string) *models.Insight {
	if earlier.Count == 0 || later.Count == 0 || !earlier.Average.IsPositive() {
		return nil
	}

	change := later.Average.Sub(earlier.Average).Div(earlier.Average).Mul(decimal.NewFromInt(100))
	var title, content string
	kind := models.InsightKindRecommendation
	switch {
	case change.LessThanOrEqual(decimal.NewFromInt(-5)):
		title = "Your spending is improving"
		content = fmt.Sprintf("Your average transaction dropped %s%% recently ($%s vs $%s). Whatever you changed, it is working.",
			change.Abs().StringFixed(1), later.Average.StringFixed(2), earlier.Average.StringFixed(2))
	case change.GreaterThanOrEqual(decimal.NewFromInt(5)):
		kind = models.InsightKindTrend
		title = "Your spending is creeping up"
		content = fmt.Sprintf("Your average transaction rose %s%% recently ($%s vs $%s).",
			change.StringFixed(1), later.Average.StringFixed(2), earlier.Average.StringFixed(2))
	default:
		return nil
	}

	now := a.now().UTC()
	return &models.Insight{
		ID:         uuid.NewString(),
		UserID:     userID,
		Kind:       kind,
		Title:      title,
		Content:    a.polish(ctx, content),
		Confidence: a.confidence(earlier.Count+later.Count, Baseline{}),
		CreatedAt:  now,
		ExpiresAt:  now.Add(a.cfg.Retention),
	}
}

// polish asks the model to rephrase the deterministic finding. Any gateway
// failure keeps the template text; synthesis never fails on phrasing.
func (a *InsightAgent) polish(ctx context.Context, content string) string {
	prompt := fmt.Sprintf(`Rewrite this financial insight in one friendly sentence, keeping every number exactly as written:

%s

Respond with the sentence only.`, content)

	text, err := a.generator.Generate(ctx, prompt, llm.Options{MaxTokens: 128, Temperature: 0.4})
	if err != nil {
		a.logger.Debug("insight polish skipped", "error", err)
		return content
	}
	text = strings.TrimSpace(llm.StripCodeFence(text))
	if text == "" || !keepsNumbers(content, text) {
		return content
	}
	return text
}

// keepsNumbers verifies the rephrased text still carries the dollar figures
// from the template.
func keepsNumbers(original, rewritten string) bool {
	for _, field := range strings.Fields(original) {
		if strings.HasPrefix(field, "$") {
			amount := strings.TrimRight(field, ".,;")
			if !strings.Contains(rewritten, amount) {
				return false
			}
		}
	}
	return true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func describeWindow(r models.DateRange) string {
	if r.Start.IsZero() && r.End.IsZero() {
		return "recently"
	}
	return fmt.Sprintf("between %s and %s", r.Start.Format("Jan 2"), r.End.Format("Jan 2"))
}
