package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/models"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func testInsightConfig() InsightConfig {
	return InsightConfig{
		AnomalyVarianceMultiple: 2.0,
		LowVolumeFloor:          5,
		MaxPerRun:               3,
		Retention:               7 * 24 * time.Hour,
	}
}

func newTestInsightAgent(gen *fakeGenerator) *InsightAgent {
	a := NewInsightAgent(gen, slog.Default(), testInsightConfig())
	a.now = fixedNow
	return a
}

func coffeeResult() models.QueryResult {
	return models.QueryResult{
		Rows:     []models.Row{{"total_cents": int64(6340), "txn_count": int64(14)}},
		RowCount: 1,
	}
}

func TestSynthesize_CoffeeMonthScenario(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("gateway down")} // template text survives
	a := newTestInsightAgent(gen)

	intent := models.Intent{
		RawText:  "How much did I spend on coffee this month?",
		Category: "coffee",
		Metric:   models.MetricSum,
		DateRange: models.DateRange{
			Start: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	insights, err := a.Synthesize(context.Background(), coffeeResult(), intent, Baseline{}, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, insights)

	first := insights[0]
	assert.Contains(t, []models.InsightKind{models.InsightKindRecommendation, models.InsightKindTrend}, first.Kind)
	assert.Contains(t, first.Content, "$63.40")
	assert.Contains(t, first.Content, "14 transactions")
	assert.Greater(t, first.Confidence, 0.1)
	assert.Equal(t, "alice", first.UserID)
	assert.Equal(t, first.CreatedAt.Add(7*24*time.Hour), first.ExpiresAt)
}

func TestSynthesize_LowVolumeDowngraded(t *testing.T) {
	a := newTestInsightAgent(&fakeGenerator{err: errors.New("down")})

	result := models.QueryResult{
		Rows:     []models.Row{{"total_cents": int64(900), "txn_count": int64(2)}},
		RowCount: 1,
	}
	insights, err := a.Synthesize(context.Background(), result, testIntent(), Baseline{}, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, insights)

	assert.InDelta(t, 0.1, insights[0].Confidence, 0.0001)
}

func TestSynthesize_AnomalyAgainstBaseline(t *testing.T) {
	a := newTestInsightAgent(&fakeGenerator{err: errors.New("down")})

	// 30-day window, $600 total: $20/day against a $5/day baseline with
	// stddev 2 clears the 2-sigma envelope.
	intent := testIntent()
	result := models.QueryResult{
		Rows:     []models.Row{{"total_cents": int64(60000), "txn_count": int64(40)}},
		RowCount: 1,
	}
	baseline := Baseline{
		Total:         mustDecimal(t, "155.00"),
		DailyMean:     5.0,
		DailyVariance: 4.0,
		Days:          31,
	}

	insights, err := a.Synthesize(context.Background(), result, intent, baseline, "alice")
	require.NoError(t, err)

	kinds := make([]models.InsightKind, 0, len(insights))
	for _, in := range insights {
		kinds = append(kinds, in.Kind)
	}
	assert.Contains(t, kinds, models.InsightKindAnomaly)
}

func TestSynthesize_SpendingDownRecommendation(t *testing.T) {
	a := newTestInsightAgent(&fakeGenerator{err: errors.New("down")})

	result := models.QueryResult{
		Rows:     []models.Row{{"total_cents": int64(9000), "txn_count": int64(20)}},
		RowCount: 1,
	}
	baseline := Baseline{
		Total:         mustDecimal(t, "120.00"),
		DailyMean:     3.87,
		DailyVariance: 1.0,
		Days:          31,
	}

	insights, err := a.Synthesize(context.Background(), result, testIntent(), baseline, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, insights)

	// down 25% from $120 to $90: one candidate praises the reduction
	var praised bool
	for _, in := range insights {
		if in.Kind == models.InsightKindRecommendation && strings.Contains(in.Content, "down 25.0%") {
			praised = true
		}
	}
	assert.True(t, praised, "expected a spending-down recommendation, got %+v", insights)
}

func TestSynthesize_RespectsMaxPerRun(t *testing.T) {
	cfg := testInsightConfig()
	cfg.MaxPerRun = 1
	a := NewInsightAgent(&fakeGenerator{err: errors.New("down")}, slog.Default(), cfg)
	a.now = fixedNow

	baseline := Baseline{Total: mustDecimal(t, "10.00"), DailyMean: 0.3, DailyVariance: 0.01, Days: 31}
	insights, err := a.Synthesize(context.Background(), coffeeResult(), testIntent(), baseline, "alice")
	require.NoError(t, err)
	assert.Len(t, insights, 1)
}

func TestSynthesize_RanksByConfidence(t *testing.T) {
	a := newTestInsightAgent(&fakeGenerator{err: errors.New("down")})

	baseline := Baseline{Total: mustDecimal(t, "50.00"), DailyMean: 1.6, DailyVariance: 0.5, Days: 31}
	insights, err := a.Synthesize(context.Background(), coffeeResult(), testIntent(), baseline, "alice")
	require.NoError(t, err)

	for i := 1; i < len(insights); i++ {
		assert.GreaterOrEqual(t, insights[i-1].Confidence, insights[i].Confidence)
	}
}

func TestPolish_KeepsTemplateWhenNumbersDropped(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"You spent a lot on coffee!"}}
	a := newTestInsightAgent(gen)

	content := a.polish(context.Background(), "You spent $63.40 across 14 transactions on coffee.")
	assert.Contains(t, content, "$63.40")
}

func TestPolish_AcceptsFaithfulRewrite(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"Coffee cost you $63.40 over 14 purchases this month."}}
	a := newTestInsightAgent(gen)

	content := a.polish(context.Background(), "You spent $63.40 across 14 transactions on coffee.")
	assert.Equal(t, "Coffee cost you $63.40 over 14 purchases this month.", content)
}

func TestSynthesize_AmountBandBreakdown(t *testing.T) {
	a := newTestInsightAgent(&fakeGenerator{err: errors.New("down")})

	result := models.QueryResult{
		Rows: []models.Row{
			{"amount": int64(450)},   // $4.50 small
			{"amount": int64(2500)},  // $25.00 medium
			{"amount": int64(12000)}, // $120.00 large
			{"amount": int64(9000)},  // $90.00 large
		},
		RowCount: 4,
	}

	insights, err := a.Synthesize(context.Background(), result, testIntent(), Baseline{}, "alice")
	require.NoError(t, err)

	var band string
	for _, in := range insights {
		if strings.Contains(in.Content, "large ($50-$200)") {
			band = in.Content
		}
	}
	require.NotEmpty(t, band, "expected a band breakdown insight, got %+v", insights)
	assert.Contains(t, band, "$210.00")
}

func TestImprovement_FivePercentThreshold(t *testing.T) {
	a := newTestInsightAgent(&fakeGenerator{err: errors.New("down")})

	earlier := Aggregate{Total: mustDecimal(t, "100.00"), Count: 10, Average: mustDecimal(t, "10.00")}

	down := Aggregate{Total: mustDecimal(t, "85.00"), Count: 10, Average: mustDecimal(t, "8.50")}
	in := a.Improvement(context.Background(), earlier, down, "alice")
	require.NotNil(t, in)
	assert.Equal(t, models.InsightKindRecommendation, in.Kind)
	assert.Contains(t, in.Content, "15.0%")

	up := Aggregate{Total: mustDecimal(t, "120.00"), Count: 10, Average: mustDecimal(t, "12.00")}
	in = a.Improvement(context.Background(), earlier, up, "alice")
	require.NotNil(t, in)
	assert.Equal(t, models.InsightKindTrend, in.Kind)

	flat := Aggregate{Total: mustDecimal(t, "102.00"), Count: 10, Average: mustDecimal(t, "10.20")}
	assert.Nil(t, a.Improvement(context.Background(), earlier, flat, "alice"))

	assert.Nil(t, a.Improvement(context.Background(), Aggregate{}, down, "alice"))
}

func TestSummarize_AggregateColumns(t *testing.T) {
	s := Summarize(coffeeResult())
	assert.True(t, s.HasTotal)
	assert.Equal(t, 14, s.Count)
	assert.Equal(t, "63.40", s.Total.StringFixed(2))
}

func TestSummarize_PerRowAmounts(t *testing.T) {
	s := Summarize(models.QueryResult{
		Rows: []models.Row{
			{"amount": int64(250), "description": "latte"},
			{"amount": int64(400), "description": "beans"},
		},
		RowCount: 2,
	})
	assert.True(t, s.HasTotal)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, "6.50", s.Total.StringFixed(2))
}
