package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/database"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/sqlguard"
)

func testIntent() models.Intent {
	return models.Intent{
		RawText:  "How much did I spend on coffee last month?",
		Category: "coffee",
		Metric:   models.MetricSum,
		DateRange: models.DateRange{
			Start: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestAnalyst_PlanValidatesThroughGuard(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`{
		"statement": "SELECT COALESCE(SUM(t.amount), 0) AS total_cents FROM transactions t JOIN users u ON t.from_acct = u.accountid WHERE u.username = $1 LIMIT 100",
		"params": ["alice"],
		"row_limit": 100
	}`}}
	a := NewAnalystAgent(gen, &fakeQuerier{}, sqlguard.New(500), 500)

	plan, err := a.Plan(context.Background(), testIntent(), "alice")
	require.NoError(t, err)

	assert.Contains(t, plan.Statement, "SELECT")
	assert.Equal(t, []any{"alice"}, plan.BoundParams)
	assert.Equal(t, 100, plan.DeclaredRowLimit)
}

func TestAnalyst_PlanAndExecute(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`{
		"statement": "SELECT COALESCE(SUM(t.amount), 0) AS total_cents FROM transactions t JOIN users u ON t.from_acct = u.accountid WHERE u.username = $1 LIMIT 100",
		"params": ["alice"],
		"row_limit": 100
	}`}}
	q := &fakeQuerier{rows: []models.Row{{"total_cents": int64(6340)}}}
	a := NewAnalystAgent(gen, q, sqlguard.New(500), 500)

	res, err := a.PlanAndExecute(context.Background(), testIntent(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, res.RowCount)
	require.Len(t, q.statements, 1)
	assert.Contains(t, q.statements[0], "SELECT")
}

func TestAnalyst_PlanRejectsWriteStatement(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`{
		"statement": "DELETE FROM transactions LIMIT 10",
		"params": [],
		"row_limit": 10
	}`}}
	a := NewAnalystAgent(gen, &fakeQuerier{}, sqlguard.New(500), 500)

	_, err := a.Plan(context.Background(), testIntent(), "alice")
	require.Error(t, err)
	assert.Equal(t, ErrorKindUnsafeQuery, KindOf(err))
}

func TestAnalyst_PlanRejectsMalformedOutput(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"here is your SQL: SELECT 1"}}
	a := NewAnalystAgent(gen, &fakeQuerier{}, sqlguard.New(500), 500)

	_, err := a.Plan(context.Background(), testIntent(), "alice")
	require.Error(t, err)
	assert.Equal(t, ErrorKindUnsafeQuery, KindOf(err))
}

func TestAnalyst_ExecuteRoutesToLedger(t *testing.T) {
	q := &fakeQuerier{rows: []models.Row{{"total_cents": int64(6340)}}}
	a := NewAnalystAgent(&fakeGenerator{}, q, sqlguard.New(500), 500)

	res, err := a.Execute(context.Background(), models.QueryPlan{
		Statement:        "SELECT SUM(amount) AS total_cents FROM transactions LIMIT 10",
		DeclaredRowLimit: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.RowCount)
	assert.False(t, res.Truncated)
	require.Len(t, q.selectors, 1)
	assert.Equal(t, database.Ledger, q.selectors[0])
}

func TestAnalyst_ExecuteRoutesToAccounts(t *testing.T) {
	q := &fakeQuerier{rows: []models.Row{}}
	a := NewAnalystAgent(&fakeGenerator{}, q, sqlguard.New(500), 500)

	_, err := a.Execute(context.Background(), models.QueryPlan{
		Statement:        "SELECT username FROM users LIMIT 10",
		DeclaredRowLimit: 10,
	})
	require.NoError(t, err)
	require.Len(t, q.selectors, 1)
	assert.Equal(t, database.Accounts, q.selectors[0])
}

func TestAnalyst_ExecuteTruncatesAtDeclaredLimit(t *testing.T) {
	q := &fakeQuerier{rows: []models.Row{
		{"amount": int64(100)},
		{"amount": int64(200)},
		{"amount": int64(300)},
	}}
	a := NewAnalystAgent(&fakeGenerator{}, q, sqlguard.New(500), 500)

	res, err := a.Execute(context.Background(), models.QueryPlan{
		Statement:        "SELECT amount FROM transactions LIMIT 2",
		DeclaredRowLimit: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.RowCount)
	assert.True(t, res.Truncated)
}

func TestAnalyst_ExecuteFailureIsRetryable(t *testing.T) {
	q := &fakeQuerier{err: errors.New("connection reset")}
	a := NewAnalystAgent(&fakeGenerator{}, q, sqlguard.New(500), 500)

	_, err := a.Execute(context.Background(), models.QueryPlan{
		Statement:        "SELECT amount FROM transactions LIMIT 10",
		DeclaredRowLimit: 10,
	})
	require.Error(t, err)
	assert.Equal(t, ErrorKindQueryExecution, KindOf(err))
	assert.True(t, IsRetryable(err))
}

func TestAnalyst_AggregateSpending(t *testing.T) {
	q := &fakeQuerier{rows: []models.Row{{"total_cents": int64(6340), "txn_count": int64(14)}}}
	a := NewAnalystAgent(&fakeGenerator{}, q, sqlguard.New(500), 500)

	window := models.DateRange{
		Start: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
	}
	agg, err := a.AggregateSpending(context.Background(), "alice", window, "coffee")
	require.NoError(t, err)

	assert.True(t, agg.Total.Equal(decimal.RequireFromString("63.40")), "total %s", agg.Total)
	assert.Equal(t, 14, agg.Count)
	assert.True(t, agg.Average.Equal(decimal.RequireFromString("4.53")), "average %s", agg.Average)

	require.Len(t, q.statements, 1)
	assert.Contains(t, q.statements[0], "lower(t.description) LIKE")
	assert.Equal(t, database.Ledger, q.selectors[0])
	assert.Equal(t, "alice", q.params[0][0])
	assert.Equal(t, window.Start, q.params[0][1])
}

func TestAnalyst_AggregateSpendingEmpty(t *testing.T) {
	q := &fakeQuerier{rows: []models.Row{{"total_cents": int64(0), "txn_count": int64(0)}}}
	a := NewAnalystAgent(&fakeGenerator{}, q, sqlguard.New(500), 500)

	agg, err := a.AggregateSpending(context.Background(), "alice", testIntent().DateRange, "")
	require.NoError(t, err)

	assert.True(t, agg.Total.IsZero())
	assert.Equal(t, 0, agg.Count)
	assert.True(t, agg.Average.IsZero())
}

func TestAnalyst_HistoricalBaseline(t *testing.T) {
	q := &fakeQuerier{rows: []models.Row{
		{"day": "2024-09-01", "total_cents": int64(1000)},
		{"day": "2024-09-02", "total_cents": int64(2000)},
		{"day": "2024-09-03", "total_cents": int64(3000)},
	}}
	a := NewAnalystAgent(&fakeGenerator{}, q, sqlguard.New(500), 500)

	window := models.DateRange{
		Start: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
	}
	base, err := a.HistoricalBaseline(context.Background(), "alice", window, "")
	require.NoError(t, err)

	assert.True(t, base.Total.Equal(decimal.RequireFromString("60.00")), "total %s", base.Total)
	assert.Equal(t, 3, base.Days)
	assert.InDelta(t, 20.0, base.DailyMean, 0.001)
	// variance of 10, 20, 30 around 20
	assert.InDelta(t, 66.6667, base.DailyVariance, 0.001)

	// queried the window immediately preceding
	require.Len(t, q.params, 1)
	assert.Equal(t, window.Start.AddDate(0, 0, -31), q.params[0][1])
	assert.Equal(t, window.Start, q.params[0][2])
}

func TestAnalyst_HistoricalBaselineNoHistory(t *testing.T) {
	q := &fakeQuerier{rows: []models.Row{}}
	a := NewAnalystAgent(&fakeGenerator{}, q, sqlguard.New(500), 500)

	base, err := a.HistoricalBaseline(context.Background(), "alice", testIntent().DateRange, "")
	require.NoError(t, err)

	assert.Equal(t, 0, base.Days)
	assert.Zero(t, base.DailyMean)
	assert.Zero(t, base.DailyVariance)
}
