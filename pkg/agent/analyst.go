package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/pkg/database"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/sqlguard"
)

// schemaVersion tags the schema description embedded in analyst prompts.
const schemaVersion = "2024-11"

// schemaDescription is the fixed, versioned schema context for SQL
// generation. Transaction amounts are integer cents.
const schemaDescription = `Schema version ` + schemaVersion + `.

ACCOUNTS DATABASE:
- users: accountid CHAR(10), username VARCHAR(64), firstname, lastname, timezone, state, zip
- contacts: username VARCHAR(64), label, account_num CHAR(10), routing_num CHAR(9), is_external BOOLEAN
- user_preferences: user_id, category, enabled BOOLEAN, threshold NUMERIC
- ai_insights: id, user_id, kind, title, content, confidence, created_at, expires_at, read
- alert_configurations: id, user_id, alert_type, threshold_value, threshold_period, active

LEDGER DATABASE:
- transactions: transaction_id BIGINT, from_acct CHAR(10), to_acct CHAR(10),
  from_route CHAR(9), to_route CHAR(9), amount INT (cents), description VARCHAR(128),
  timestamp TIMESTAMPTZ

Query rules:
- Outgoing spending joins transactions.from_acct to users.accountid.
- Amounts are integer cents; divide by 100.0 for dollars.
- Filter time with: timestamp >= $n AND timestamp < $m.
- Always filter by the user's username via a bound parameter.`

// Aggregate is a spending summary over a window.
type Aggregate struct {
	Total   decimal.Decimal
	Count   int
	Average decimal.Decimal
}

// Baseline summarizes the comparable prior period for anomaly detection.
type Baseline struct {
	Total         decimal.Decimal
	DailyMean     float64 // mean daily spend, dollars
	DailyVariance float64 // variance of daily spend, dollars squared
	Days          int
}

// AnalystAgent generates guarded SQL plans from intents and executes them
// against the database collaborator. It also provides the fixed aggregate
// queries shared with the alert evaluator and the daily-summary pipeline.
type AnalystAgent struct {
	generator llm.Generator
	db        database.Querier
	guard     *sqlguard.Guard
	rowLimit  int
}

// NewAnalystAgent creates the analyst agent. rowLimit caps both generated
// plans and result sizes.
func NewAnalystAgent(generator llm.Generator, db database.Querier, guard *sqlguard.Guard, rowLimit int) *AnalystAgent {
	return &AnalystAgent{generator: generator, db: db, guard: guard, rowLimit: rowLimit}
}

// planPayload is the JSON shape the model is asked to produce.
type planPayload struct {
	Statement string `json:"statement"`
	Params    []any  `json:"params"`
	RowLimit  int    `json:"row_limit"`
}

// Plan generates an SqlPlan for the intent and validates it through the
// guard. A rejected plan yields an unsafe-query error; the orchestrator's
// stage retry regenerates from scratch rather than re-submitting it.
func (a *AnalystAgent) Plan(ctx context.Context, intent models.Intent, userID string) (models.QueryPlan, error) {
	const stage = "planning"

	raw, err := a.generator.Generate(ctx, buildPlanPrompt(intent, userID, a.rowLimit), llm.Options{MaxTokens: 768, Temperature: 0})
	if err != nil {
		return models.QueryPlan{}, Classify(stage, ErrorKindInternal, err)
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &payload); err != nil {
		return models.QueryPlan{}, NewError(ErrorKindUnsafeQuery, stage, fmt.Errorf("model output is not a valid plan: %w", err))
	}

	plan := models.QueryPlan{
		Statement:        payload.Statement,
		BoundParams:      payload.Params,
		DeclaredRowLimit: payload.RowLimit,
	}

	validated, err := a.guard.Validate(plan)
	if err != nil {
		return models.QueryPlan{}, Classify(stage, ErrorKindUnsafeQuery, err)
	}
	return validated, nil
}

// Execute runs a validated plan against the appropriate database. Rows at
// or beyond the declared limit mark the result truncated rather than
// raising. Collaborator failures are query-execution errors, eligible for
// the orchestrator's stage retry.
func (a *AnalystAgent) Execute(ctx context.Context, plan models.QueryPlan) (models.QueryResult, error) {
	const stage = "executing"

	rows, err := a.db.Execute(ctx, plan.Statement, plan.BoundParams, selectorFor(plan.Statement))
	if err != nil {
		return models.QueryResult{}, NewError(ErrorKindQueryExecution, stage, err)
	}

	truncated := false
	if plan.DeclaredRowLimit > 0 && len(rows) >= plan.DeclaredRowLimit {
		rows = rows[:plan.DeclaredRowLimit]
		truncated = true
	}

	return models.QueryResult{Rows: rows, RowCount: len(rows), Truncated: truncated}, nil
}

// PlanAndExecute is the combined contract used by callers that do not need
// the two phases split across orchestration states.
func (a *AnalystAgent) PlanAndExecute(ctx context.Context, intent models.Intent, userID string) (models.QueryResult, error) {
	plan, err := a.Plan(ctx, intent, userID)
	if err != nil {
		return models.QueryResult{}, err
	}
	return a.Execute(ctx, plan)
}

// AggregateSpending computes total and count of outgoing transactions for
// the user in the window, optionally narrowed to a category by description
// keywords. This is a fixed parameterized query, not a generated plan.
func (a *AnalystAgent) AggregateSpending(ctx context.Context, userID string, window models.DateRange, category string) (Aggregate, error) {
	const stage = "aggregate"

	stmt := `SELECT COALESCE(SUM(t.amount), 0) AS total_cents, COUNT(*) AS txn_count
FROM transactions t
JOIN users u ON t.from_acct = u.accountid
WHERE u.username = $1 AND t.timestamp >= $2 AND t.timestamp < $3`
	params := []any{userID, window.Start, window.End}

	if category != "" {
		clause, kwParams := categoryClause(category, len(params))
		stmt += clause
		params = append(params, kwParams...)
	}
	stmt += "\nLIMIT 1"

	rows, err := a.db.Execute(ctx, stmt, params, database.Ledger)
	if err != nil {
		return Aggregate{}, NewError(ErrorKindQueryExecution, stage, err)
	}
	if len(rows) == 0 {
		return Aggregate{}, nil
	}

	cents := rowInt64(rows[0], "total_cents")
	count := int(rowInt64(rows[0], "txn_count"))

	agg := Aggregate{Total: centsToDollars(cents), Count: count}
	if count > 0 {
		agg.Average = agg.Total.Div(decimal.NewFromInt(int64(count))).Round(2)
	}
	return agg, nil
}

// HistoricalBaseline computes daily-spend statistics over the comparable
// period preceding the window, for the same category filter.
func (a *AnalystAgent) HistoricalBaseline(ctx context.Context, userID string, window models.DateRange, category string) (Baseline, error) {
	const stage = "baseline"
	prior := window.Previous()

	stmt := `SELECT DATE(t.timestamp) AS day, COALESCE(SUM(t.amount), 0) AS total_cents
FROM transactions t
JOIN users u ON t.from_acct = u.accountid
WHERE u.username = $1 AND t.timestamp >= $2 AND t.timestamp < $3`
	params := []any{userID, prior.Start, prior.End}

	if category != "" {
		clause, kwParams := categoryClause(category, len(params))
		stmt += clause
		params = append(params, kwParams...)
	}
	stmt += "\nGROUP BY DATE(t.timestamp)\nORDER BY day\nLIMIT 366"

	rows, err := a.db.Execute(ctx, stmt, params, database.Ledger)
	if err != nil {
		return Baseline{}, NewError(ErrorKindQueryExecution, stage, err)
	}

	var baseline Baseline
	daily := make([]float64, 0, len(rows))
	total := decimal.Zero
	for _, row := range rows {
		cents := rowInt64(row, "total_cents")
		dollars := centsToDollars(cents)
		total = total.Add(dollars)
		f, _ := dollars.Float64()
		daily = append(daily, f)
	}
	baseline.Total = total
	baseline.Days = len(daily)
	if len(daily) == 0 {
		return baseline, nil
	}

	var sum float64
	for _, v := range daily {
		sum += v
	}
	baseline.DailyMean = sum / float64(len(daily))

	var sq float64
	for _, v := range daily {
		d := v - baseline.DailyMean
		sq += d * d
	}
	baseline.DailyVariance = sq / float64(len(daily))
	return baseline, nil
}

// categoryClause builds a description-keyword filter starting at parameter
// position offset+1.
func categoryClause(category string, offset int) (string, []any) {
	keywords := CategoryKeywords(category)
	placeholders := make([]string, len(keywords))
	params := make([]any, len(keywords))
	for i, kw := range keywords {
		placeholders[i] = fmt.Sprintf("lower(t.description) LIKE $%d", offset+i+1)
		params[i] = "%" + strings.ToLower(kw) + "%"
	}
	return "\nAND (" + strings.Join(placeholders, " OR ") + ")", params
}

func selectorFor(statement string) database.Selector {
	if strings.Contains(strings.ToLower(statement), "transactions") {
		return database.Ledger
	}
	return database.Accounts
}

func centsToDollars(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

// rowInt64 reads a numeric column defensively across driver types.
func rowInt64(row models.Row, key string) int64 {
	switch v := row[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case []byte:
		var n int64
		fmt.Sscan(string(v), &n)
		return n
	case string:
		var n int64
		fmt.Sscan(v, &n)
		return n
	}
	return 0
}

func buildPlanPrompt(intent models.Intent, userID string, rowLimit int) string {
	var sb strings.Builder
	sb.WriteString("Generate one PostgreSQL SELECT statement for this financial query intent.\n\n")
	sb.WriteString(schemaDescription)
	sb.WriteString("\n\nIntent:\n")
	sb.WriteString(fmt.Sprintf("- question: %q\n", intent.RawText))
	sb.WriteString(fmt.Sprintf("- metric: %s\n", intent.Metric))
	if intent.Category != "" {
		sb.WriteString(fmt.Sprintf("- category: %s (match description keywords: %s)\n",
			intent.Category, strings.Join(CategoryKeywords(intent.Category), ", ")))
	}
	sb.WriteString(fmt.Sprintf("- window: %s to %s\n",
		intent.DateRange.Start.Format("2006-01-02"), intent.DateRange.End.Format("2006-01-02")))
	if intent.ComparisonTarget != "" {
		sb.WriteString(fmt.Sprintf("- compare against: %s\n", intent.ComparisonTarget))
	}
	sb.WriteString(fmt.Sprintf("- username parameter value: %s\n", userID))
	sb.WriteString(fmt.Sprintf(`
Constraints:
- Single SELECT statement only, no writes, no DDL, no comments.
- Use $1, $2, ... placeholders; list values in "params" in order.
- End with a numeric LIMIT of at most %d.

Respond with a single JSON object and nothing else:
{"statement": "SELECT ...", "params": ["...", "..."], "row_limit": %d}`, rowLimit, rowLimit))
	return sb.String()
}
