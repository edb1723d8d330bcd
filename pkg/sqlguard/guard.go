// Package sqlguard validates generated SQL plans against an allow-listed
// grammar before they may touch a database: read-only, single statement,
// known tables only, bounded row limit.
package sqlguard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/finsight-ai/finsight/pkg/models"
)

// UnsafeQueryError is returned when a plan violates the guard invariants.
// It is fatal for the attempted plan: a retry must regenerate the plan,
// never re-submit a rejected one.
type UnsafeQueryError struct {
	Reason    string
	Statement string
}

func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("unsafe query rejected: %s", e.Reason)
}

// forbiddenKeywords are write/DDL/administrative keywords that must never
// appear in a generated statement, matched on word boundaries.
var forbiddenKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|MERGE|CALL|EXECUTE|COPY|VACUUM|SET|DO|LISTEN|NOTIFY)\b`)

// limitClause extracts a numeric LIMIT from the statement tail.
var limitClause = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)

// tableRef extracts table names following FROM and JOIN keywords.
var tableRef = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

// Guard enforces the safe-query invariants.
type Guard struct {
	maxRowLimit   int
	allowedTables map[string]struct{}
}

// DefaultTables lists the tables a generated plan may reference. The
// transactions table carries the spending data; the rest provide joins and
// per-user filtering.
var DefaultTables = []string{
	"transactions",
	"users",
	"contacts",
	"user_preferences",
	"ai_insights",
	"alert_configurations",
}

// New creates a Guard with the given row-limit cap and the default table
// allow-list.
func New(maxRowLimit int) *Guard {
	return NewWithTables(maxRowLimit, DefaultTables)
}

// NewWithTables creates a Guard with an explicit table allow-list.
func NewWithTables(maxRowLimit int, tables []string) *Guard {
	allowed := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	return &Guard{maxRowLimit: maxRowLimit, allowedTables: allowed}
}

// Validate checks a plan against the guard invariants and returns a
// normalized copy safe to execute. Any violation yields *UnsafeQueryError.
func (g *Guard) Validate(plan models.QueryPlan) (models.QueryPlan, error) {
	stmt := strings.TrimSpace(plan.Statement)
	stmt = strings.TrimSuffix(stmt, ";")

	if stmt == "" {
		return models.QueryPlan{}, g.reject(plan, "empty statement")
	}
	if strings.Contains(stmt, ";") {
		return models.QueryPlan{}, g.reject(plan, "multiple statements")
	}
	if strings.Contains(stmt, "--") || strings.Contains(stmt, "/*") {
		return models.QueryPlan{}, g.reject(plan, "comments are not allowed")
	}
	if !strings.HasPrefix(strings.ToUpper(stmt), "SELECT") {
		return models.QueryPlan{}, g.reject(plan, "only SELECT statements are allowed")
	}
	if kw := forbiddenKeywords.FindString(stmt); kw != "" {
		return models.QueryPlan{}, g.reject(plan, fmt.Sprintf("forbidden keyword %q", strings.ToUpper(kw)))
	}

	for _, m := range tableRef.FindAllStringSubmatch(stmt, -1) {
		table := strings.ToLower(m[1])
		// Subselects produce the SELECT keyword here, not a table name.
		if table == "select" {
			continue
		}
		if _, ok := g.allowedTables[table]; !ok {
			return models.QueryPlan{}, g.reject(plan, fmt.Sprintf("table %q is not allow-listed", table))
		}
	}

	limits := limitClause.FindAllStringSubmatch(stmt, -1)
	if len(limits) == 0 {
		return models.QueryPlan{}, g.reject(plan, "missing row limit")
	}
	// The outermost LIMIT is the last one in the statement text.
	limit, err := strconv.Atoi(limits[len(limits)-1][1])
	if err != nil || limit <= 0 {
		return models.QueryPlan{}, g.reject(plan, "row limit is not a positive integer")
	}
	if limit > g.maxRowLimit {
		return models.QueryPlan{}, g.reject(plan, fmt.Sprintf("row limit %d exceeds maximum %d", limit, g.maxRowLimit))
	}

	validated := plan
	validated.Statement = stmt
	validated.DeclaredRowLimit = limit
	return validated, nil
}

func (g *Guard) reject(plan models.QueryPlan, reason string) error {
	return &UnsafeQueryError{Reason: reason, Statement: plan.Statement}
}
