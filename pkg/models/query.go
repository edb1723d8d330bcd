package models

// QueryPlan is a generated SQL plan awaiting validation and execution.
// Plans are consumed once and never persisted. A plan must pass the SQL
// guard before it may be executed.
type QueryPlan struct {
	Statement        string `json:"statement"`
	BoundParams      []any  `json:"bound_params"`
	DeclaredRowLimit int    `json:"declared_row_limit"`
}

// Row is a single result record keyed by column name.
type Row map[string]any

// QueryResult holds the rows returned by an executed plan. It is scoped to
// one pipeline execution and discarded after insight synthesis.
type QueryResult struct {
	Rows      []Row `json:"rows"`
	RowCount  int   `json:"row_count"`
	Truncated bool  `json:"truncated"`
}
