package agent

import (
	"context"

	"github.com/finsight-ai/finsight/pkg/database"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/models"
)

// fakeGenerator returns canned responses in order, or a fixed error.
type fakeGenerator struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

// fakeQuerier records executed statements and replays canned rows.
type fakeQuerier struct {
	rows       []models.Row
	err        error
	statements []string
	params     [][]any
	selectors  []database.Selector
}

func (f *fakeQuerier) Execute(ctx context.Context, statement string, params []any, db database.Selector) ([]models.Row, error) {
	f.statements = append(f.statements, statement)
	f.params = append(f.params, params)
	f.selectors = append(f.selectors, db)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}
