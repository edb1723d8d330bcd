package agent

import (
	"fmt"

	"github.com/finsight-ai/finsight/pkg/models"
)

// DeriveVisualization produces the abstract chart spec for a query result,
// or nil when the intent does not call for one. Rendering is out of scope;
// only the shape of the chart is decided here.
func DeriveVisualization(intent models.Intent, result models.QueryResult) *models.VisualizationSpec {
	if !intent.NeedsVisualization && intent.Metric != models.MetricTrend && intent.Metric != models.MetricCompare {
		return nil
	}

	subject := "spending"
	if intent.Category != "" {
		subject = intent.Category + " spending"
	}

	switch {
	case intent.Metric == models.MetricTrend:
		return &models.VisualizationSpec{
			ChartType: "line",
			XAxis:     timeColumn(result),
			YAxis:     "amount",
			DataKey:   "total_cents",
			Title:     fmt.Sprintf("%s over time", capitalize(subject)),
		}
	case hasColumn(result, "category"):
		return &models.VisualizationSpec{
			ChartType: "pie",
			DataKey:   "category",
			YAxis:     "amount",
			Title:     "Spending by category",
		}
	case intent.Metric == models.MetricCompare:
		return &models.VisualizationSpec{
			ChartType: "bar",
			XAxis:     "period",
			YAxis:     "amount",
			DataKey:   "total_cents",
			Title:     fmt.Sprintf("%s comparison", capitalize(subject)),
		}
	default:
		return &models.VisualizationSpec{
			ChartType: "bar",
			XAxis:     timeColumn(result),
			YAxis:     "amount",
			DataKey:   "total_cents",
			Title:     capitalize(subject),
		}
	}
}

// timeColumn picks the temporal axis present in the result, defaulting to
// day.
func timeColumn(result models.QueryResult) string {
	for _, col := range []string{"day", "week", "month", "timestamp"} {
		if hasColumn(result, col) {
			return col
		}
	}
	return "day"
}

func hasColumn(result models.QueryResult, name string) bool {
	if len(result.Rows) == 0 {
		return false
	}
	_, ok := result.Rows[0][name]
	return ok
}
