// Package orchestrator coordinates the per-request pipeline: understanding,
// planning, execution, and the concurrent synthesis fan-out, with bounded
// per-stage retries and retention-capped insight persistence.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/models"
)

// Status is the pipeline state of one request.
type Status string

const (
	StatusReceived      Status = "received"
	StatusUnderstanding Status = "understanding"
	StatusPlanning      Status = "planning"
	StatusExecuting     Status = "executing"
	StatusSynthesizing  Status = "synthesizing"
	StatusDone          Status = "done"
	StatusFailed        Status = "failed"
)

// IntentParser is the understanding stage contract.
type IntentParser interface {
	Understand(ctx context.Context, rawText string, pref models.UserPreference) (models.Intent, error)
}

// Analyst is the planning/execution stage contract.
type Analyst interface {
	Plan(ctx context.Context, intent models.Intent, userID string) (models.QueryPlan, error)
	Execute(ctx context.Context, plan models.QueryPlan) (models.QueryResult, error)
	AggregateSpending(ctx context.Context, userID string, window models.DateRange, category string) (agent.Aggregate, error)
	HistoricalBaseline(ctx context.Context, userID string, window models.DateRange, category string) (agent.Baseline, error)
}

// Synthesizer is the insight synthesis stage contract.
type Synthesizer interface {
	Synthesize(ctx context.Context, result models.QueryResult, intent models.Intent, baseline agent.Baseline, userID string) ([]models.Insight, error)
	Improvement(ctx context.Context, earlier, later agent.Aggregate, userID string) *models.Insight
}

// PreferenceProvider supplies personalization context and the interaction log.
type PreferenceProvider interface {
	Get(ctx context.Context, userID string) (models.UserPreference, error)
	RecordInteraction(ctx context.Context, interaction models.Interaction) error
	RecentInteractions(ctx context.Context, userID string, limit int) ([]models.Interaction, error)
}

// InsightStore persists produced insights under the retention cap.
type InsightStore interface {
	Save(ctx context.Context, insights []models.Insight) error
	List(ctx context.Context, userID string, unreadOnly bool) ([]models.Insight, error)
}

// AlertConfigLister provides the user's alert configurations for the
// dashboard view.
type AlertConfigLister interface {
	List(ctx context.Context, userID string) ([]models.AlertConfiguration, error)
}

// Response is the aggregated result of one pipeline execution.
type Response struct {
	Insights           []models.Insight          `json:"insights"`
	QueryResultSummary ResultSummary             `json:"query_result_summary"`
	Visualization      *models.VisualizationSpec `json:"visualization_spec,omitempty"`
}

// ResultSummary is the caller-facing digest of the executed query.
type ResultSummary struct {
	RowCount  int  `json:"row_count"`
	Truncated bool `json:"truncated"`
}

// DashboardData is the combined view served by the dashboard endpoint.
type DashboardData struct {
	Insights       []models.Insight            `json:"insights"`
	Preferences    models.UserPreference       `json:"preferences"`
	AlertConfigs   []models.AlertConfiguration `json:"alert_configurations"`
	RecentActivity []models.Interaction        `json:"recent_activity"`
	GeneratedAt    time.Time                   `json:"generated_at"`
	UnreadOnly     bool                        `json:"unread_only"`
	InsightsShown  int                         `json:"insights_shown"`
}

// Orchestrator sequences the agents for one request at a time. It holds no
// cross-request state; everything per-request lives in the pipeline frame.
type Orchestrator struct {
	parser      IntentParser
	analyst     Analyst
	synthesizer Synthesizer
	preferences PreferenceProvider
	insights    InsightStore
	alerts      AlertConfigLister

	retry          config.RetryPolicy
	stageTimeout   time.Duration
	requestTimeout time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Parser      IntentParser
	Analyst     Analyst
	Synthesizer Synthesizer
	Preferences PreferenceProvider
	Insights    InsightStore
	Alerts      AlertConfigLister
}

// New creates the orchestrator. Panics on missing collaborators.
func New(deps Deps, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	if deps.Parser == nil || deps.Analyst == nil || deps.Synthesizer == nil ||
		deps.Preferences == nil || deps.Insights == nil || deps.Alerts == nil {
		panic("orchestrator.New: all collaborators are required")
	}
	return &Orchestrator{
		parser:         deps.Parser,
		analyst:        deps.Analyst,
		synthesizer:    deps.Synthesizer,
		preferences:    deps.Preferences,
		insights:       deps.Insights,
		alerts:         deps.Alerts,
		retry:          cfg.Retry,
		stageTimeout:   cfg.StageTimeout,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger.With("component", "orchestrator"),
		now:            time.Now,
	}
}

// pipeline is the transient frame of one request.
type pipeline struct {
	requestID string
	userID    string
	status    Status

	pref     models.UserPreference
	intent   models.Intent
	plan     models.QueryPlan
	result   models.QueryResult
	baseline agent.Baseline
}

// Handle runs the full pipeline for one natural-language query. On success
// the produced insights are persisted under the retention cap; a cancelled
// or deadline-exceeded request persists nothing.
func (o *Orchestrator) Handle(ctx context.Context, queryText, userID string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	p := &pipeline{requestID: uuid.NewString(), userID: userID, status: StatusReceived}
	logger := o.logger.With("request_id", p.requestID, "user_id", userID)
	logger.Info("pipeline started", "query_len", len(queryText))

	// Preference context is best-effort: an empty default biases nothing.
	pref, err := o.preferences.Get(ctx, userID)
	if err != nil {
		logger.Warn("preference lookup failed, using defaults", "error", err)
		pref = models.EmptyPreference(userID)
	}
	p.pref = pref

	p.status = StatusUnderstanding
	err = o.runStage(ctx, logger, "understanding", func(stageCtx context.Context) error {
		intent, err := o.parser.Understand(stageCtx, queryText, p.pref)
		if err != nil {
			return err
		}
		p.intent = intent
		return nil
	})
	if err != nil {
		return o.fail(logger, p, err)
	}

	// A retry of the planning stage regenerates the plan from the intent;
	// a guard-rejected plan is never re-submitted.
	p.status = StatusPlanning
	err = o.runStage(ctx, logger, "planning", func(stageCtx context.Context) error {
		plan, err := o.analyst.Plan(stageCtx, p.intent, userID)
		if err != nil {
			return err
		}
		p.plan = plan
		return nil
	})
	if err != nil {
		return o.fail(logger, p, err)
	}

	p.status = StatusExecuting
	err = o.runStage(ctx, logger, "executing", func(stageCtx context.Context) error {
		result, err := o.analyst.Execute(stageCtx, p.plan)
		if err != nil {
			return err
		}
		p.result = result
		return nil
	})
	if err != nil {
		return o.fail(logger, p, err)
	}

	// Baseline failures degrade classification but never fail the request.
	if baseline, err := o.analyst.HistoricalBaseline(ctx, userID, p.intent.DateRange, p.intent.Category); err != nil {
		logger.Warn("baseline computation failed, classifying without it", "error", err)
	} else {
		p.baseline = baseline
	}

	p.status = StatusSynthesizing
	var (
		insights []models.Insight
		viz      *models.VisualizationSpec
	)
	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.runStage(groupCtx, logger, "synthesizing", func(stageCtx context.Context) error {
			out, err := o.synthesizer.Synthesize(stageCtx, p.result, p.intent, p.baseline, userID)
			if err != nil {
				return err
			}
			insights = out
			return nil
		})
	})
	g.Go(func() error {
		// Same per-branch policy as synthesis, though the derivation is
		// pure and cannot time out or fail on its own.
		return o.runStage(groupCtx, logger, "visualizing", func(context.Context) error {
			viz = agent.DeriveVisualization(p.intent, p.result)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return o.fail(logger, p, err)
	}

	if viz != nil && len(insights) > 0 {
		insights[0].Visualization = viz
	}

	// Nothing from a cancelled request may be persisted.
	if ctx.Err() != nil {
		return o.fail(logger, p, agent.NewError(agent.ErrorKindModelTimeout, string(p.status),
			fmt.Errorf("request deadline exceeded: %w", ctx.Err())))
	}
	if err := o.insights.Save(ctx, insights); err != nil {
		return o.fail(logger, p, agent.NewError(agent.ErrorKindInternal, "persisting", err))
	}

	o.recordInteraction(ctx, logger, userID, "query", map[string]any{
		"request_id": p.requestID,
		"category":   p.intent.Category,
		"metric":     string(p.intent.Metric),
	})

	p.status = StatusDone
	logger.Info("pipeline completed", "insights", len(insights), "rows", p.result.RowCount)
	return Response{
		Insights:           insights,
		QueryResultSummary: ResultSummary{RowCount: p.result.RowCount, Truncated: p.result.Truncated},
		Visualization:      viz,
	}, nil
}

// runStage executes one stage call under the per-stage timeout, retrying
// retryable failures within the budget. Quota failures back off longer.
func (o *Orchestrator) runStage(ctx context.Context, logger *slog.Logger, stage string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
		err := fn(stageCtx)
		cancel()
		if err == nil {
			if attempt > 1 {
				logger.Info("stage recovered", "stage", stage, "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if !agent.IsRetryable(err) || attempt == o.retry.MaxAttempts {
			break
		}
		delay := o.retry.Delay(attempt, agent.KindOf(err) == agent.ErrorKindModelQuota)
		logger.Warn("stage failed, retrying", "stage", stage, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return agent.NewError(agent.KindOf(err), stage,
				fmt.Errorf("request cancelled during retry wait: %w", ctx.Err()))
		}
	}
	return lastErr
}

func (o *Orchestrator) fail(logger *slog.Logger, p *pipeline, err error) (Response, error) {
	p.status = StatusFailed
	logger.Error("pipeline failed", "stage_kind", string(agent.KindOf(err)), "error", err)
	return Response{}, err
}

func (o *Orchestrator) recordInteraction(ctx context.Context, logger *slog.Logger, userID, event string, payload map[string]any) {
	err := o.preferences.RecordInteraction(ctx, models.Interaction{
		UserID:    userID,
		EventType: event,
		Payload:   payload,
		Timestamp: o.now().UTC(),
	})
	if err != nil {
		logger.Warn("interaction logging failed", "event", event, "error", err)
	}
}
