// Package alert runs the scheduled evaluation sweep over active alert
// configurations. The sweep is independent of the request pipeline and
// fires at most one alert insight per (configuration, period) pair.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/models"
)

// Aggregator computes the spending aggregate an alert threshold is checked
// against.
type Aggregator interface {
	AggregateSpending(ctx context.Context, userID string, window models.DateRange, category string) (agent.Aggregate, error)
}

// ConfigSource provides the active configurations and the firing ledger
// backing idempotency.
type ConfigSource interface {
	ListActive(ctx context.Context) ([]models.AlertConfiguration, error)
	ClaimFiring(ctx context.Context, configID string, periodStart time.Time) (bool, error)
	AttachFiringInsight(ctx context.Context, configID string, periodStart time.Time, insightID string) error
	ReleaseFiring(ctx context.Context, configID string, periodStart time.Time) error
}

// InsightSink persists the produced alert insights.
type InsightSink interface {
	Save(ctx context.Context, insights []models.Insight) error
}

// Evaluator is the recurring sweep task. It owns its cancellation and
// serializes evaluations per user so concurrent sweeps cannot double-fire.
type Evaluator struct {
	aggregator Aggregator
	configs    ConfigSource
	insights   InsightSink

	interval  time.Duration
	workers   int
	retention time.Duration

	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the evaluator. Panics on missing collaborators.
func New(aggregator Aggregator, configs ConfigSource, insights InsightSink, interval time.Duration, workers int, retention time.Duration, logger *slog.Logger) *Evaluator {
	if aggregator == nil || configs == nil || insights == nil {
		panic("alert.New: all collaborators are required")
	}
	if workers <= 0 {
		workers = 4
	}
	return &Evaluator{
		aggregator: aggregator,
		configs:    configs,
		insights:   insights,
		interval:   interval,
		workers:    workers,
		retention:  retention,
		logger:     logger.With("component", "alert_evaluator"),
		now:        time.Now,
		userLocks:  map[string]*sync.Mutex{},
	}
}

// Start launches the periodic sweep in the background.
func (e *Evaluator) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.logger.Info("alert evaluator started", "interval", e.interval, "workers", e.workers)
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("alert evaluator stopped")
				return
			case <-ticker.C:
				e.EvaluateAll(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (e *Evaluator) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// EvaluateAll runs one sweep over every active configuration with bounded
// parallelism. A failing configuration is logged and skipped; it never
// aborts the rest of the sweep.
func (e *Evaluator) EvaluateAll(ctx context.Context) {
	configs, err := e.configs.ListActive(ctx)
	if err != nil {
		e.logger.Error("failed to list active alert configurations", "error", err)
		return
	}
	if len(configs) == 0 {
		return
	}

	now := e.now().UTC()
	work := make(chan models.AlertConfiguration)
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cfg := range work {
				e.evaluateOne(ctx, cfg, now)
			}
		}()
	}
	for _, cfg := range configs {
		select {
		case work <- cfg:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return
		}
	}
	close(work)
	wg.Wait()
}

// evaluateOne checks a single configuration under the owning user's lock.
func (e *Evaluator) evaluateOne(ctx context.Context, cfg models.AlertConfiguration, now time.Time) {
	lock := e.lockFor(cfg.UserID)
	lock.Lock()
	defer lock.Unlock()

	logger := e.logger.With("config_id", cfg.ID, "user_id", cfg.UserID, "period", string(cfg.ThresholdPeriod))

	window := cfg.ThresholdPeriod.Window(now)
	agg, err := e.aggregator.AggregateSpending(ctx, cfg.UserID, window, categoryFor(cfg))
	if err != nil {
		logger.Error("aggregate computation failed, skipping configuration", "error", err)
		return
	}
	if agg.Total.LessThanOrEqual(cfg.ThresholdValue) {
		return
	}

	claimed, err := e.configs.ClaimFiring(ctx, cfg.ID, window.Start)
	if err != nil {
		logger.Error("firing claim failed, skipping configuration", "error", err)
		return
	}
	if !claimed {
		return
	}

	insight := e.buildAlertInsight(cfg, agg, window, now)
	if err := e.insights.Save(ctx, []models.Insight{insight}); err != nil {
		logger.Error("alert insight save failed, releasing firing", "error", err)
		if relErr := e.configs.ReleaseFiring(ctx, cfg.ID, window.Start); relErr != nil {
			logger.Error("firing release failed", "error", relErr)
		}
		return
	}
	if err := e.configs.AttachFiringInsight(ctx, cfg.ID, window.Start, insight.ID); err != nil {
		logger.Warn("failed to link firing to insight", "error", err)
	}
	logger.Info("alert fired", "total", agg.Total.StringFixed(2), "threshold", cfg.ThresholdValue.StringFixed(2))
}

func (e *Evaluator) buildAlertInsight(cfg models.AlertConfiguration, agg agent.Aggregate, window models.DateRange, now time.Time) models.Insight {
	subject := "spending"
	if category := categoryFor(cfg); category != "" {
		subject = category + " spending"
	}
	periodNoun := map[models.ThresholdPeriod]string{
		models.PeriodDaily:   "today",
		models.PeriodWeekly:  "this week",
		models.PeriodMonthly: "this month",
	}[cfg.ThresholdPeriod]

	return models.Insight{
		ID:     uuid.NewString(),
		UserID: cfg.UserID,
		Kind:   models.InsightKindAlert,
		Title:  fmt.Sprintf("Spending alert: over $%s %s", cfg.ThresholdValue.StringFixed(2), periodNoun),
		Content: fmt.Sprintf("Your %s reached $%s %s, over your $%s limit (%d transactions).",
			subject, agg.Total.StringFixed(2), periodNoun, cfg.ThresholdValue.StringFixed(2), agg.Count),
		Confidence: 1.0,
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.retention),
	}
}

func (e *Evaluator) lockFor(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.userLocks[userID] = lock
	}
	return lock
}

// categoryFor extracts the category scope from the alert type. A type of
// the form "category:<name>" narrows the aggregate to that category;
// anything else checks overall spending.
func categoryFor(cfg models.AlertConfiguration) string {
	if rest, ok := strings.CutPrefix(cfg.AlertType, "category:"); ok {
		return strings.ToLower(strings.TrimSpace(rest))
	}
	return ""
}
