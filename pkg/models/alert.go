package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ThresholdPeriod is the evaluation window of an alert configuration.
type ThresholdPeriod string

const (
	PeriodDaily   ThresholdPeriod = "daily"
	PeriodWeekly  ThresholdPeriod = "weekly"
	PeriodMonthly ThresholdPeriod = "monthly"
)

// Valid reports whether the period is one of the known values.
func (p ThresholdPeriod) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// Start returns the beginning of the period containing now, in UTC.
// This is also the idempotency boundary for alert deduplication: one alert
// insight per (configuration, period start).
func (p ThresholdPeriod) Start(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodWeekly:
		// ISO week: roll back to Monday 00:00.
		day := now.Truncate(24 * time.Hour)
		weekday := int(day.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return day.AddDate(0, 0, -(weekday - 1))
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return now.Truncate(24 * time.Hour)
	}
}

// Window returns the full date range of the period containing now.
func (p ThresholdPeriod) Window(now time.Time) DateRange {
	start := p.Start(now)
	var end time.Time
	switch p {
	case PeriodWeekly:
		end = start.AddDate(0, 0, 7)
	case PeriodMonthly:
		end = start.AddDate(0, 1, 0)
	default:
		end = start.AddDate(0, 0, 1)
	}
	return DateRange{Start: start, End: end}
}

// AlertConfiguration is a user-defined threshold rule. Configurations are
// created and updated by user action, evaluated repeatedly by the alert
// sweep, and deactivated rather than deleted.
type AlertConfiguration struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	AlertType          string          `json:"alert_type"`
	ThresholdValue     decimal.Decimal `json:"threshold_value"`
	ThresholdPeriod    ThresholdPeriod `json:"threshold_period"`
	NotificationMethod string          `json:"notification_method"`
	Active             bool            `json:"active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
