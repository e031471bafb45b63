package variance

import (
	"fmt"
	"sort"
	"time"

	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/types"
)

// largeAdjustment flags negative manual changes above the threshold.
func (c Config) largeAdjustment(e entity.QuantityChangeEvent) (Alert, bool) {
	if !e.Reason.IsManual() || e.Delta >= 0 {
		return Alert{}, false
	}
	qty := types.AbsInt64(e.Delta)
	if qty <= c.LargeAdjustmentThreshold {
		return Alert{}, false
	}

	severity := entity.SeverityHigh
	if qty > c.CriticalAdjustmentThreshold {
		severity = entity.SeverityCritical
	}
	batchID := e.BatchID
	return Alert{
		Type:      entity.AlertLargeAdjustment,
		Severity:  severity,
		ProductID: e.ProductID,
		BatchID:   &batchID,
		Actor:     e.Actor,
		Quantity:  qty,
		At:        e.OccurredAt,
		Detail:    fmt.Sprintf("%s of %d units exceeds %d", e.Reason, qty, c.LargeAdjustmentThreshold),
	}, true
}

// afterHours flags manual changes outside business hours.
func (c Config) afterHours(e entity.QuantityChangeEvent) (Alert, bool) {
	if !e.Reason.IsManual() || c.WithinBusinessHours(e.OccurredAt) {
		return Alert{}, false
	}
	batchID := e.BatchID
	return Alert{
		Type:      entity.AlertAfterHours,
		Severity:  entity.SeverityMedium,
		ProductID: e.ProductID,
		BatchID:   &batchID,
		Actor:     e.Actor,
		Quantity:  types.AbsInt64(e.Delta),
		At:        e.OccurredAt,
		Detail: fmt.Sprintf("%s at %s outside %s-%s", e.Reason,
			e.OccurredAt.In(c.location()).Format("15:04"),
			formatOffset(c.BusinessHoursStart), formatOffset(c.BusinessHoursEnd)),
	}, true
}

// multipleAdjustments flags an actor whose manual change count inside the
// activity window exceeds the threshold.
func (c Config) multipleAdjustments(actor string, count int64, at time.Time) (Alert, bool) {
	if count <= int64(c.HighActivityThreshold) {
		return Alert{}, false
	}
	severity := entity.SeverityMedium
	if count >= 2*int64(c.HighActivityThreshold) {
		severity = entity.SeverityHigh
	}
	return Alert{
		Type:     entity.AlertMultipleAdjustments,
		Severity: severity,
		Actor:    actor,
		Quantity: count,
		At:       at,
		Detail:   fmt.Sprintf("%d manual changes within %s", count, c.ActivityWindow),
	}, true
}

func negativeStock(productID string, qty int64, at time.Time) Alert {
	return Alert{
		Type:      entity.AlertNegativeStock,
		Severity:  entity.SeverityCritical,
		ProductID: productID,
		Quantity:  qty,
		At:        at,
		Detail:    fmt.Sprintf("ACTIVE batches of %s sum to %d", productID, qty),
	}
}

type activityPeak struct {
	Count int64
	At    time.Time
}

// peakActivity returns, per actor, the highest number of manual changes
// falling in any window (t-window, t] and the time t where it was reached.
func peakActivity(events []entity.QuantityChangeEvent, window time.Duration) map[string]activityPeak {
	byActor := make(map[string][]time.Time)
	for _, e := range events {
		if e.Reason.IsManual() {
			byActor[e.Actor] = append(byActor[e.Actor], e.OccurredAt)
		}
	}

	out := make(map[string]activityPeak, len(byActor))
	for actor, times := range byActor {
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		start := 0
		for end, t := range times {
			for !times[start].After(t.Add(-window)) {
				start++
			}
			count := int64(end - start + 1)
			if count > out[actor].Count {
				out[actor] = activityPeak{Count: count, At: t}
			}
		}
	}
	return out
}

// sortAlerts orders alerts by time, then by descending severity.
func sortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if !alerts[i].At.Equal(alerts[j].At) {
			return alerts[i].At.Before(alerts[j].At)
		}
		return alerts[i].Severity.Rank() > alerts[j].Severity.Rank()
	})
}
