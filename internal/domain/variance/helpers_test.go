package variance

import (
	"time"

	"ledgercore/internal/core/entity"
)

func manualEvents(actor string, base time.Time, minutes ...int) []entity.QuantityChangeEvent {
	out := make([]entity.QuantityChangeEvent, 0, len(minutes))
	for _, m := range minutes {
		out = append(out, entity.QuantityChangeEvent{
			ID:         entity.NewID(),
			ProductID:  "AMOX",
			Delta:      -1,
			Reason:     entity.ReasonAdjustment,
			Actor:      actor,
			OccurredAt: base.Add(time.Duration(m) * time.Minute),
		})
	}
	return out
}
