package batch

import "ledgercore/internal/domain/audit"

func auditEntry(entityType string) audit.Entry {
	return audit.Entry{EntityType: entityType, EntityID: "x", Action: audit.ActionRetire}
}
