package sequence_repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodRepo_CurrentQuery(t *testing.T) {
	r := NewPeriodRepo(nil)
	day := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		lock   bool
		expect string
	}{
		{
			name:   "plain",
			expect: "SELECT id, series, period_start, last_issued, created_at, updated_at FROM fiscal_periods WHERE series = $1 AND period_start <= $2 ORDER BY period_start DESC LIMIT 1",
		},
		{
			name:   "for update",
			lock:   true,
			expect: "SELECT id, series, period_start, last_issued, created_at, updated_at FROM fiscal_periods WHERE series = $1 AND period_start <= $2 ORDER BY period_start DESC LIMIT 1 FOR UPDATE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := r.currentQuery("INV", day)
			if tt.lock {
				q = q.Suffix("FOR UPDATE")
			}
			sql, args, err := q.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.expect, sql)
			assert.Equal(t, []any{"INV", day}, args)
		})
	}
}

func TestPeriodColumns(t *testing.T) {
	assert.Equal(t, []string{"id", "series", "period_start", "last_issued", "created_at", "updated_at"}, periodColumns)
}
