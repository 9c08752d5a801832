package jobs

import (
	"fmt"
	"strings"
)

// LatestPerKey describes a "first row of each partition" selection: rows are
// partitioned by Partition, ordered by OrderBy descending with TieBreak
// descending as the second key, and only the first row is kept.
type LatestPerKey struct {
	Table     string
	Columns   []string
	Partition string
	OrderBy   string
	TieBreak  string
}

// SQL renders the selection as a derived table using ROW_NUMBER, which both
// PostgreSQL and MySQL 8 support. Filters are applied by the caller on the
// result.
func (l LatestPerKey) SQL() string {
	cols := strings.Join(l.Columns, ", ")
	return fmt.Sprintf(
		"select %s from (select %s, row_number() over (partition by %s order by %s desc, %s desc) as rn from %s) ranked where ranked.rn = 1",
		cols, cols, l.Partition, l.OrderBy, l.TieBreak, l.Table,
	)
}

// LatestHistory selects the newest history entry of every job.
var LatestHistory = LatestPerKey{
	Table:     "job_history",
	Columns:   []string{"id", "job_ref", "job_status", "updated_at", "updated_by", "remark", "quantity", "unit"},
	Partition: "job_ref",
	OrderBy:   "updated_at",
	TieBreak:  "id",
}

// PickLatest applies the same selection to in-memory rows. newer reports
// whether a sorts before b in the partition order.
func PickLatest[T any](rows []T, key func(T) string, newer func(a, b T) bool) map[string]T {
	out := make(map[string]T)
	for _, r := range rows {
		k := key(r)
		cur, ok := out[k]
		if !ok || newer(r, cur) {
			out[k] = r
		}
	}
	return out
}

// Newer orders history entries by update time, then by insertion id.
func Newer(a, b HistoryEntry) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID > b.ID
}

// LatestEntries returns the newest entry per job.
func LatestEntries(entries []HistoryEntry) map[string]HistoryEntry {
	return PickLatest(entries, func(e HistoryEntry) string { return e.JobRef }, Newer)
}
