package jobs

import (
	"testing"
	"time"
)

func TestLatestPerKeySQL(t *testing.T) {
	l := LatestPerKey{Table: "t", Columns: []string{"a", "b"}, Partition: "a", OrderBy: "ts", TieBreak: "id"}
	want := "select a, b from (select a, b, row_number() over (partition by a order by ts desc, id desc) as rn from t) ranked where ranked.rn = 1"
	if got := l.SQL(); got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestLatestEntries(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []HistoryEntry{
		{ID: 1, JobRef: "A", UpdatedAt: base},
		{ID: 2, JobRef: "A", UpdatedAt: base.Add(time.Hour)},
		{ID: 3, JobRef: "A", UpdatedAt: base},
		{ID: 4, JobRef: "B", UpdatedAt: base},
		{ID: 5, JobRef: "B", UpdatedAt: base},
	}
	got := LatestEntries(entries)
	if len(got) != 2 {
		t.Fatalf("expected one entry per job, got %d", len(got))
	}
	if got["A"].ID != 2 {
		t.Fatalf("A: newest update wins, got %d", got["A"].ID)
	}
	if got["B"].ID != 5 {
		t.Fatalf("B: equal timestamps break on id, got %d", got["B"].ID)
	}
}
