package jobs

import (
	"context"
	"time"
)

// TerminalStatuses are the statuses after which a job can no longer be late.
var TerminalStatuses = []string{"completed", "delivered", "cancelled"}

// OverdueFinder lists jobs past their expected completion date.
type OverdueFinder interface {
	OverdueJobs(ctx context.Context, now time.Time, done []string) ([]Summary, error)
}

// SweepOverdue publishes a job_overdue event for every late job and returns
// how many were found.
func SweepOverdue(ctx context.Context, f OverdueFinder, n Notifier, now time.Time) (int, error) {
	late, err := f.OverdueJobs(ctx, now, TerminalStatuses)
	if err != nil {
		return 0, Wrap("overdue jobs", err)
	}
	for _, j := range late {
		logger(ctx).Warn().Str("job_ref", j.JobRef).Str("status", j.JobStatus).
			Time("expected", *j.ExpectedCompletionDate).Msg("job overdue")
		if n != nil {
			n.Publish(ctx, Event{Type: EventJobOverdue, JobRef: j.JobRef, Status: j.JobStatus})
		}
	}
	return len(late), nil
}
