package jobs

import "context"

// Store is the relational store the coordinator runs against.
type Store interface {
	// InTx runs fn inside a single transaction. It commits when fn returns
	// nil and rolls back otherwise; the transaction is always released
	// before InTx returns.
	InTx(ctx context.Context, fn func(Tx) error) error
	Reader
}

// Tx exposes the writes the coordinator performs, bound to one open
// transaction.
type Tx interface {
	// InsertJob adds the current-state row. A duplicate job_ref returns
	// ErrConflict.
	InsertJob(ctx context.Context, j Job) error
	// UpdateJobStatus sets the status column and reports the affected rows.
	UpdateJobStatus(ctx context.Context, jobRef, status string) (int64, error)
	// DeleteJob removes the job row along with its images and ledger rows.
	DeleteJob(ctx context.Context, jobRef string) (int64, error)
	// Snapshot reads the joined job state and latest history row. It returns
	// nil when the job row does not exist.
	Snapshot(ctx context.Context, jobRef string) (*Snapshot, error)

	AppendHistory(ctx context.Context, entries []HistoryEntry) ([]int64, error)
	LatestHistory(ctx context.Context, jobRef string) (*HistoryEntry, error)
	UpdateRemark(ctx context.Context, entryID int64, remark string) (int64, error)
	DeleteHistory(ctx context.Context, jobRef string) (int64, error)

	// UpsertAction inserts or overwrites the (job_ref, service_ref) row.
	UpsertAction(ctx context.Context, row ActionRow) error

	InsertImages(ctx context.Context, images []Image) error
	// UpsertImage inserts the image or rewrites the status label of the
	// existing (job_ref, url) row.
	UpsertImage(ctx context.Context, img Image) error
}

// Reader holds the read-only queries that do not need a transaction.
type Reader interface {
	JobDetail(ctx context.Context, jobRef string) (*Detail, error)
	ListJobs(ctx context.Context, status string) ([]Summary, error)
	History(ctx context.Context, jobRef string) ([]HistoryEntry, error)
	Actions(ctx context.Context, jobRef string) ([]ActionRow, error)
}
