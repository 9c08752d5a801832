package jobs

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every coordinator operation, pool acquisition
// included, when no other timeout is configured.
const DefaultTimeout = 10 * time.Second

// Event types published after a successful commit.
const (
	EventJobCreated     = "job_created"
	EventStatusChanged  = "job_status_changed"
	EventRemarkRecorded = "job_remark_recorded"
	EventJobDeleted     = "job_deleted"
	EventJobOverdue     = "job_overdue"
)

// Event describes a committed change to a job.
type Event struct {
	Type    string `json:"type"`
	JobRef  string `json:"job_ref"`
	Status  string `json:"status,omitempty"`
	ActorID string `json:"actor,omitempty"`
}

// Notifier receives events once the owning transaction has committed.
// Delivery is best effort.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// Coordinator runs the multi-table job operations, each inside one
// transaction.
type Coordinator struct {
	store   Store
	notify  Notifier
	timeout time.Duration
	now     func() time.Time
	policy  *bluemonday.Policy
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notify = n } }

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// NewCoordinator returns a Coordinator bound to store.
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		timeout: DefaultTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		policy:  bluemonday.StrictPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Coordinator) publish(ctx context.Context, ev Event) {
	if c.notify == nil {
		return
	}
	c.notify.Publish(ctx, ev)
}

// logger prefers the request-scoped logger and falls back to the global one.
func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// TransitionStatus moves a job to a new status, appends the matching history
// entry and upserts the actor's ledger row. It returns the appended entry.
func (c *Coordinator) TransitionStatus(ctx context.Context, in TransitionInput) (*HistoryEntry, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	var entry HistoryEntry
	err := c.store.InTx(ctx, func(tx Tx) error {
		n, err := tx.UpdateJobStatus(ctx, in.JobRef, in.NewStatus)
		if err != nil {
			return Wrap("update job status", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		snap, err := tx.Snapshot(ctx, in.JobRef)
		if err != nil {
			return Wrap("read job snapshot", err)
		}
		if snap == nil {
			logger(ctx).Error().Str("job_ref", in.JobRef).Str("status", in.NewStatus).
				Msg("job missing right after status update")
			return ErrInconsistentState
		}
		now := c.now()
		actor := in.ActorRef
		entry = HistoryEntry{
			JobRef:       snap.JobRef,
			ProductRef:   snap.ProductRef,
			SerialNumber: snap.SerialNumber,
			Quantity:     snap.Quantity,
			Unit:         snap.Unit,
			CreatedAt:    snap.CreatedAt,
			UpdatedAt:    now,
			Active:       1,
			JobStatus:    in.NewStatus,
			UpdatedBy:    &actor,
		}
		ids, err := tx.AppendHistory(ctx, []HistoryEntry{entry})
		if err != nil {
			return Wrap("append history", err)
		}
		entry.ID = ids[0]
		status := in.NewStatus
		if err := tx.UpsertAction(ctx, ActionRow{JobRef: in.JobRef, ServiceRef: actor, Status: 1, JobStatus: &status, UpdatedAt: now}); err != nil {
			return Wrap("upsert service action", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, Event{Type: EventStatusChanged, JobRef: in.JobRef, Status: in.NewStatus, ActorID: in.ActorRef})
	return &entry, nil
}

// RecordRemark sets the remark of the job's latest history entry and upserts
// the given image URLs with the status label.
func (c *Coordinator) RecordRemark(ctx context.Context, in RemarkInput) (*HistoryEntry, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	// Markup is stripped but the remark is stored as plain text, not HTML.
	remark := strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(in.Remark)))
	if remark == "" {
		return nil, &ValidationError{Fields: map[string]string{"remark": "required"}}
	}
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	var latest *HistoryEntry
	err := c.store.InTx(ctx, func(tx Tx) error {
		var err error
		latest, err = tx.LatestHistory(ctx, in.JobRef)
		if err != nil {
			return Wrap("find latest history", err)
		}
		if latest == nil {
			return ErrNotFound
		}
		n, err := tx.UpdateRemark(ctx, latest.ID, remark)
		if err != nil {
			return Wrap("update remark", err)
		}
		if n == 0 {
			logger(ctx).Error().Str("job_ref", in.JobRef).Int64("entry_id", latest.ID).
				Msg("latest history entry vanished before remark update")
			return ErrInconsistentState
		}
		latest.Remark = &remark
		for _, url := range dedupe(in.Images) {
			if err := tx.UpsertImage(ctx, Image{JobRef: in.JobRef, URL: url, Status: in.JobStatus}); err != nil {
				return Wrap("upsert image", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, Event{Type: EventRemarkRecorded, JobRef: in.JobRef, Status: in.JobStatus})
	return latest, nil
}

// CreateJob inserts the job with its images, initial history entries and the
// owning service's ledger row.
func (c *Coordinator) CreateJob(ctx context.Context, in CreateInput) (*Job, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	// The job row and its creation entries must agree on status.
	for i, it := range in.Items {
		if it.JobStatus != "" && it.JobStatus != in.JobStatus {
			return nil, &ValidationError{Fields: map[string]string{fmt.Sprintf("items[%d].job_status", i): "eqfield"}}
		}
	}
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	now := c.now()
	job := Job{
		JobRef:                 in.JobRef,
		SerialNumber:           in.SerialNumber,
		ProductRef:             in.ProductRef,
		CustomerRef:            in.CustomerRef,
		ServiceRef:             in.ServiceRef,
		JobStatus:              in.JobStatus,
		ActionStatus:           0,
		ExpectedCompletionDate: in.ExpectedCompletionDate,
		CustomerContact:        in.CustomerContact,
		CreatedAt:              now,
	}
	images := make([]Image, 0, len(in.Images))
	for _, url := range dedupe(in.Images) {
		images = append(images, Image{JobRef: in.JobRef, URL: url, Status: in.JobStatus})
	}
	entries := make([]HistoryEntry, 0, len(in.Items))
	for _, it := range in.Items {
		entries = append(entries, c.itemEntry(in, it, now))
	}

	err := c.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertJob(ctx, job); err != nil {
			return Wrap("insert job", err)
		}
		if len(images) > 0 {
			if err := tx.InsertImages(ctx, images); err != nil {
				return Wrap("insert images", err)
			}
		}
		if len(entries) > 0 {
			if _, err := tx.AppendHistory(ctx, entries); err != nil {
				return Wrap("insert history", err)
			}
		}
		status := in.JobStatus
		if err := tx.UpsertAction(ctx, ActionRow{JobRef: in.JobRef, ServiceRef: in.ServiceRef, Status: 1, JobStatus: &status, UpdatedAt: now}); err != nil {
			return Wrap("insert service action", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, Event{Type: EventJobCreated, JobRef: in.JobRef, Status: in.JobStatus, ActorID: in.ServiceRef})
	return &job, nil
}

func (c *Coordinator) itemEntry(in CreateInput, it LineItem, now time.Time) HistoryEntry {
	e := HistoryEntry{
		JobRef:       in.JobRef,
		ProductRef:   it.ProductRef,
		SerialNumber: it.SerialNumber,
		Quantity:     it.Quantity,
		Unit:         it.Unit,
		CreatedAt:    now,
		UpdatedAt:    now,
		Active:       1,
		JobStatus:    it.JobStatus,
	}
	if e.ProductRef == "" {
		e.ProductRef = in.ProductRef
	}
	if e.SerialNumber == "" {
		e.SerialNumber = in.SerialNumber
	}
	if e.JobStatus == "" {
		e.JobStatus = in.JobStatus
	}
	by := it.ServiceRef
	if by == "" {
		by = in.ServiceRef
	}
	e.CreatedBy = &by
	return e
}

// DeleteJob removes a job's history and then the job row. The call succeeds
// when either table had matching rows.
func (c *Coordinator) DeleteJob(ctx context.Context, jobRef string) error {
	if strings.TrimSpace(jobRef) == "" {
		return &ValidationError{Fields: map[string]string{"job_ref": "required"}}
	}
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	err := c.store.InTx(ctx, func(tx Tx) error {
		h, err := tx.DeleteHistory(ctx, jobRef)
		if err != nil {
			return Wrap("delete history", err)
		}
		j, err := tx.DeleteJob(ctx, jobRef)
		if err != nil {
			return Wrap("delete job", err)
		}
		if h == 0 && j == 0 {
			return ErrNotFound
		}
		if j == 0 {
			logger(ctx).Warn().Str("job_ref", jobRef).Int64("history_rows", h).Msg("deleted history of a job with no job row")
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.publish(ctx, Event{Type: EventJobDeleted, JobRef: jobRef})
	return nil
}

// GetJobDetail returns the job with its customer, product, latest history
// entry and images.
func (c *Coordinator) GetJobDetail(ctx context.Context, jobRef string) (*Detail, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	d, err := c.store.JobDetail(ctx, jobRef)
	if err != nil {
		return nil, Wrap("job detail", err)
	}
	if d == nil {
		return nil, ErrNotFound
	}
	if d.Images == nil {
		d.Images = []Image{}
	}
	return d, nil
}

// ListJobs returns one row per job with its latest history entry, newest
// first. An empty status lists every job.
func (c *Coordinator) ListJobs(ctx context.Context, status string) ([]Summary, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	out, err := c.store.ListJobs(ctx, strings.TrimSpace(status))
	if err != nil {
		return nil, Wrap("list jobs", err)
	}
	if out == nil {
		out = []Summary{}
	}
	return out, nil
}

// JobHistory returns every history entry of a job, newest first.
func (c *Coordinator) JobHistory(ctx context.Context, jobRef string) ([]HistoryEntry, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	out, err := c.store.History(ctx, jobRef)
	if err != nil {
		return nil, Wrap("job history", err)
	}
	if len(out) == 0 {
		d, err := c.store.JobDetail(ctx, jobRef)
		if err != nil {
			return nil, Wrap("job detail", err)
		}
		if d == nil {
			return nil, ErrNotFound
		}
		return []HistoryEntry{}, nil
	}
	return out, nil
}

// Actions returns the ledger rows recorded for a job.
func (c *Coordinator) Actions(ctx context.Context, jobRef string) ([]ActionRow, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	out, err := c.store.Actions(ctx, jobRef)
	if err != nil {
		return nil, Wrap("service actions", err)
	}
	if out == nil {
		out = []ActionRow{}
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
