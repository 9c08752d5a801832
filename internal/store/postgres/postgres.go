// Package postgres implements the job and catalog stores on PostgreSQL via
// pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3748/jobdesk-go/internal/jobs"
)

// DB is satisfied by *pgxpool.Pool and by test fakes.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Store runs job operations against a pgx pool.
type Store struct {
	db DB
}

// New returns a Store on db.
func New(db DB) *Store {
	return &Store{db: db}
}

// InTx begins a transaction, hands it to fn and commits on success. The
// deferred rollback is a no-op once the transaction has committed.
func (s *Store) InTx(ctx context.Context, fn func(jobs.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return jobs.Wrap("begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()
	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return jobs.Wrap("commit", err)
	}
	return nil
}

// mapErr turns constraint violations into the job error kinds.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, jobs.ErrConflict)
	case "23503":
		field := pgErr.ConstraintName
		if field == "" {
			field = "reference"
		}
		return &jobs.ValidationError{Fields: map[string]string{field: "unknown_reference"}}
	}
	return err
}

const historyCols = `id, job_ref, product_ref, serial_number, quantity, unit, created_at, updated_at, active, job_status, remark, created_by, updated_by`

func scanEntry(row pgx.Row) (jobs.HistoryEntry, error) {
	var e jobs.HistoryEntry
	err := row.Scan(&e.ID, &e.JobRef, &e.ProductRef, &e.SerialNumber, &e.Quantity, &e.Unit,
		&e.CreatedAt, &e.UpdatedAt, &e.Active, &e.JobStatus, &e.Remark, &e.CreatedBy, &e.UpdatedBy)
	return e, err
}

type pgTx struct {
	q querier
}

func (t *pgTx) InsertJob(ctx context.Context, j jobs.Job) error {
	const q = `insert into jobs (job_ref, serial_number, product_ref, customer_ref, service_ref, action_status, job_status,
  expected_completion_date, customer_contact, error_message, created_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := t.q.Exec(ctx, q, j.JobRef, j.SerialNumber, j.ProductRef, j.CustomerRef, j.ServiceRef, j.ActionStatus,
		j.JobStatus, j.ExpectedCompletionDate, j.CustomerContact, j.ErrorMessage, j.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateJobStatus(ctx context.Context, jobRef, status string) (int64, error) {
	tag, err := t.q.Exec(ctx, `update jobs set job_status=$1 where job_ref=$2`, status, jobRef)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteJob relies on ON DELETE CASCADE for job_images and service_actions.
func (t *pgTx) DeleteJob(ctx context.Context, jobRef string) (int64, error) {
	tag, err := t.q.Exec(ctx, `delete from jobs where job_ref=$1`, jobRef)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) Snapshot(ctx context.Context, jobRef string) (*jobs.Snapshot, error) {
	const q = `select j.job_ref, j.product_ref, j.serial_number, coalesce(h.quantity, p.pcs, 0), coalesce(h.unit, ''),
  j.created_at, j.job_status, j.customer_ref, j.customer_contact
from jobs j
left join products p on p.product_ref = j.product_ref
left join lateral (
  select quantity, unit from job_history where job_ref = j.job_ref order by updated_at desc, id desc limit 1
) h on true
where j.job_ref = $1
for update of j`
	var s jobs.Snapshot
	err := t.q.QueryRow(ctx, q, jobRef).Scan(&s.JobRef, &s.ProductRef, &s.SerialNumber, &s.Quantity, &s.Unit,
		&s.CreatedAt, &s.JobStatus, &s.CustomerRef, &s.CustomerContact)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) AppendHistory(ctx context.Context, entries []jobs.HistoryEntry) ([]int64, error) {
	const q = `insert into job_history (job_ref, product_ref, serial_number, quantity, unit, created_at, updated_at, active,
  job_status, remark, created_by, updated_by)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
returning id`
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		var id int64
		err := t.q.QueryRow(ctx, q, e.JobRef, e.ProductRef, e.SerialNumber, e.Quantity, e.Unit, e.CreatedAt,
			e.UpdatedAt, e.Active, e.JobStatus, e.Remark, e.CreatedBy, e.UpdatedBy).Scan(&id)
		if err != nil {
			return nil, mapErr(err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *pgTx) LatestHistory(ctx context.Context, jobRef string) (*jobs.HistoryEntry, error) {
	q := `select ` + historyCols + ` from job_history where job_ref=$1 order by updated_at desc, id desc limit 1 for update`
	e, err := scanEntry(t.q.QueryRow(ctx, q, jobRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) UpdateRemark(ctx context.Context, entryID int64, remark string) (int64, error) {
	tag, err := t.q.Exec(ctx, `update job_history set remark=$1 where id=$2`, remark, entryID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) DeleteHistory(ctx context.Context, jobRef string) (int64, error) {
	tag, err := t.q.Exec(ctx, `delete from job_history where job_ref=$1`, jobRef)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) UpsertAction(ctx context.Context, row jobs.ActionRow) error {
	const q = `insert into service_actions (job_ref, service_ref, status, job_status, updated_at)
values ($1, $2, $3, $4, $5)
on conflict (job_ref, service_ref) do update set
  status = excluded.status,
  job_status = excluded.job_status,
  service_ref = excluded.service_ref,
  updated_at = excluded.updated_at`
	_, err := t.q.Exec(ctx, q, row.JobRef, row.ServiceRef, row.Status, row.JobStatus, row.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) InsertImages(ctx context.Context, images []jobs.Image) error {
	if len(images) == 0 {
		return nil
	}
	vals := make([]string, 0, len(images))
	args := make([]any, 0, len(images)*3)
	for i, im := range images {
		n := i * 3
		vals = append(vals, fmt.Sprintf("($%d, $%d, $%d)", n+1, n+2, n+3))
		args = append(args, im.JobRef, im.URL, im.Status)
	}
	q := `insert into job_images (job_ref, image_url, status) values ` + strings.Join(vals, ", ")
	_, err := t.q.Exec(ctx, q, args...)
	return mapErr(err)
}

func (t *pgTx) UpsertImage(ctx context.Context, img jobs.Image) error {
	const q = `insert into job_images (job_ref, image_url, status) values ($1, $2, $3)
on conflict (job_ref, image_url) do update set status = excluded.status`
	_, err := t.q.Exec(ctx, q, img.JobRef, img.URL, img.Status)
	return mapErr(err)
}

func (s *Store) JobDetail(ctx context.Context, jobRef string) (*jobs.Detail, error) {
	const q = `select j.job_ref, j.serial_number, j.product_ref, j.customer_ref, j.service_ref, j.job_status, j.action_status,
  j.error_message, j.expected_completion_date, j.customer_contact, j.created_at,
  c.customer_ref, c.first_name, c.last_name, c.username, c.email, c.phone,
  p.product_ref, p.product_name, p.sku, p.category, p.brand
from jobs j
left join customers c on c.customer_ref = j.customer_ref
left join products p on p.product_ref = j.product_ref
where j.job_ref = $1`
	var d jobs.Detail
	var cRef, cFirst, cLast, cUser, cEmail, cPhone *string
	var pRef, pName, pSKU, pCat, pBrand *string
	j := &d.Job
	err := s.db.QueryRow(ctx, q, jobRef).Scan(&j.JobRef, &j.SerialNumber, &j.ProductRef, &j.CustomerRef, &j.ServiceRef,
		&j.JobStatus, &j.ActionStatus, &j.ErrorMessage, &j.ExpectedCompletionDate, &j.CustomerContact, &j.CreatedAt,
		&cRef, &cFirst, &cLast, &cUser, &cEmail, &cPhone,
		&pRef, &pName, &pSKU, &pCat, &pBrand)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cRef != nil {
		d.Customer = &jobs.Customer{CustomerRef: *cRef, FirstName: deref(cFirst), LastName: deref(cLast),
			Username: deref(cUser), Email: deref(cEmail), Phone: deref(cPhone)}
	}
	if pRef != nil {
		d.Product = &jobs.Product{ProductRef: *pRef, ProductName: deref(pName), SKU: deref(pSKU),
			Category: deref(pCat), Brand: deref(pBrand)}
	}

	latest, err := scanEntry(s.db.QueryRow(ctx,
		`select `+historyCols+` from job_history where job_ref=$1 order by updated_at desc, id desc limit 1`, jobRef))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		d.Latest = &latest
	}

	rows, err := s.db.Query(ctx, `select id, job_ref, image_url, status from job_images where job_ref=$1 order by id`, jobRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	d.Images = []jobs.Image{}
	for rows.Next() {
		var im jobs.Image
		if err := rows.Scan(&im.ID, &im.JobRef, &im.URL, &im.Status); err != nil {
			return nil, err
		}
		d.Images = append(d.Images, im)
	}
	return &d, rows.Err()
}

func (s *Store) ListJobs(ctx context.Context, status string) ([]jobs.Summary, error) {
	q := `select j.job_ref, j.serial_number, j.created_at, coalesce(l.updated_at, j.created_at) as latest_update_at,
  j.job_status, l.updated_by, j.expected_completion_date, j.customer_contact, j.service_ref,
  coalesce(c.username, ''), coalesce(p.product_name, ''), coalesce(p.sku, '')
from jobs j
left join customers c on c.customer_ref = j.customer_ref
left join products p on p.product_ref = j.product_ref
left join (` + jobs.LatestHistory.SQL() + `) l on l.job_ref = j.job_ref`
	args := []any{}
	if status != "" {
		q += ` where j.job_status = $1`
		args = append(args, status)
	}
	q += ` order by latest_update_at desc, j.job_ref asc`
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []jobs.Summary{}
	for rows.Next() {
		var r jobs.Summary
		if err := rows.Scan(&r.JobRef, &r.SerialNumber, &r.CreatedAt, &r.LatestUpdateAt, &r.JobStatus, &r.LatestUpdateBy,
			&r.ExpectedCompletionDate, &r.CustomerContact, &r.ServiceRef, &r.Username, &r.ProductName, &r.SKU); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) History(ctx context.Context, jobRef string) ([]jobs.HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `select `+historyCols+` from job_history where job_ref=$1 order by updated_at desc, id desc`, jobRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []jobs.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Actions(ctx context.Context, jobRef string) ([]jobs.ActionRow, error) {
	rows, err := s.db.Query(ctx, `select job_ref, service_ref, status, job_status, updated_at from service_actions where job_ref=$1 order by service_ref`, jobRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []jobs.ActionRow
	for rows.Next() {
		var r jobs.ActionRow
		if err := rows.Scan(&r.JobRef, &r.ServiceRef, &r.Status, &r.JobStatus, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) OverdueJobs(ctx context.Context, now time.Time, done []string) ([]jobs.Summary, error) {
	lowered := make([]string, 0, len(done))
	for _, d := range done {
		lowered = append(lowered, strings.ToLower(d))
	}
	const q = `select job_ref, serial_number, created_at, job_status, expected_completion_date, customer_contact, service_ref
from jobs
where expected_completion_date < $1 and lower(job_status) <> all($2)
order by job_ref`
	rows, err := s.db.Query(ctx, q, now, lowered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []jobs.Summary
	for rows.Next() {
		var r jobs.Summary
		if err := rows.Scan(&r.JobRef, &r.SerialNumber, &r.CreatedAt, &r.JobStatus, &r.ExpectedCompletionDate,
			&r.CustomerContact, &r.ServiceRef); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
