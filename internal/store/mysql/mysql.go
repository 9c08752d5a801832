// Package mysql implements the job and catalog stores on MySQL 8 through
// database/sql and go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/mark3748/jobdesk-go/internal/jobs"
)

// Open parses dsn, forces parseTime and UTC, and returns a pool capped at
// maxConns open connections.
func Open(dsn string, maxConns int) (*sql.DB, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	conn, err := driver.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(conn)
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	return db, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store runs job operations against a *sql.DB.
type Store struct {
	db *sql.DB
}

// New returns a Store on db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(jobs.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.Wrap("begin", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&myTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return jobs.Wrap("commit", err)
	}
	return nil
}

// MySQL error numbers mapped onto job error kinds.
const (
	errDupEntry      = 1062
	errNoReferenced  = 1452
	errRowReferenced = 1451
)

func mapErr(err error) error {
	var myErr *driver.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case errDupEntry:
		return fmt.Errorf("%s: %w", myErr.Message, jobs.ErrConflict)
	case errNoReferenced:
		return &jobs.ValidationError{Fields: map[string]string{"reference": "unknown_reference"}}
	case errRowReferenced:
		return fmt.Errorf("%s: %w", myErr.Message, jobs.ErrConflict)
	}
	return err
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const historyCols = `id, job_ref, product_ref, serial_number, quantity, unit, created_at, updated_at, active, job_status, remark, created_by, updated_by`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (jobs.HistoryEntry, error) {
	var e jobs.HistoryEntry
	err := row.Scan(&e.ID, &e.JobRef, &e.ProductRef, &e.SerialNumber, &e.Quantity, &e.Unit,
		&e.CreatedAt, &e.UpdatedAt, &e.Active, &e.JobStatus, &e.Remark, &e.CreatedBy, &e.UpdatedBy)
	return e, err
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

type myTx struct {
	q querier
}

func (t *myTx) InsertJob(ctx context.Context, j jobs.Job) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO jobs (job_ref, serial_number, product_ref, customer_ref, service_ref,
  action_status, job_status, expected_completion_date, customer_contact, error_message, created_at)
VALUES (`+placeholders(11)+`)`,
		j.JobRef, j.SerialNumber, j.ProductRef, j.CustomerRef, j.ServiceRef, j.ActionStatus, j.JobStatus,
		j.ExpectedCompletionDate, j.CustomerContact, j.ErrorMessage, j.CreatedAt)
	return mapErr(err)
}

func (t *myTx) UpdateJobStatus(ctx context.Context, jobRef, status string) (int64, error) {
	// CLIENT_FOUND_ROWS is off by default, so re-setting the current status
	// reports zero changed rows; check existence separately.
	n, err := rowsAffected(t.q.ExecContext(ctx, `UPDATE jobs SET job_status = ? WHERE job_ref = ?`, status, jobRef))
	if err != nil || n > 0 {
		return n, err
	}
	var one int
	err = t.q.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE job_ref = ?`, jobRef).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (t *myTx) DeleteJob(ctx context.Context, jobRef string) (int64, error) {
	return rowsAffected(t.q.ExecContext(ctx, `DELETE FROM jobs WHERE job_ref = ?`, jobRef))
}

func (t *myTx) Snapshot(ctx context.Context, jobRef string) (*jobs.Snapshot, error) {
	var s jobs.Snapshot
	var pcs sql.NullInt64
	err := t.q.QueryRowContext(ctx, `SELECT j.job_ref, j.product_ref, j.serial_number, p.pcs, j.created_at, j.job_status,
  j.customer_ref, j.customer_contact
FROM jobs j
LEFT JOIN products p ON p.product_ref = j.product_ref
WHERE j.job_ref = ?
FOR UPDATE`, jobRef).Scan(&s.JobRef, &s.ProductRef, &s.SerialNumber, &pcs, &s.CreatedAt, &s.JobStatus,
		&s.CustomerRef, &s.CustomerContact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Quantity = int(pcs.Int64)

	var qty int
	var unit string
	err = t.q.QueryRowContext(ctx, `SELECT quantity, unit FROM job_history WHERE job_ref = ?
ORDER BY updated_at DESC, id DESC LIMIT 1`, jobRef).Scan(&qty, &unit)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		s.Quantity, s.Unit = qty, unit
	}
	return &s, nil
}

func (t *myTx) AppendHistory(ctx context.Context, entries []jobs.HistoryEntry) ([]int64, error) {
	const q = `INSERT INTO job_history (job_ref, product_ref, serial_number, quantity, unit, created_at, updated_at,
  active, job_status, remark, created_by, updated_by)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		res, err := t.q.ExecContext(ctx, q, e.JobRef, e.ProductRef, e.SerialNumber, e.Quantity, e.Unit,
			e.CreatedAt, e.UpdatedAt, e.Active, e.JobStatus, e.Remark, e.CreatedBy, e.UpdatedBy)
		if err != nil {
			return nil, mapErr(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *myTx) LatestHistory(ctx context.Context, jobRef string) (*jobs.HistoryEntry, error) {
	e, err := scanEntry(t.q.QueryRowContext(ctx, `SELECT `+historyCols+` FROM job_history WHERE job_ref = ?
ORDER BY updated_at DESC, id DESC LIMIT 1 FOR UPDATE`, jobRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *myTx) UpdateRemark(ctx context.Context, entryID int64, remark string) (int64, error) {
	n, err := rowsAffected(t.q.ExecContext(ctx, `UPDATE job_history SET remark = ? WHERE id = ?`, remark, entryID))
	if err != nil || n > 0 {
		return n, err
	}
	// Same remark as before: the row is still there.
	var one int
	err = t.q.QueryRowContext(ctx, `SELECT 1 FROM job_history WHERE id = ?`, entryID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (t *myTx) DeleteHistory(ctx context.Context, jobRef string) (int64, error) {
	return rowsAffected(t.q.ExecContext(ctx, `DELETE FROM job_history WHERE job_ref = ?`, jobRef))
}

func (t *myTx) UpsertAction(ctx context.Context, row jobs.ActionRow) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO service_actions (job_ref, service_ref, status, job_status, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE status = VALUES(status), job_status = VALUES(job_status), updated_at = VALUES(updated_at)`,
		row.JobRef, row.ServiceRef, row.Status, row.JobStatus, row.UpdatedAt)
	return mapErr(err)
}

func (t *myTx) InsertImages(ctx context.Context, images []jobs.Image) error {
	if len(images) == 0 {
		return nil
	}
	vals := make([]string, 0, len(images))
	args := make([]any, 0, len(images)*3)
	for _, im := range images {
		vals = append(vals, "(?, ?, ?)")
		args = append(args, im.JobRef, im.URL, im.Status)
	}
	_, err := t.q.ExecContext(ctx, `INSERT INTO job_images (job_ref, image_url, status) VALUES `+strings.Join(vals, ", "), args...)
	return mapErr(err)
}

func (t *myTx) UpsertImage(ctx context.Context, img jobs.Image) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO job_images (job_ref, image_url, status) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE status = VALUES(status)`, img.JobRef, img.URL, img.Status)
	return mapErr(err)
}

func (s *Store) JobDetail(ctx context.Context, jobRef string) (*jobs.Detail, error) {
	var d jobs.Detail
	var cRef, cFirst, cLast, cUser, cEmail, cPhone sql.NullString
	var pRef, pName, pSKU, pCat, pBrand sql.NullString
	j := &d.Job
	err := s.db.QueryRowContext(ctx, `SELECT j.job_ref, j.serial_number, j.product_ref, j.customer_ref, j.service_ref,
  j.job_status, j.action_status, j.error_message, j.expected_completion_date, j.customer_contact, j.created_at,
  c.customer_ref, c.first_name, c.last_name, c.username, c.email, c.phone,
  p.product_ref, p.product_name, p.sku, p.category, p.brand
FROM jobs j
LEFT JOIN customers c ON c.customer_ref = j.customer_ref
LEFT JOIN products p ON p.product_ref = j.product_ref
WHERE j.job_ref = ?`, jobRef).Scan(&j.JobRef, &j.SerialNumber, &j.ProductRef, &j.CustomerRef, &j.ServiceRef,
		&j.JobStatus, &j.ActionStatus, &j.ErrorMessage, &j.ExpectedCompletionDate, &j.CustomerContact, &j.CreatedAt,
		&cRef, &cFirst, &cLast, &cUser, &cEmail, &cPhone,
		&pRef, &pName, &pSKU, &pCat, &pBrand)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cRef.Valid {
		d.Customer = &jobs.Customer{CustomerRef: cRef.String, FirstName: cFirst.String, LastName: cLast.String,
			Username: cUser.String, Email: cEmail.String, Phone: cPhone.String}
	}
	if pRef.Valid {
		d.Product = &jobs.Product{ProductRef: pRef.String, ProductName: pName.String, SKU: pSKU.String,
			Category: pCat.String, Brand: pBrand.String}
	}

	latest, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+historyCols+` FROM job_history WHERE job_ref = ?
ORDER BY updated_at DESC, id DESC LIMIT 1`, jobRef))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		d.Latest = &latest
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, job_ref, image_url, status FROM job_images WHERE job_ref = ? ORDER BY id`, jobRef)
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

// listJobsQuery builds the job list statement. It is separate from ListJobs
// so the SQL can be checked without a server.
func listJobsQuery(status string) (string, []any) {
	q := `SELECT j.job_ref, j.serial_number, j.created_at, COALESCE(l.updated_at, j.created_at) AS latest_update_at,
  j.job_status, l.updated_by, j.expected_completion_date, j.customer_contact, j.service_ref,
  COALESCE(c.username, ''), COALESCE(p.product_name, ''), COALESCE(p.sku, '')
FROM jobs j
LEFT JOIN customers c ON c.customer_ref = j.customer_ref
LEFT JOIN products p ON p.product_ref = j.product_ref
LEFT JOIN (` + jobs.LatestHistory.SQL() + `) l ON l.job_ref = j.job_ref`
	var args []any
	if status != "" {
		q += ` WHERE j.job_status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY latest_update_at DESC, j.job_ref ASC`
	return q, args
}

func (s *Store) ListJobs(ctx context.Context, status string) ([]jobs.Summary, error) {
	q, args := listJobsQuery(status)
	rows, err := s.db.QueryContext(ctx, q, args...)
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
	rows, err := s.db.QueryContext(ctx, `SELECT `+historyCols+` FROM job_history WHERE job_ref = ?
ORDER BY updated_at DESC, id DESC`, jobRef)
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
	rows, err := s.db.QueryContext(ctx, `SELECT job_ref, service_ref, status, job_status, updated_at
FROM service_actions WHERE job_ref = ? ORDER BY service_ref`, jobRef)
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

func overdueQuery(now time.Time, done []string) (string, []any) {
	q := `SELECT job_ref, serial_number, created_at, job_status, expected_completion_date, customer_contact, service_ref
FROM jobs WHERE expected_completion_date < ?`
	args := []any{now}
	if len(done) > 0 {
		q += ` AND LOWER(job_status) NOT IN (` + placeholders(len(done)) + `)`
		for _, d := range done {
			args = append(args, strings.ToLower(d))
		}
	}
	return q + ` ORDER BY job_ref`, args
}

func (s *Store) OverdueJobs(ctx context.Context, now time.Time, done []string) ([]jobs.Summary, error) {
	q, args := overdueQuery(now, done)
	rows, err := s.db.QueryContext(ctx, q, args...)
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
