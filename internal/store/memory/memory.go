// Package memory is an in-process implementation of the job and catalog
// stores. Transactions run on a copy of the state that replaces the live
// state on commit; writers are serialized by a mutex.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3748/jobdesk-go/internal/catalog"
	"github.com/mark3748/jobdesk-go/internal/jobs"
)

type actionKey struct{ job, service string }

type state struct {
	jobs       map[string]jobs.Job
	history    []jobs.HistoryEntry
	actions    map[actionKey]jobs.ActionRow
	images     []jobs.Image
	customers  map[string]catalog.Customer
	products   map[string]catalog.Product
	categories []catalog.Category
	accounts   []catalog.ServiceAccount
	seq        int64
}

func newState() *state {
	return &state{
		jobs:      map[string]jobs.Job{},
		actions:   map[actionKey]jobs.ActionRow{},
		customers: map[string]catalog.Customer{},
		products:  map[string]catalog.Product{},
	}
}

func (s *state) clone() *state {
	c := &state{
		jobs:       make(map[string]jobs.Job, len(s.jobs)),
		history:    append([]jobs.HistoryEntry(nil), s.history...),
		actions:    make(map[actionKey]jobs.ActionRow, len(s.actions)),
		images:     append([]jobs.Image(nil), s.images...),
		customers:  make(map[string]catalog.Customer, len(s.customers)),
		products:   make(map[string]catalog.Product, len(s.products)),
		categories: append([]catalog.Category(nil), s.categories...),
		accounts:   append([]catalog.ServiceAccount(nil), s.accounts...),
		seq:        s.seq,
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.actions {
		c.actions[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Store keeps every table in memory.
type Store struct {
	mu sync.RWMutex
	st *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds and ctx is still live.
func (s *Store) InTx(ctx context.Context, fn func(jobs.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return jobs.Wrap("begin", err)
	}
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return jobs.Wrap("commit", err)
	}
	s.st = work
	return nil
}

func (s *Store) read(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) write(ctx context.Context, fn func(*state) error) error {
	return s.InTx(ctx, func(t jobs.Tx) error { return fn(t.(*tx).st) })
}

type tx struct{ st *state }

func (t *tx) InsertJob(ctx context.Context, j jobs.Job) error {
	if _, ok := t.st.jobs[j.JobRef]; ok {
		return jobs.ErrConflict
	}
	t.st.jobs[j.JobRef] = j
	return nil
}

func (t *tx) UpdateJobStatus(ctx context.Context, jobRef, status string) (int64, error) {
	j, ok := t.st.jobs[jobRef]
	if !ok {
		return 0, nil
	}
	j.JobStatus = status
	t.st.jobs[jobRef] = j
	return 1, nil
}

func (t *tx) DeleteJob(ctx context.Context, jobRef string) (int64, error) {
	if _, ok := t.st.jobs[jobRef]; !ok {
		return 0, nil
	}
	delete(t.st.jobs, jobRef)
	imgs := t.st.images[:0]
	for _, im := range t.st.images {
		if im.JobRef != jobRef {
			imgs = append(imgs, im)
		}
	}
	t.st.images = imgs
	for k := range t.st.actions {
		if k.job == jobRef {
			delete(t.st.actions, k)
		}
	}
	return 1, nil
}

func (t *tx) Snapshot(ctx context.Context, jobRef string) (*jobs.Snapshot, error) {
	j, ok := t.st.jobs[jobRef]
	if !ok {
		return nil, nil
	}
	snap := &jobs.Snapshot{
		JobRef:          j.JobRef,
		ProductRef:      j.ProductRef,
		SerialNumber:    j.SerialNumber,
		CreatedAt:       j.CreatedAt,
		JobStatus:       j.JobStatus,
		CustomerRef:     j.CustomerRef,
		CustomerContact: j.CustomerContact,
	}
	if p, ok := t.st.products[j.ProductRef]; ok {
		snap.Quantity = p.Pcs
	}
	if latest := t.st.latest(jobRef); latest != nil {
		snap.Quantity = latest.Quantity
		snap.Unit = latest.Unit
	}
	return snap, nil
}

func (s *state) latest(jobRef string) *jobs.HistoryEntry {
	var own []jobs.HistoryEntry
	for _, e := range s.history {
		if e.JobRef == jobRef {
			own = append(own, e)
		}
	}
	e, ok := jobs.LatestEntries(own)[jobRef]
	if !ok {
		return nil
	}
	return &e
}

func (t *tx) AppendHistory(ctx context.Context, entries []jobs.HistoryEntry) ([]int64, error) {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		e.ID = t.st.next()
		t.st.history = append(t.st.history, e)
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (t *tx) LatestHistory(ctx context.Context, jobRef string) (*jobs.HistoryEntry, error) {
	return t.st.latest(jobRef), nil
}

func (t *tx) UpdateRemark(ctx context.Context, entryID int64, remark string) (int64, error) {
	for i := range t.st.history {
		if t.st.history[i].ID == entryID {
			r := remark
			t.st.history[i].Remark = &r
			return 1, nil
		}
	}
	return 0, nil
}

func (t *tx) DeleteHistory(ctx context.Context, jobRef string) (int64, error) {
	var n int64
	kept := make([]jobs.HistoryEntry, 0, len(t.st.history))
	for _, e := range t.st.history {
		if e.JobRef == jobRef {
			n++
			continue
		}
		kept = append(kept, e)
	}
	t.st.history = kept
	return n, nil
}

func (t *tx) UpsertAction(ctx context.Context, row jobs.ActionRow) error {
	t.st.actions[actionKey{row.JobRef, row.ServiceRef}] = row
	return nil
}

func (t *tx) InsertImages(ctx context.Context, images []jobs.Image) error {
	for _, im := range images {
		for _, cur := range t.st.images {
			if cur.JobRef == im.JobRef && cur.URL == im.URL {
				return jobs.ErrConflict
			}
		}
		im.ID = t.st.next()
		t.st.images = append(t.st.images, im)
	}
	return nil
}

func (t *tx) UpsertImage(ctx context.Context, img jobs.Image) error {
	for i, cur := range t.st.images {
		if cur.JobRef == img.JobRef && cur.URL == img.URL {
			t.st.images[i].Status = img.Status
			return nil
		}
	}
	img.ID = t.st.next()
	t.st.images = append(t.st.images, img)
	return nil
}

func (s *Store) JobDetail(ctx context.Context, jobRef string) (*jobs.Detail, error) {
	var out *jobs.Detail
	err := s.read(ctx, func(st *state) error {
		j, ok := st.jobs[jobRef]
		if !ok {
			return nil
		}
		d := &jobs.Detail{Job: j, Latest: st.latest(jobRef), Images: []jobs.Image{}}
		if c, ok := st.customers[j.CustomerRef]; ok {
			d.Customer = &jobs.Customer{
				CustomerRef: c.CustomerRef, FirstName: c.FirstName, LastName: c.LastName,
				Username: c.Username, Email: c.Email, Phone: c.Phone,
			}
		}
		if p, ok := st.products[j.ProductRef]; ok {
			d.Product = &jobs.Product{
				ProductRef: p.ProductRef, ProductName: p.ProductName, SKU: p.SKU,
				Category: p.Category, Brand: p.Brand,
			}
		}
		for _, im := range st.images {
			if im.JobRef == jobRef {
				d.Images = append(d.Images, im)
			}
		}
		sort.Slice(d.Images, func(a, b int) bool { return d.Images[a].ID < d.Images[b].ID })
		out = d
		return nil
	})
	return out, err
}

func (s *Store) ListJobs(ctx context.Context, status string) ([]jobs.Summary, error) {
	out := []jobs.Summary{}
	err := s.read(ctx, func(st *state) error {
		latest := jobs.LatestEntries(st.history)
		for _, j := range st.jobs {
			if status != "" && j.JobStatus != status {
				continue
			}
			sum := jobs.Summary{
				JobRef:                 j.JobRef,
				SerialNumber:           j.SerialNumber,
				CreatedAt:              j.CreatedAt,
				LatestUpdateAt:         j.CreatedAt,
				JobStatus:              j.JobStatus,
				ExpectedCompletionDate: j.ExpectedCompletionDate,
				CustomerContact:        j.CustomerContact,
				ServiceRef:             j.ServiceRef,
			}
			if e, ok := latest[j.JobRef]; ok {
				sum.LatestUpdateAt = e.UpdatedAt
				sum.LatestUpdateBy = e.UpdatedBy
			}
			if c, ok := st.customers[j.CustomerRef]; ok {
				sum.Username = c.Username
			}
			if p, ok := st.products[j.ProductRef]; ok {
				sum.ProductName = p.ProductName
				sum.SKU = p.SKU
			}
			out = append(out, sum)
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool {
		if !out[a].LatestUpdateAt.Equal(out[b].LatestUpdateAt) {
			return out[a].LatestUpdateAt.After(out[b].LatestUpdateAt)
		}
		return out[a].JobRef < out[b].JobRef
	})
	return out, err
}

func (s *Store) History(ctx context.Context, jobRef string) ([]jobs.HistoryEntry, error) {
	var out []jobs.HistoryEntry
	err := s.read(ctx, func(st *state) error {
		for _, e := range st.history {
			if e.JobRef == jobRef {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return jobs.Newer(out[a], out[b]) })
	return out, err
}

func (s *Store) Actions(ctx context.Context, jobRef string) ([]jobs.ActionRow, error) {
	var out []jobs.ActionRow
	err := s.read(ctx, func(st *state) error {
		for k, v := range st.actions {
			if k.job == jobRef {
				out = append(out, v)
			}
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].ServiceRef < out[b].ServiceRef })
	return out, err
}

// OverdueJobs lists jobs whose expected completion date is before now and
// whose status is not one of done.
func (s *Store) OverdueJobs(ctx context.Context, now time.Time, done []string) ([]jobs.Summary, error) {
	var out []jobs.Summary
	err := s.read(ctx, func(st *state) error {
		for _, j := range st.jobs {
			if j.ExpectedCompletionDate == nil || !j.ExpectedCompletionDate.Before(now) {
				continue
			}
			if containsFold(done, j.JobStatus) {
				continue
			}
			out = append(out, jobs.Summary{
				JobRef:                 j.JobRef,
				SerialNumber:           j.SerialNumber,
				CreatedAt:              j.CreatedAt,
				JobStatus:              j.JobStatus,
				ExpectedCompletionDate: j.ExpectedCompletionDate,
				CustomerContact:        j.CustomerContact,
				ServiceRef:             j.ServiceRef,
			})
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].JobRef < out[b].JobRef })
	return out, err
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
