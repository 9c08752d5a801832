package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3748/jobdesk-go/internal/catalog"
	"github.com/mark3748/jobdesk-go/internal/jobs"
	"github.com/mark3748/jobdesk-go/internal/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []jobs.Event
}

func (r *recorder) Publish(ctx context.Context, ev jobs.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) tick()          { c.t = c.t.Add(time.Minute) }

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*jobs.Coordinator, *memory.Store, *recorder, *clock) {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	if err := st.CreateCustomer(ctx, catalog.Customer{CustomerRef: "C-1", FirstName: "Ann", Username: "ann"}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateProduct(ctx, catalog.Product{ProductRef: "P-1", ProductName: "Pump", SKU: "PMP-1", Pcs: 1}); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	clk := &clock{t: t0}
	c := jobs.NewCoordinator(st, jobs.WithNotifier(rec), jobs.WithClock(clk.now))
	return c, st, rec, clk
}

func createJ100(t *testing.T, c *jobs.Coordinator) {
	t.Helper()
	_, err := c.CreateJob(context.Background(), jobs.CreateInput{
		JobRef:          "J-100",
		SerialNumber:    "SN-9",
		ProductRef:      "P-1",
		CustomerRef:     "C-1",
		ServiceRef:      "S-1",
		JobStatus:       "received",
		CustomerContact: "0800000000",
		Items:           []jobs.LineItem{{Quantity: 2, Unit: "pcs"}},
		Images:          []string{"https://img/a.jpg", "https://img/a.jpg", " "},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestCreateAndTransition(t *testing.T) {
	c, _, rec, clk := setup(t)
	ctx := context.Background()
	createJ100(t, c)

	clk.tick()
	e, err := c.TransitionStatus(ctx, jobs.TransitionInput{JobRef: "J-100", NewStatus: "repairing", ActorRef: "S-7"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if e.JobStatus != "repairing" || e.Quantity != 2 || e.Unit != "pcs" || e.Active != 1 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.UpdatedBy == nil || *e.UpdatedBy != "S-7" || !e.UpdatedAt.Equal(clk.t) || !e.CreatedAt.Equal(t0) {
		t.Fatalf("unexpected audit fields: %+v", e)
	}

	d, err := c.GetJobDetail(ctx, "J-100")
	if err != nil {
		t.Fatal(err)
	}
	if d.Job.JobStatus != "repairing" || d.Latest == nil || d.Latest.ID != e.ID {
		t.Fatalf("detail out of step: %+v", d)
	}
	if len(d.Images) != 1 || d.Images[0].Status != "received" {
		t.Fatalf("images: %+v", d.Images)
	}
	if d.Customer == nil || d.Customer.Username != "ann" || d.Product == nil || d.Product.SKU != "PMP-1" {
		t.Fatalf("joins: %+v %+v", d.Customer, d.Product)
	}

	hist, err := c.JobHistory(ctx, "J-100")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].ID != e.ID {
		t.Fatalf("history: %+v", hist)
	}

	acts, err := c.Actions(ctx, "J-100")
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 2 || acts[0].ServiceRef != "S-1" || acts[1].ServiceRef != "S-7" || *acts[1].JobStatus != "repairing" {
		t.Fatalf("actions: %+v", acts)
	}

	list, err := c.ListJobs(ctx, "repairing")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].LatestUpdateBy == nil || *list[0].LatestUpdateBy != "S-7" || list[0].ProductName != "Pump" {
		t.Fatalf("list: %+v", list)
	}
	if list, _ := c.ListJobs(ctx, "received"); len(list) != 0 {
		t.Fatalf("stale status still listed: %+v", list)
	}

	got := rec.types()
	if len(got) != 2 || got[0] != jobs.EventJobCreated || got[1] != jobs.EventStatusChanged {
		t.Fatalf("events: %v", got)
	}
}

func TestTransitionMissingJob(t *testing.T) {
	c, st, rec, _ := setup(t)
	ctx := context.Background()
	_, err := c.TransitionStatus(ctx, jobs.TransitionInput{JobRef: "J-404", NewStatus: "repairing", ActorRef: "S-7"})
	if !errors.Is(err, jobs.ErrNotFound) || jobs.Kind(err) != jobs.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if h, _ := st.History(ctx, "J-404"); len(h) != 0 {
		t.Fatalf("history written for missing job: %+v", h)
	}
	if a, _ := st.Actions(ctx, "J-404"); len(a) != 0 {
		t.Fatalf("ledger written for missing job: %+v", a)
	}
	if len(rec.types()) != 0 {
		t.Fatal("no event expected on failure")
	}
}

func TestTransitionSameActorUpsertsLedger(t *testing.T) {
	c, _, _, clk := setup(t)
	ctx := context.Background()
	createJ100(t, c)
	for _, s := range []string{"repairing", "waiting_parts"} {
		clk.tick()
		if _, err := c.TransitionStatus(ctx, jobs.TransitionInput{JobRef: "J-100", NewStatus: s, ActorRef: "S-7"}); err != nil {
			t.Fatal(err)
		}
	}
	acts, _ := c.Actions(ctx, "J-100")
	var mine []jobs.ActionRow
	for _, a := range acts {
		if a.ServiceRef == "S-7" {
			mine = append(mine, a)
		}
	}
	if len(mine) != 1 || *mine[0].JobStatus != "waiting_parts" || !mine[0].UpdatedAt.Equal(clk.t) {
		t.Fatalf("ledger: %+v", mine)
	}
	hist, _ := c.JobHistory(ctx, "J-100")
	if len(hist) != 3 {
		t.Fatalf("each transition appends one entry, got %d", len(hist))
	}
}

func TestRecordRemarkTouchesLatestOnly(t *testing.T) {
	c, _, _, clk := setup(t)
	ctx := context.Background()
	createJ100(t, c)
	clk.tick()
	tr, err := c.TransitionStatus(ctx, jobs.TransitionInput{JobRef: "J-100", NewStatus: "repairing", ActorRef: "S-7"})
	if err != nil {
		t.Fatal(err)
	}

	e, err := c.RecordRemark(ctx, jobs.RemarkInput{
		JobRef: "J-100", Remark: "<b>seal</b> replaced", JobStatus: "repairing",
		Images: []string{"https://img/a.jpg", "https://img/b.jpg"},
	})
	if err != nil {
		t.Fatalf("remark: %v", err)
	}
	if e.ID != tr.ID || e.Remark == nil || *e.Remark != "seal replaced" {
		t.Fatalf("remark entry: %+v", e)
	}
	hist, _ := c.JobHistory(ctx, "J-100")
	if hist[1].Remark != nil {
		t.Fatalf("older entry modified: %+v", hist[1])
	}

	d, _ := c.GetJobDetail(ctx, "J-100")
	if len(d.Images) != 2 {
		t.Fatalf("images: %+v", d.Images)
	}
	for _, im := range d.Images {
		if im.Status != "repairing" {
			t.Fatalf("image status not relabelled: %+v", im)
		}
	}
}

func TestRecordRemarkKeepsPlainText(t *testing.T) {
	c, _, _, _ := setup(t)
	ctx := context.Background()
	createJ100(t, c)
	for _, remark := range []string{"customer's fan & PSU", "temp < 80C", `said "ok"`, "a > b && c"} {
		if _, err := c.RecordRemark(ctx, jobs.RemarkInput{JobRef: "J-100", Remark: remark, JobStatus: "received"}); err != nil {
			t.Fatalf("remark %q: %v", remark, err)
		}
		d, err := c.GetJobDetail(ctx, "J-100")
		if err != nil {
			t.Fatal(err)
		}
		if d.Latest == nil || d.Latest.Remark == nil || *d.Latest.Remark != remark {
			t.Fatalf("stored remark for %q: %+v", remark, d.Latest)
		}
	}
}

func TestRecordRemarkTieBreaksByID(t *testing.T) {
	c, _, _, _ := setup(t)
	ctx := context.Background()
	_, err := c.CreateJob(ctx, jobs.CreateInput{
		JobRef: "J-200", ProductRef: "P-1", CustomerRef: "C-1", ServiceRef: "S-1", JobStatus: "received",
		Items: []jobs.LineItem{{Quantity: 1, Unit: "pcs"}, {Quantity: 3, Unit: "box"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	e, err := c.RecordRemark(ctx, jobs.RemarkInput{JobRef: "J-200", Remark: "checked", JobStatus: "received"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Unit != "box" {
		t.Fatalf("expected the later-inserted entry, got %+v", e)
	}
}

func TestRecordRemarkErrors(t *testing.T) {
	c, _, _, _ := setup(t)
	ctx := context.Background()
	_, err := c.RecordRemark(ctx, jobs.RemarkInput{JobRef: "J-404", Remark: "x", JobStatus: "received"})
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = c.RecordRemark(ctx, jobs.RemarkInput{JobRef: "J-404", Remark: "<script></script>", JobStatus: "received"})
	var ve *jobs.ValidationError
	if !errors.As(err, &ve) || ve.Fields["remark"] == "" {
		t.Fatalf("expected remark validation error, got %v", err)
	}
}

func TestCreateJobValidationAndConflict(t *testing.T) {
	c, _, rec, _ := setup(t)
	ctx := context.Background()
	_, err := c.CreateJob(ctx, jobs.CreateInput{JobRef: "J-1"})
	var ve *jobs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, f := range []string{"product_ref", "customer_ref", "service_ref", "job_status"} {
		if ve.Fields[f] != "required" {
			t.Fatalf("missing %s in %v", f, ve.Fields)
		}
	}

	createJ100(t, c)
	_, err = c.CreateJob(ctx, jobs.CreateInput{
		JobRef: "J-100", ProductRef: "P-1", CustomerRef: "C-1", ServiceRef: "S-2", JobStatus: "other",
	})
	if !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	d, _ := c.GetJobDetail(ctx, "J-100")
	if d.Job.ServiceRef != "S-1" || d.Job.JobStatus != "received" {
		t.Fatalf("original job changed: %+v", d.Job)
	}
	if acts, _ := c.Actions(ctx, "J-100"); len(acts) != 1 {
		t.Fatalf("failed create left ledger rows: %+v", acts)
	}
	if got := rec.types(); len(got) != 1 {
		t.Fatalf("events: %v", got)
	}
}

func TestCreateJobItemStatusMustMatchJob(t *testing.T) {
	c, _, rec, _ := setup(t)
	ctx := context.Background()
	_, err := c.CreateJob(ctx, jobs.CreateInput{
		JobRef: "J-7", ProductRef: "P-1", CustomerRef: "C-1", ServiceRef: "S-1", JobStatus: "received",
		Items: []jobs.LineItem{{Quantity: 1, Unit: "pcs"}, {Quantity: 1, Unit: "pcs", JobStatus: "diagnosed"}},
	})
	var ve *jobs.ValidationError
	if !errors.As(err, &ve) || ve.Fields["items[1].job_status"] == "" {
		t.Fatalf("expected item status validation error, got %v", err)
	}
	if _, err := c.GetJobDetail(ctx, "J-7"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("rejected job was stored: %v", err)
	}
	if got := rec.types(); len(got) != 0 {
		t.Fatalf("events: %v", got)
	}

	job, err := c.CreateJob(ctx, jobs.CreateInput{
		JobRef: "J-8", ProductRef: "P-1", CustomerRef: "C-1", ServiceRef: "S-1", JobStatus: "received",
		Items: []jobs.LineItem{{Quantity: 1, Unit: "pcs", JobStatus: "received"}, {Quantity: 2, Unit: "box"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := c.GetJobDetail(ctx, "J-8")
	if err != nil {
		t.Fatal(err)
	}
	if d.Latest == nil || d.Latest.JobStatus != job.JobStatus || d.Job.JobStatus != job.JobStatus {
		t.Fatalf("job status %q, latest %+v", d.Job.JobStatus, d.Latest)
	}
}

func TestDeleteJob(t *testing.T) {
	c, _, rec, _ := setup(t)
	ctx := context.Background()
	createJ100(t, c)
	if err := c.DeleteJob(ctx, "J-100"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetJobDetail(ctx, "J-100"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := c.JobHistory(ctx, "J-100"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("history should be gone, got %v", err)
	}
	if acts, _ := c.Actions(ctx, "J-100"); len(acts) != 0 {
		t.Fatalf("ledger rows left: %+v", acts)
	}
	if err := c.DeleteJob(ctx, "J-100"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if err := c.DeleteJob(ctx, "  "); jobs.Kind(err) != jobs.KindValidation {
		t.Fatalf("blank ref: %v", err)
	}
	got := rec.types()
	if got[len(got)-1] != jobs.EventJobDeleted {
		t.Fatalf("events: %v", got)
	}
}

func TestJobHistoryEmptyForNewJob(t *testing.T) {
	c, _, _, _ := setup(t)
	ctx := context.Background()
	_, err := c.CreateJob(ctx, jobs.CreateInput{JobRef: "J-300", ProductRef: "P-1", CustomerRef: "C-1", ServiceRef: "S-1", JobStatus: "received"})
	if err != nil {
		t.Fatal(err)
	}
	h, err := c.JobHistory(ctx, "J-300")
	if err != nil || h == nil || len(h) != 0 {
		t.Fatalf("expected empty history, got %v %v", h, err)
	}
	list, _ := c.ListJobs(ctx, "")
	if len(list) != 1 || !list[0].LatestUpdateAt.Equal(list[0].CreatedAt) || list[0].LatestUpdateBy != nil {
		t.Fatalf("job without history must still list: %+v", list)
	}
}

// vanishingStore reports an updated row but then cannot read it back.
type vanishingStore struct{ *memory.Store }

type vanishingTx struct{ jobs.Tx }

func (vanishingTx) UpdateJobStatus(ctx context.Context, jobRef, status string) (int64, error) {
	return 1, nil
}

func (vanishingTx) Snapshot(ctx context.Context, jobRef string) (*jobs.Snapshot, error) {
	return nil, nil
}

func (s vanishingStore) InTx(ctx context.Context, fn func(jobs.Tx) error) error {
	return s.Store.InTx(ctx, func(tx jobs.Tx) error { return fn(vanishingTx{tx}) })
}

func TestTransitionInconsistentState(t *testing.T) {
	c := jobs.NewCoordinator(vanishingStore{memory.New()})
	_, err := c.TransitionStatus(context.Background(), jobs.TransitionInput{JobRef: "J-1", NewStatus: "x", ActorRef: "S-1"})
	if !errors.Is(err, jobs.ErrInconsistentState) || jobs.Kind(err) != jobs.KindInconsistentState {
		t.Fatalf("expected inconsistent state, got %v", err)
	}
}

// stuckStore never gets a connection before the deadline.
type stuckStore struct{ *memory.Store }

func (stuckStore) InTx(ctx context.Context, fn func(jobs.Tx) error) error {
	<-ctx.Done()
	return jobs.Wrap("begin", ctx.Err())
}

func TestOperationDeadline(t *testing.T) {
	c := jobs.NewCoordinator(stuckStore{memory.New()}, jobs.WithTimeout(20*time.Millisecond))
	start := time.Now()
	_, err := c.TransitionStatus(context.Background(), jobs.TransitionInput{JobRef: "J-1", NewStatus: "x", ActorRef: "S-1"})
	if !errors.Is(err, context.DeadlineExceeded) || jobs.Kind(err) != jobs.KindStore {
		t.Fatalf("expected deadline store error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("deadline not applied")
	}
}

func TestSweepOverdue(t *testing.T) {
	c, st, _, _ := setup(t)
	ctx := context.Background()
	due := t0.Add(-24 * time.Hour)
	for ref, status := range map[string]string{"J-1": "repairing", "J-2": "Completed"} {
		_, err := c.CreateJob(ctx, jobs.CreateInput{
			JobRef: ref, ProductRef: "P-1", CustomerRef: "C-1", ServiceRef: "S-1", JobStatus: status, ExpectedCompletionDate: &due,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	rec := &recorder{}
	n, err := jobs.SweepOverdue(ctx, st, rec, t0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(rec.events) != 1 || rec.events[0].JobRef != "J-1" || rec.events[0].Type != jobs.EventJobOverdue {
		t.Fatalf("sweep: n=%d events=%+v", n, rec.events)
	}
}

func TestJ100Scenario(t *testing.T) {
	c, _, _, clk := setup(t)
	ctx := context.Background()
	_, err := c.CreateJob(ctx, jobs.CreateInput{
		JobRef: "J-100", ProductRef: "P-1", CustomerRef: "C-1", ServiceRef: "SVC-1", JobStatus: "received",
		Items: []jobs.LineItem{{Unit: "pcs", Quantity: 3}, {Unit: "box", Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	clk.tick()
	if _, err := c.TransitionStatus(ctx, jobs.TransitionInput{JobRef: "J-100", NewStatus: "repaired", ActorRef: "SVC-1"}); err != nil {
		t.Fatal(err)
	}

	d, _ := c.GetJobDetail(ctx, "J-100")
	if d.Job.JobStatus != "repaired" {
		t.Fatalf("job status %q", d.Job.JobStatus)
	}
	hist, _ := c.JobHistory(ctx, "J-100")
	if len(hist) != 3 || hist[0].JobStatus != "repaired" || *hist[0].UpdatedBy != "SVC-1" {
		t.Fatalf("history: %+v", hist)
	}
	acts, _ := c.Actions(ctx, "J-100")
	if len(acts) != 1 || acts[0].ServiceRef != "SVC-1" || *acts[0].JobStatus != "repaired" {
		t.Fatalf("ledger: %+v", acts)
	}

	if _, err := c.RecordRemark(ctx, jobs.RemarkInput{JobRef: "J-100", Remark: "fixed fan", JobStatus: "repaired", Images: []string{"http://x/1.png"}}); err != nil {
		t.Fatal(err)
	}
	d, _ = c.GetJobDetail(ctx, "J-100")
	if d.Latest == nil || d.Latest.Remark == nil || *d.Latest.Remark != "fixed fan" {
		t.Fatalf("latest: %+v", d.Latest)
	}
	if len(d.Images) != 1 || d.Images[0].URL != "http://x/1.png" || d.Images[0].Status != "repaired" {
		t.Fatalf("images: %+v", d.Images)
	}
}
