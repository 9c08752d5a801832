package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	app "github.com/mark3748/jobdesk-go/cmd/api/app"
	authpkg "github.com/mark3748/jobdesk-go/cmd/api/auth"
	"github.com/mark3748/jobdesk-go/cmd/api/ws"
	"github.com/mark3748/jobdesk-go/internal/catalog"
	"github.com/mark3748/jobdesk-go/internal/jobs"
	"github.com/mark3748/jobdesk-go/internal/ratelimit"
	"github.com/mark3748/jobdesk-go/internal/store/memory"
)

const secret = "main-test-secret"

type server struct {
	a   *app.App
	cat *catalog.Service
}

func newServer(t *testing.T, loginLimit int) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	st := memory.New()
	ctx := context.Background()
	if err := st.CreateCustomer(ctx, catalog.Customer{CustomerRef: "C-1", FirstName: "Ann", Username: "ann"}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateProduct(ctx, catalog.Product{ProductRef: "P-1", ProductName: "Pump", Pcs: 1}); err != nil {
		t.Fatal(err)
	}
	cfg := app.Config{Env: "test", AuthLocalSecret: secret, TokenTTL: time.Hour}
	cat := catalog.NewService(st, 0)
	a := app.NewApp(cfg, jobs.NewCoordinator(st), cat, authpkg.Keyfunc(secret, nil), rdb)
	routes(a, ws.NewHub(nil), ratelimit.New(rdb, loginLimit, time.Minute, "login:"))
	return &server{a: a, cat: cat}
}

func (s *server) do(method, url, body, token string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	s.a.R.ServeHTTP(rr, req)
	return rr
}

func (s *server) token(t *testing.T, ref, role string) string {
	t.Helper()
	tok, _, err := authpkg.IssueToken(secret, "", catalog.ServiceAccount{ServiceRef: ref, Role: role}, time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestHealthz(t *testing.T) {
	s := newServer(t, 10)
	if rr := s.do(http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	s.a.Ping = func(context.Context) error { return errors.New("down") }
	rr := s.do(http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusServiceUnavailable || strings.Contains(rr.Body.String(), "down") {
		t.Fatalf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	s := newServer(t, 10)
	if rr := s.do(http.MethodGet, "/metrics", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	s := newServer(t, 10)
	for _, url := range []string{"/jobs", "/jobs/J-1", "/customers", "/products", "/categories", "/me"} {
		if rr := s.do(http.MethodGet, url, "", ""); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", url, rr.Code)
		}
	}
}

func TestTransitionRecordsAuthenticatedActor(t *testing.T) {
	s := newServer(t, 10)
	tech := s.token(t, "SVC-7", "technician")
	body := `{"job_ref":"J-1","product_ref":"P-1","customer_ref":"C-1","job_status":"received","items":[{"quantity":1,"unit":"pcs"}]}`
	if rr := s.do(http.MethodPost, "/jobs", body, tech); rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	rr := s.do(http.MethodPut, "/jobs/J-1/status", `{"job_status":"repaired","actor_ref":"SOMEONE-ELSE"}`, tech)
	if rr.Code != http.StatusOK {
		t.Fatalf("transition: %d %s", rr.Code, rr.Body.String())
	}
	var e jobs.HistoryEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil || e.UpdatedBy == nil || *e.UpdatedBy != "SVC-7" {
		t.Fatalf("actor should come from the token: %s", rr.Body.String())
	}
	if rr := s.do(http.MethodDelete, "/jobs/J-1", "", tech); rr.Code != http.StatusForbidden {
		t.Fatalf("technician delete: expected 403, got %d", rr.Code)
	}
	if rr := s.do(http.MethodDelete, "/jobs/J-1", "", s.token(t, "M-1", "manager")); rr.Code != http.StatusNoContent {
		t.Fatalf("manager delete: expected 204, got %d", rr.Code)
	}
}

func TestRegisterIsAdminOnly(t *testing.T) {
	s := newServer(t, 10)
	body := `{"service_ref":"SVC-1","email":"tech@example.com","password":"correct-horse","role":"technician"}`
	if rr := s.do(http.MethodPost, "/auth/register", body, s.token(t, "SVC-2", "technician")); rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin register: expected 403, got %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/auth/register", body, s.token(t, "admin", "admin")); rr.Code != http.StatusCreated {
		t.Fatalf("admin register: %d %s", rr.Code, rr.Body.String())
	}
}

func TestLoginRateLimited(t *testing.T) {
	s := newServer(t, 2)
	if err := seedAdmin(context.Background(), s.cat, "admin-password"); err != nil {
		t.Fatal(err)
	}
	if err := seedAdmin(context.Background(), s.cat, "admin-password"); err != nil {
		t.Fatalf("second seed should be a no-op: %v", err)
	}
	if rr := s.do(http.MethodPost, "/auth/login", `{"identifier":"admin","password":"admin-password"}`, ""); rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	if rr := s.do(http.MethodPost, "/auth/login", `{"identifier":"admin","password":"wrong"}`, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/auth/login", `{"identifier":"admin","password":"admin-password"}`, ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third login: expected 429, got %d", rr.Code)
	}
}
