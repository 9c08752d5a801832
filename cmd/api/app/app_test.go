package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mark3748/jobdesk-go/internal/jobs"
)

func init() { gin.SetMode(gin.TestMode) }

// Test that the RequestID middleware sets a header and context value.
func TestRequestID(t *testing.T) {
	a := NewApp(Config{Env: "test"}, nil, nil, nil, nil)
	a.R.GET("/ping", func(c *gin.Context) {
		id, _ := c.Get("request_id")
		if id == "" {
			t.Errorf("missing request_id in context")
		}
		c.JSON(200, gin.H{"ok": true})
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	const given = "0f8fad5b-d9cb-469f-a165-70867728950e"
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", given)
	a.R.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") != given {
		t.Fatalf("caller request id not kept: %q", rr.Header().Get("X-Request-ID"))
	}
}

// Test that the rate limiter blocks excessive requests.
func TestRateLimit(t *testing.T) {
	a := NewApp(Config{Env: "test", RateLimitRPS: 1, RateLimitBurst: 1}, nil, nil, nil, nil)
	a.R.GET("/", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || env.Error == nil || env.Error.Code != "rate_limited" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

// Test that the rate limiter is disabled when no configuration is provided.
func TestRateLimitDisabledByDefault(t *testing.T) {
	a := NewApp(Config{Env: "test"}, nil, nil, nil, nil)
	a.R.GET("/", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
}

func TestRenderError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{jobs.ErrNotFound, http.StatusNotFound, "not_found"},
		{&jobs.ValidationError{Fields: map[string]string{"job_ref": "required"}}, http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("jobs_pkey: %w", jobs.ErrConflict), http.StatusConflict, "conflict"},
		{jobs.ErrInconsistentState, http.StatusInternalServerError, "inconsistent_state"},
		{jobs.Wrap("begin", errors.New("pool closed")), http.StatusInternalServerError, "store_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		a := NewApp(Config{Env: "test"}, nil, nil, nil, nil)
		a.R.GET("/", func(c *gin.Context) { RenderError(c, tc.err) })
		rr := httptest.NewRecorder()
		a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != tc.status {
			t.Fatalf("%v: status %d, want %d", tc.err, rr.Code, tc.status)
		}
		var env Envelope
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || env.Error == nil {
			t.Fatalf("%v: body %s", tc.err, rr.Body.String())
		}
		if env.Error.Code != tc.code {
			t.Fatalf("%v: code %q, want %q", tc.err, env.Error.Code, tc.code)
		}
		if strings.Contains(rr.Body.String(), "pool closed") {
			t.Fatal("store cause leaked to client")
		}
	}
}

func TestBindJSONFieldNames(t *testing.T) {
	type body struct {
		JobRef string `json:"job_ref" binding:"required"`
	}
	a := NewApp(Config{Env: "test"}, nil, nil, nil, nil)
	a.R.POST("/", func(c *gin.Context) {
		var b body
		if !BindJSON(c, &b) {
			return
		}
		c.Status(http.StatusNoContent)
	})
	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var env Envelope
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	if env.Error == nil || env.Error.FieldErrors["job_ref"] != "required" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed json: expected 400, got %d", rr.Code)
	}
}

func TestGetConfig(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_MAX_CONNS", "4")
	t.Setenv("TX_TIMEOUT", "3s")
	t.Setenv("TOKEN_TTL", "nonsense")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	cfg := GetConfig()
	if cfg.DBDriver != "mysql" || cfg.DBMaxConns != 4 || cfg.TxTimeout != 3*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.TokenTTL != 12*time.Hour {
		t.Fatalf("bad duration should fall back to default, got %v", cfg.TokenTTL)
	}
	if cfg.RateLimitRPS != 2.5 || cfg.OverdueInterval != 15*time.Minute {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
