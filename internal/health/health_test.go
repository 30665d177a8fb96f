package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func getReadyz(t *testing.T, h *Handler) (*httptest.ResponseRecorder, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode readyz body: %v", err)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	New().Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want ok", body.Status)
	}
}

func TestReadyz_AllPass(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "database", Check: func(context.Context) error { return nil }},
		Checker{Name: "sheets", Check: func(context.Context) error { return nil }},
	)
	rec, body := getReadyz(t, h)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body.Status != "ok" || body.Checks["database"] != "ok" || body.Checks["sheets"] != "ok" {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz_OneFailureFlipsStatus(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "database", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "sheets", Check: func(context.Context) error { return nil }},
	)
	rec, body := getReadyz(t, h)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body.Status != "fail" {
		t.Errorf("status field = %q, want fail", body.Status)
	}
	if body.Checks["database"] != "fail: connection refused" {
		t.Errorf("database check = %q", body.Checks["database"])
	}
	if body.Checks["sheets"] != "ok" {
		t.Errorf("sheets check = %q", body.Checks["sheets"])
	}
}

func TestReadyz_NoCheckersIsReady(t *testing.T) {
	t.Parallel()

	rec, body := getReadyz(t, New())
	if rec.Code != http.StatusOK || body.Status != "ok" {
		t.Errorf("status = %d body = %+v", rec.Code, body)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each check blocks until both have started; sequential execution would
	// deadlock until the per-check timeout.
	gate := make(chan struct{}, 2)
	block := func(context.Context) error {
		gate <- struct{}{}
		for len(gate) < 2 {
			time.Sleep(time.Millisecond)
		}
		return nil
	}
	h := New(
		Checker{Name: "a", Check: block},
		Checker{Name: "b", Check: block},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		getReadyz(t, h)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checks did not run concurrently")
	}
}

func TestRegister_Routes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: func(context.Context) error { return nil }}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestReadyz_CancelledRequestFails(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
