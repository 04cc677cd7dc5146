package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

type stubUsers struct {
	n   int64
	err error
}

func (s stubUsers) CountUsers(context.Context) (int64, error) { return s.n, s.err }

type stubJobs int

func (s stubJobs) ActiveJobs() int { return int(s) }

func TestHealthz(t *testing.T) {
	router := NewRouter(stubUsers{n: 3}, stubJobs(0), zerolog.Nop())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != `{"status":"ok"}` {
		t.Fatalf("body = %s", body)
	}
}

func TestStatszReportsCounters(t *testing.T) {
	router := NewRouter(stubUsers{n: 1234}, stubJobs(7), zerolog.Nop())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statsz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Users != 1234 || resp.ActiveJobs != 7 || resp.Status != "ok" {
		t.Fatalf("unexpected stats %+v", resp)
	}
}

func TestStatszStoreFailure(t *testing.T) {
	router := NewRouter(stubUsers{err: errors.New("db locked")}, stubJobs(0), zerolog.Nop())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statsz", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
