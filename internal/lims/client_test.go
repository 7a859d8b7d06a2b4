package lims_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"autocopy/internal/lifecycle"
	"autocopy/internal/lims"
)

func newClient(t *testing.T, srv *httptest.Server, opts ...lims.Option) *lims.Client {
	t.Helper()
	opts = append([]lims.Option{lims.WithRetryBackoff(time.Millisecond, 50*time.Millisecond)}, opts...)
	return lims.NewClient(lims.Config{URL: srv.URL + "/", Token: "secret", APIVersion: "v1", Timeout: time.Second}, opts...)
}

func TestRunInfoDecodesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/run_info/200101_M1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run_name":              "200101_M1",
			"sequencing_instrument": "M1",
			"sequencer_software":    "miseq_control_software_2_6_2_1",
			"paired_end":            true,
			"read1_cycles":          151,
			"read2_cycles":          151,
			"index_read":            true,
			"sequencing_status":     "sequencing exception",
		})
	}))
	defer srv.Close()

	rec, err := newClient(t, srv).RunInfo(t.Context(), "200101_M1")
	if err != nil {
		t.Fatalf("RunInfo: %v", err)
	}
	if rec.SequencingInstrument != "M1" || !rec.PairedEnd || rec.Read2Cycles != 151 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Status() != lifecycle.OracleException {
		t.Fatalf("Status = %s", rec.Status())
	}
}

func TestRecordStatusMapping(t *testing.T) {
	var nilRecord *lims.Record
	if nilRecord.Status() != lifecycle.OracleAbsent {
		t.Fatal("nil record should be absent")
	}
	if (&lims.Record{SequencingStatus: "Sequencing Failed"}).Status() != lifecycle.OracleFailed {
		t.Fatal("expected failed status")
	}
	if (&lims.Record{SequencingStatus: ""}).Status() != lifecycle.OracleNormal {
		t.Fatal("expected normal status")
	}
}

func TestRunInfoNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).RunInfo(t.Context(), "200101_M1")
	if !errors.Is(err, lims.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one request, got %d", calls.Load())
	}
}

func TestRunInfoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"run_name":"200101_M1","sequencing_status":"sequencing failed"}`)
	}))
	defer srv.Close()

	rec, err := newClient(t, srv).RunInfo(t.Context(), "200101_M1")
	if err != nil {
		t.Fatalf("RunInfo: %v", err)
	}
	if rec.Status() != lifecycle.OracleFailed {
		t.Fatalf("expected failed status, got %s", rec.Status())
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a retry, got %d calls", calls.Load())
	}
}

func TestRunInfoUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(t, srv, lims.WithRetryBackoff(0, 0)).RunInfo(t.Context(), "200101_M1")
	if !errors.Is(err, lims.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var statusErr *lims.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
}

func TestRunInfoTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := newClient(t, srv)
	srv.Close()

	if _, err := client.RunInfo(t.Context(), "200101_M1"); !errors.Is(err, lims.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for closed server, got %v", err)
	}
}

func TestClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).RunInfo(t.Context(), "200101_M1")
	var statusErr *lims.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 status error, got %v", err)
	}
	if errors.Is(err, lims.ErrUnavailable) || calls.Load() != 1 {
		t.Fatalf("4xx should be permanent: err=%v calls=%d", err, calls.Load())
	}
}

func TestMarkFlagsSendsPatch(t *testing.T) {
	var gotMethod, gotFlags string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotFlags = body["flags"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newClient(t, srv)
	if err := client.MarkSequencingFailed(t.Context(), "200101_M1"); err != nil {
		t.Fatalf("MarkSequencingFailed: %v", err)
	}
	if gotMethod != http.MethodPatch || gotFlags != lims.FlagSequencingFailed {
		t.Fatalf("unexpected request %s %q", gotMethod, gotFlags)
	}
	if err := client.MarkAnalysisStarted(t.Context(), "200101_M1"); err != nil {
		t.Fatalf("MarkAnalysisStarted: %v", err)
	}
	if gotFlags != lims.FlagAnalysisStarted {
		t.Fatalf("unexpected flags %q", gotFlags)
	}
}

func TestMissingURLIsUnavailable(t *testing.T) {
	client := lims.NewClient(lims.Config{})
	if _, err := client.RunInfo(t.Context(), "x"); !errors.Is(err, lims.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
