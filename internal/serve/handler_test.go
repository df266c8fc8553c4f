package serve

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/tamirms/indexedfastq"
	"github.com/tamirms/indexedfastq/internal/bgzf"
	"github.com/tamirms/indexedfastq/internal/config"
)

const testSource = "@read1\nACGT\n+\n!!!!\n@read2\nGGTT\n+\n####\n@ns/read 3\nA\n+\n$\n"

func newTestServer(t *testing.T) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "reads.fastq.gz")
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := bgzf.Compress(f, strings.NewReader(testSource), 6); err != nil {
		t.Fatal(err)
	}
	f.Close()

	logger, _ := test.NewNullLogger()
	idxPath := src + ".fqi"
	if err := indexedfastq.Build(context.Background(), src, idxPath, indexedfastq.WithLogger(logger)); err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	idx, err := indexedfastq.Open(src, idxPath, indexedfastq.WithMetrics(indexedfastq.NewMetrics(reg)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	srv := httptest.NewServer(NewHandler(idx, config.DefaultConfig().Serve, reg, logger))
	t.Cleanup(srv.Close)
	return srv, reg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestGetRead(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := get(t, srv.URL+"/reads/read1")
	if code != http.StatusOK {
		t.Fatalf("status %d: %s", code, body)
	}
	if body != "@read1\nACGT\n+\n!!!!\n" {
		t.Errorf("unexpected body %q", body)
	}

	code, body = get(t, srv.URL+"/reads/ns/read%203")
	if code != http.StatusOK || body != "@ns/read 3\nA\n+\n$\n" {
		t.Errorf("got %d %q", code, body)
	}

	code, _ = get(t, srv.URL+"/reads/read3")
	if code != http.StatusNotFound {
		t.Errorf("expected 404 for missing read, got %d", code)
	}
}

func TestPostReads(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/reads", "text/plain", strings.NewReader("read2\r\nmissing\n\nread1\n"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	want := "@read2\nGGTT\n+\n####\n@read1\nACGT\n+\n!!!!\n"
	if string(body) != want {
		t.Errorf("got %q, want %q", body, want)
	}
}

func TestPostReadsLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	names := strings.Repeat("read1\n", config.DefaultConfig().Serve.MaxBatchNames+1)
	resp, err := http.Post(srv.URL+"/reads", "text/plain", strings.NewReader(names))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := get(t, srv.URL+"/healthz")
	if code != http.StatusOK {
		t.Fatalf("health status %d", code)
	}
	var health struct {
		OK      bool   `json:"ok"`
		Records uint64 `json:"records"`
	}
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatal(err)
	}
	if !health.OK || health.Records != 3 {
		t.Errorf("unexpected health %+v", health)
	}

	get(t, srv.URL+"/reads/read1")
	get(t, srv.URL+"/reads/nope")
	code, body = get(t, srv.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status %d", code)
	}
	for _, want := range []string{
		`indexedfastq_fetch_total{result="hit"} 1`,
		`indexedfastq_fetch_total{result="miss"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// failingIndex returns an error for every lookup.
type failingIndex struct{}

func (failingIndex) Fetch(string) (indexedfastq.Record, bool, error) {
	return indexedfastq.Record{}, false, errors.New("disk on fire")
}

func (failingIndex) FetchParallel(context.Context, []string, int) ([]indexedfastq.Record, error) {
	return nil, errors.New("disk on fire")
}

func (failingIndex) Len() uint64 { return 0 }

func TestFetchErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	srv := httptest.NewServer(NewHandler(failingIndex{}, config.DefaultConfig().Serve, nil, logger))
	defer srv.Close()

	if code, _ := get(t, srv.URL+"/reads/x"); code != http.StatusInternalServerError {
		t.Errorf("GET: expected 500, got %d", code)
	}
	resp, err := http.Post(srv.URL+"/reads", "text/plain", strings.NewReader("x\n"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("POST: expected 500, got %d", resp.StatusCode)
	}
	if len(hook.AllEntries()) != 2 {
		t.Errorf("expected 2 error logs, got %d", len(hook.AllEntries()))
	}
	if code, _ := get(t, srv.URL+"/metrics"); code != http.StatusNotFound {
		t.Errorf("metrics without gatherer: expected 404, got %d", code)
	}
}

// blockingIndex holds its single Fetch until release is closed.
type blockingIndex struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func newBlockingIndex() *blockingIndex {
	return &blockingIndex{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingIndex) Fetch(name string) (indexedfastq.Record, bool, error) {
	close(b.started)
	<-b.release
	b.finished.Store(true)
	return indexedfastq.Record{Name: name, Sequence: "A", Quality: "!"}, true, nil
}

func (b *blockingIndex) FetchParallel(context.Context, []string, int) ([]indexedfastq.Record, error) {
	return nil, nil
}

func (b *blockingIndex) Len() uint64 { return 1 }

// serveInBackground starts Serve on a loopback port and a GET for read1.
// It returns the Serve result channel and the response status channel.
func serveInBackground(t *testing.T, ctx context.Context, idx Fetcher, cfg config.ServeConfig) (<-chan error, <-chan int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	logger, _ := test.NewNullLogger()
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, cfg, idx, nil, logger)
	}()

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/reads/read1")
		if err != nil {
			status <- 0
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		status <- resp.StatusCode
	}()
	return done, status
}

func TestServeWaitsForRunningFetch(t *testing.T) {
	idx := newBlockingIndex()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done, status := serveInBackground(t, ctx, idx, config.DefaultConfig().Serve)

	<-idx.started
	cancel()
	select {
	case err := <-done:
		t.Fatalf("Serve returned (%v) while a fetch was running", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(idx.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the fetch finished")
	}
	if !idx.finished.Load() {
		t.Error("Serve returned before Fetch finished")
	}
	if code := <-status; code != http.StatusOK {
		t.Errorf("in-flight request got status %d, want 200", code)
	}
}

func TestServeShutdownTimeout(t *testing.T) {
	idx := newBlockingIndex()
	cfg := config.DefaultConfig().Serve
	cfg.ShutdownTimeout = config.Duration(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done, status := serveInBackground(t, ctx, idx, cfg)

	<-idx.started
	cancel()
	// The timeout has long passed, but the handler is still inside Fetch.
	select {
	case err := <-done:
		t.Fatalf("Serve returned (%v) while a fetch was running", err)
	case <-time.After(300 * time.Millisecond):
	}

	close(idx.release)
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Serve = %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the fetch finished")
	}
	if !idx.finished.Load() {
		t.Error("Serve returned before Fetch finished")
	}
	<-status
}

func TestServeListenerErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	cfg := config.DefaultConfig().Serve
	cfg.Listen = ln.Addr().String()
	if err := Run(context.Background(), cfg, failingIndex{}, nil, logger); err == nil {
		t.Error("Run on a port in use: expected error")
	}

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closed.Close()
	done := make(chan error, 1)
	go func() {
		done <- Serve(context.Background(), closed, cfg, failingIndex{}, nil, logger)
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Serve on a closed listener: expected error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return for a closed listener")
	}
}
