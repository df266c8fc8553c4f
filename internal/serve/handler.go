// Package serve exposes an open index over HTTP.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tamirms/indexedfastq"
	"github.com/tamirms/indexedfastq/internal/config"
)

const fastqContentType = "text/plain; charset=utf-8"

// Fetcher is the part of *indexedfastq.Index the handlers use.
type Fetcher interface {
	Fetch(name string) (indexedfastq.Record, bool, error)
	FetchParallel(ctx context.Context, names []string, workers int) ([]indexedfastq.Record, error)
	Len() uint64
}

type handler struct {
	idx    Fetcher
	cfg    config.ServeConfig
	logger logrus.FieldLogger
}

// NewHandler returns the HTTP routes for idx. Metrics are served from
// gatherer at cfg.MetricsPath; a nil gatherer disables the route.
func NewHandler(idx Fetcher, cfg config.ServeConfig, gatherer prometheus.Gatherer, logger logrus.FieldLogger) http.Handler {
	h := &handler{idx: idx, cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /reads/{name...}", h.handleGetRead)
	mux.HandleFunc("POST /reads", h.handlePostReads)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if gatherer != nil {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves idx on cfg.Listen until ctx is done. See Serve.
func Run(ctx context.Context, cfg config.ServeConfig, idx Fetcher, gatherer prometheus.Gatherer, logger logrus.FieldLogger) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, cfg, idx, gatherer, logger)
}

// Serve answers requests on ln until ctx is done, then shuts the server
// down. It returns only after every handler has returned, so the caller may
// close idx as soon as Serve does. Handlers still running when
// cfg.ShutdownTimeout expires have their connections closed and are waited
// for; Serve then reports the timeout.
func Serve(ctx context.Context, ln net.Listener, cfg config.ServeConfig, idx Fetcher, gatherer prometheus.Gatherer, logger logrus.FieldLogger) error {
	var inflight requestGate
	routes := NewHandler(idx, cfg, gatherer, logger)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !inflight.enter() {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "shutting down"})
				return
			}
			defer inflight.leave()
			routes.ServeHTTP(w, r)
		}),
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	logger.WithField("addr", ln.Addr().String()).Info("HTTP API listening")

	select {
	case err := <-serveErr:
		// The listener failed; nothing called Shutdown.
		srv.Close()
		inflight.drain()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		logger.WithError(err).Warn("graceful shutdown incomplete, closing connections")
		srv.Close()
		err = fmt.Errorf("shutdown: %w", err)
	}
	if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		err = errors.Join(err, serr)
	}
	inflight.drain()
	logger.Info("HTTP API stopped")
	return err
}

// requestGate counts running handlers. After drain starts, enter refuses
// new ones.
type requestGate struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func (g *requestGate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.wg.Add(1)
	return true
}

func (g *requestGate) leave() {
	g.wg.Done()
}

// drain blocks until every entered handler has left.
func (g *requestGate) drain() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
}

func (h *handler) handleGetRead(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	start := time.Now()
	rec, ok, err := h.idx.Fetch(name)
	if err != nil {
		h.logger.WithError(err).WithField("name", name).Error("fetch failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return
	}
	h.logger.WithFields(logrus.Fields{
		"name":    name,
		"elapsed": time.Since(start),
	}).Debug("fetched record")

	w.Header().Set("Content-Type", fastqContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(rec.String()))
}

// handlePostReads takes newline separated names and answers with the FASTQ
// text of the ones found, in request order.
func (h *handler) handlePostReads(w http.ResponseWriter, r *http.Request) {
	var names []string
	sc := bufio.NewScanner(r.Body)
	for sc.Scan() {
		name := strings.TrimSuffix(sc.Text(), "\r")
		if name == "" {
			continue
		}
		if len(names) == h.cfg.MaxBatchNames {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
				"error": "too many names",
				"limit": h.cfg.MaxBatchNames,
			})
			return
		}
		names = append(names, name)
	}
	if err := sc.Err(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	recs, err := h.idx.FetchParallel(r.Context(), names, h.cfg.Workers)
	if err != nil {
		h.logger.WithError(err).WithField("names", len(names)).Error("batch fetch failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.logger.WithFields(logrus.Fields{
		"requested": len(names),
		"found":     len(recs),
	}).Debug("batch fetched")

	w.Header().Set("Content-Type", fastqContentType)
	w.WriteHeader(http.StatusOK)
	bw := bufio.NewWriter(w)
	for _, rec := range recs {
		bw.WriteString(rec.String())
	}
	bw.Flush()
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"records": h.idx.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
