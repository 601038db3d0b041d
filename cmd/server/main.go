package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kevinxiao27/wavesync/internal/config"
	"github.com/kevinxiao27/wavesync/internal/logging"
	"github.com/kevinxiao27/wavesync/internal/metrics"
	"github.com/kevinxiao27/wavesync/internal/sequencer"
	"github.com/kevinxiao27/wavesync/internal/transport"
	"github.com/kevinxiao27/wavesync/internal/types"
)

type Server struct {
	logger    log.Logger
	sequencer *sequencer.Server
	ws        *transport.Handler
}

type DocumentResponse struct {
	Content string `json:"content"`
}

type SnapshotResponse struct {
	Version      types.HashedVersion `json:"version"`
	Committed    int64               `json:"committed"`
	Participants []types.Author      `json:"participants"`
	Documents    map[string]string   `json:"documents"`
}

func NewServer(logger log.Logger, seq *sequencer.Server, buffer int) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{
		logger:    logger,
		sequencer: seq,
		ws:        transport.NewHandler(logger, seq, buffer),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Warn(s.logger).Log("msg", "writing response", "err", err)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("doc")
	if docID == "" {
		docID = "main"
	}
	s.writeJSON(w, DocumentResponse{Content: s.sequencer.Snapshot().Text(docID)})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.sequencer.Snapshot()
	participants := snap.Participants.ToSlice()
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })
	s.writeJSON(w, SnapshotResponse{
		Version:      s.sequencer.Head(),
		Committed:    s.sequencer.Committed(),
		Participants: participants,
		Documents:    snap.Docs,
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if err := s.sequencer.Commit(); err != nil {
		level.Error(s.logger).Log("msg", "commit failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]int64{"committed": s.sequencer.Committed()})
}

func (s *Server) Router(withMetrics bool) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", s.ws)
	r.HandleFunc("/doc", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/commit", s.handleCommit).Methods(http.MethodPost)
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// commitLoop commits on every tick until ctx is done.
func (s *Server) commitLoop(ctx context.Context, every time.Duration) {
	if every == 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.sequencer.Commit(); err != nil {
				level.Error(s.logger).Log("msg", "commit failed", "err", err)
			}
		}
	}
}

func openStore(cfg config.StoreConfig) (sequencer.Store, error) {
	if cfg.Kind == "bolt" {
		return sequencer.OpenBolt(cfg.Path)
	}
	return sequencer.NewMemoryStore(), nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	listen := flag.String("listen", "", "listen address, overrides the config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(os.Stderr, config.Default().Log).Log("msg", "loading config", "err", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	logger := logging.New(os.Stderr, cfg.Log)

	store, err := openStore(cfg.Server.Store)
	if err != nil {
		level.Error(logger).Log("msg", "opening store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	seq, err := sequencer.New(logger, cfg.Server.Wavelet, store, metrics.NewSequencer(cfg.Server.Metrics))
	if err != nil {
		level.Error(logger).Log("msg", "restoring wavelet", "err", err)
		os.Exit(1)
	}
	server := NewServer(logger, seq, cfg.Server.SessionBuffer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go server.commitLoop(ctx, cfg.Server.CommitInterval)

	httpServer := &http.Server{Addr: cfg.Server.Listen, Handler: server.Router(cfg.Server.Metrics)}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdown)
		level.Info(logger).Log("msg", "dropped sessions", "count", server.ws.Drop())
	}()

	level.Info(logger).Log("msg", "server starting", "listen", cfg.Server.Listen, "wavelet", cfg.Server.Wavelet, "store", cfg.Server.Store.Kind)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		level.Error(logger).Log("msg", "serving", "err", err)
		os.Exit(1)
	}
	if err := seq.Commit(); err != nil {
		level.Error(logger).Log("msg", "final commit", "err", err)
	}
}
