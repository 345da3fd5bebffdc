/*
NAME
  server.go

DESCRIPTION
  server.go is a thin HTTP VOD delivery and spec-ingest front end: it
  holds no DVE scheduling logic of its own, calling dve.RunSpec and hls
  as a library for every request that needs rendered frames. Grounded on
  the pack's chi router, httprate limiting, and prometheus metrics.
*/

// Package server exposes vidformer's engine over HTTP: HLS
// playlist/segment delivery for a previously ingested spec, and a
// spec/source ingest API. It is an external collaborator of the DVE
// core, not part of it.
package server

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ixlab/vidformer/catalog"
	"github.com/ixlab/vidformer/config"
	"github.com/ixlab/vidformer/dve"
	"github.com/ixlab/vidformer/hls"
	logpkg "github.com/ixlab/vidformer/log"
	"github.com/ixlab/vidformer/source"
	"github.com/ixlab/vidformer/spec"
	"github.com/ixlab/vidformer/vferr"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidformer_http_requests_total",
		Help: "Total HTTP requests handled by the VOD server, by route and outcome.",
	}, []string{"route", "status"})

	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidformer_segment_render_duration_seconds",
		Help:    "Duration of one on-demand segment render via dve.RunSpec.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 12),
	})
)

// SegmentLength is the fixed HLS segment duration this server plans
// against.
var SegmentLength = big.NewRat(6, 1)

// Server is the VOD/ingest HTTP front end. It holds no engine state of
// its own: every request either reads the Catalog or drives one
// dve.RunSpec call into a scratch directory.
type Server struct {
	Catalog   *catalog.Catalog
	Queue     *catalog.IngestQueue
	DVE       *dve.Context
	ScratchDir string
	Logger    logpkg.Logger
}

// New builds a Server. A nil logger defaults to stderr at Info level.
func New(cat *catalog.Catalog, queue *catalog.IngestQueue, dveCtx *dve.Context, scratchDir string, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.New(logpkg.Info, nil)
	}
	return &Server{Catalog: cat, Queue: queue, DVE: dveCtx, ScratchDir: scratchDir, Logger: logger}
}

// Router builds the chi router for the server: an unauthenticated root
// banner, Prometheus metrics, VOD delivery, and the ingest API, all
// behind a sliding-window IP rate limiter.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/", s.handleRoot)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/vod/{specID}/playlist.m3u8", s.handlePlaylist)
	r.Get("/vod/{specID}/segment-{n}.ts", s.handleSegment)

	r.Get("/v2/source/{id}", s.handleGetSource)
	r.Post("/v2/source", s.handlePushSource)
	r.Get("/v2/spec/{id}", s.handleGetSpec)
	r.Post("/v2/spec", s.handlePushSpec)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	requestsTotal.WithLabelValues("root", "200").Inc()
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write([]byte("vidformer\n"))
}

func writeError(w http.ResponseWriter, route string, err error) {
	status := http.StatusInternalServerError
	if ve, ok := err.(*vferr.Error); ok {
		switch ve.Kind {
		case vferr.SourceNotFound:
			status = http.StatusNotFound
		case vferr.ConfigError, vferr.InvalidOutputFrameType, vferr.MissingFilterArg, vferr.InvalidFilterArgType, vferr.InvalidFilterArgValue:
			status = http.StatusBadRequest
		}
	}
	requestsTotal.WithLabelValues(route, http.StatusText(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// loadSpec resolves a catalog spec ID to a parsed spec.JSONSpec.
func (s *Server) loadSpec(specID string) (*spec.JSONSpec, error) {
	sd, err := s.Catalog.GetSpec(specID)
	if err != nil {
		return nil, err
	}
	sp, err := spec.NewJSONSpec(sd.Doc)
	if err != nil {
		return nil, vferr.Wrap(vferr.Unknown, err, "parse spec %q", specID)
	}
	return sp, nil
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	specID := chi.URLParam(r, "specID")
	sp, err := s.loadSpec(specID)
	if err != nil {
		writeError(w, "playlist", err)
		return
	}

	plan, err := hls.NewPlan(sp.Domain(), SegmentLength, true)
	if err != nil {
		writeError(w, "playlist", err)
		return
	}

	body := plan.M3U8(func(i int64) string {
		return "segment-" + strconv.FormatInt(i, 10) + ".ts"
	})
	requestsTotal.WithLabelValues("playlist", "200").Inc()
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	specID := chi.URLParam(r, "specID")
	nStr := chi.URLParam(r, "n")

	n, err := strconv.ParseInt(nStr, 10, 64)
	if err != nil {
		writeError(w, "segment", vferr.New(vferr.ConfigError, "invalid segment number %q", nStr))
		return
	}

	sp, err := s.loadSpec(specID)
	if err != nil {
		writeError(w, "segment", err)
		return
	}

	domain := sp.Domain()
	fps, err := hls.FrameRate(domain)
	if err != nil {
		writeError(w, "segment", err)
		return
	}
	nFrames := int64(len(domain))
	nSeg := hls.NumSegments(nFrames, SegmentLength, fps, true)
	if n < 0 || n >= nSeg {
		writeError(w, "segment", vferr.New(vferr.ConfigError, "segment %d out of range [0, %d)", n, nSeg))
		return
	}
	seg := hls.SegmentRange(n, nFrames, SegmentLength, fps)

	cfg := config.Config{
		DecodePoolSize: 16,
		DecoderView:    8,
		Decoders:       4,
		Filterers:      4,
		OutputWidth:    0, // filled in below once we know the output type
		OutputHeight:   0,
		OutputPixFmt:   "rgb24",
		Range: &config.Range{
			Start:    toRatPair(domain[seg.Start]),
			End:      toRatPair(domain[seg.End]),
			TsFormat: config.SegmentLocal,
		},
	}

	// RunSpec itself re-validates every generation's type against
	// Config; here we only need the first generation's type once, up
	// front, to size the output correctly.
	fe, err := sp.Render(domain[0])
	if err != nil {
		writeError(w, "segment", vferr.Wrap(vferr.Unknown, err, "render spec %q at its first timestamp", specID))
		return
	}
	ft, err := dve.OutputFrameType(s.DVE, fe)
	if err != nil {
		writeError(w, "segment", err)
		return
	}
	cfg.OutputWidth, cfg.OutputHeight, cfg.OutputPixFmt = ft.Width, ft.Height, ft.PixFmt

	outPath, err := os.CreateTemp(s.ScratchDir, "segment-*.ts")
	if err != nil {
		writeError(w, "segment", vferr.Wrap(vferr.IOError, err, "create scratch segment file"))
		return
	}
	outPath.Close()
	defer os.Remove(outPath.Name())

	start := time.Now()
	_, err = dve.RunSpec(s.DVE, sp, cfg, outPath.Name())
	renderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, "segment", err)
		return
	}

	f, err := os.Open(outPath.Name())
	if err != nil {
		writeError(w, "segment", vferr.Wrap(vferr.IOError, err, "open rendered segment"))
		return
	}
	defer f.Close()

	requestsTotal.WithLabelValues("segment", "200").Inc()
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = io.Copy(w, f)
}

func toRatPair(r *big.Rat) [2]int64 {
	return [2]int64{r.Num().Int64(), r.Denom().Int64()}
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.Catalog.GetSource(id)
	if err != nil {
		writeError(w, "get_source", err)
		return
	}
	requestsTotal.WithLabelValues("get_source", "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

func (s *Server) handlePushSource(w http.ResponseWriter, r *http.Request) {
	var p source.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, "push_source", vferr.Wrap(vferr.ConfigError, err, "decode source profile body"))
		return
	}
	if err := s.Catalog.PutSource(&p); err != nil {
		writeError(w, "push_source", err)
		return
	}
	requestsTotal.WithLabelValues("push_source", "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"name": p.Name})
}

func (s *Server) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sd, err := s.Catalog.GetSpec(id)
	if err != nil {
		writeError(w, "get_spec", err)
		return
	}
	requestsTotal.WithLabelValues("get_spec", "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sd)
}

func (s *Server) handlePushSpec(w http.ResponseWriter, r *http.Request) {
	var doc json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, "push_spec", vferr.Wrap(vferr.ConfigError, err, "decode spec body"))
		return
	}
	if _, err := spec.NewJSONSpec(doc); err != nil {
		writeError(w, "push_spec", vferr.Wrap(vferr.ConfigError, err, "spec body failed validation"))
		return
	}
	id, err := s.Catalog.PutSpec(doc)
	if err != nil {
		writeError(w, "push_spec", err)
		return
	}
	if s.Queue != nil {
		if err := s.Queue.Push(r.Context(), id); err != nil {
			s.Logger.Warning("failed to enqueue spec for ingest", "spec_id", id, "error", err)
		}
	}
	requestsTotal.WithLabelValues("push_spec", "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}
