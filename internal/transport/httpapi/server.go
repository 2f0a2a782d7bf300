// Package httpapi serves the ratios service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/sirupsen/logrus"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/identity"
	"panoptes.zcraft.fr/internal/metrics"
	"panoptes.zcraft.fr/internal/persistence/prism"
	"panoptes.zcraft.fr/internal/ratios"
)

// Client-facing error messages. Internal details are only logged.
const (
	msgInvalidIdentity = "invalid player identifier"
	msgNoMatchingAreas = "no matching areas"
	msgRatiosFailed    = "unable to compute ratios"
	msgPlayersFailed   = "unable to query players"
	msgNotFound        = "not found"
	msgRateLimited     = "too many requests"
	msgUnavailable     = "database unavailable"
)

type Options struct {
	// CORS is sent as Access-Control-Allow-Origin on every response.
	CORS string
	// RateLimit is the sustained number of requests per second allowed per
	// client address; 0 disables limiting.
	RateLimit float64
	RateBurst int

	Metrics *metrics.Metrics
	Log     logrus.FieldLogger
	// Ping checks the store for /healthz. Nil reports healthy.
	Ping func(context.Context) error
	// EnablePprof mounts /debug/pprof/ for loopback clients.
	EnablePprof bool
}

type Server struct {
	svc  *ratios.Service
	opts Options
	log  logrus.FieldLogger
}

func New(svc *ratios.Service, opts Options) *Server {
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	if opts.CORS == "" {
		opts.CORS = "*"
	}
	return &Server{svc: svc, opts: opts, log: log}
}

// Handler returns the complete handler chain: compression, security and
// CORS headers, rate limiting, then routing.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	// mux skips middleware for these two, so they are wrapped here.
	r.NotFoundHandler = s.observe(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, msgNotFound)
	}))
	r.MethodNotAllowedHandler = s.observe(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/areas", s.handleAreas).Methods(http.MethodGet)
	r.HandleFunc("/players", s.handlePlayers).Methods(http.MethodGet)
	r.HandleFunc("/ratios", s.handleRatios).Methods(http.MethodGet)
	r.HandleFunc("/locales", s.handleLocales).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.opts.EnablePprof {
		p := r.PathPrefix("/debug/pprof").Subrouter()
		p.Use(loopbackOnly)
		p.HandleFunc("/cmdline", pprof.Cmdline)
		p.HandleFunc("/profile", pprof.Profile)
		p.HandleFunc("/symbol", pprof.Symbol)
		p.HandleFunc("/trace", pprof.Trace)
		p.PathPrefix("/").HandlerFunc(pprof.Index)
	}

	r.Use(s.observe)

	var h http.Handler = r
	if s.opts.RateLimit > 0 {
		h = newRateLimiter(s.opts.RateLimit, s.opts.RateBurst, s.log).Handler(h)
	}
	h = cors(s.opts.CORS, h)
	h = securityHeaders(h)
	return gzhttp.GzipHandler(h)
}

// observe logs the request and records it in the HTTP metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	if s.opts.Metrics != nil {
		next = s.opts.Metrics.InstrumentHandler(routeName, next)
	}
	return s.logRequests(next)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(apiDocs))
}

func (s *Server) handleAreas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"areas": s.svc.Areas().Map()})
}

func (s *Server) handleLocales(w http.ResponseWriter, _ *http.Request) {
	c := s.svc.Locales()
	writeJSON(w, http.StatusOK, map[string]any{
		"default": c.Default(),
		"locales": c.Codes(),
	})
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	players, cached, err := s.svc.RecentPlayers(r.Context(), q.Get("filter"), q.Has("fresh"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, msgPlayersFailed)
		return
	}
	if players == nil {
		players = []prism.Player{}
	}
	setCacheHeader(w, cached)
	writeJSON(w, http.StatusOK, players)
}

func (s *Server) handleRatios(w http.ResponseWriter, r *http.Request) {
	req, err := parseRatiosRequest(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	res, err := s.svc.Ratios(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	setCacheHeader(w, res.Cached)
	w.Header().Set("X-Cache-Key", res.Fingerprint)
	writeJSON(w, http.StatusOK, res.Ratios)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.opts.Ping(ctx); err != nil {
			s.log.WithError(err).Warn("health check failed")
			writeError(w, http.StatusServiceUnavailable, msgUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// parseRatiosRequest reads areas, players, locale and fresh from the query
// string. An absent areas parameter selects every area.
func parseRatiosRequest(r *http.Request) (ratios.Request, error) {
	q := r.URL.Query()
	players, err := identity.Parse(q.Get("players"))
	if err != nil {
		return ratios.Request{}, err
	}
	return ratios.Request{
		Areas:   area.ParseSelection(q.Get("areas"), q.Has("areas")),
		Players: players,
		Locale:  q.Get("locale"),
		Fresh:   q.Has("fresh"),
	}, nil
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var be *ratios.BackendError
	switch {
	case errors.Is(err, identity.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, msgInvalidIdentity)
	case errors.Is(err, ratios.ErrNoMatchingRegions):
		writeError(w, http.StatusBadRequest, msgNoMatchingAreas)
	case errors.As(err, &be):
		writeError(w, http.StatusInternalServerError, msgRatiosFailed)
	default:
		s.log.WithError(err).Warn("ratios request failed")
		writeError(w, http.StatusInternalServerError, msgRatiosFailed)
	}
}

func setCacheHeader(w http.ResponseWriter, cached bool) {
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// routeName is the path template of the matched route, for labels.
// Requests no route accepts are labelled "unmatched".
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
