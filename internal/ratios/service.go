package ratios

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/cache"
	"panoptes.zcraft.fr/internal/identity"
	"panoptes.zcraft.fr/internal/locale"
	"panoptes.zcraft.fr/internal/persistence/prism"
	"panoptes.zcraft.fr/internal/persistence/querylog"
)

// Default cache lifetimes: player listings change often, aggregations are
// expensive and change slowly.
const (
	DefaultRatiosTTL  = 600 * time.Second
	DefaultPlayersTTL = 60 * time.Second
)

// Config tunes the caches of a Service.
type Config struct {
	CacheSize    int
	RatiosTTL    time.Duration
	PlayersTTL   time.Duration
	CacheOptions []cache.Option
}

// Recorder observes store queries, for metrics.
type Recorder interface {
	ObserveQuery(kind string, d time.Duration, err error)
}

// Journal receives one record per store query.
type Journal interface {
	Record(querylog.Record) error
}

// Request is a canonicalized ratios query.
type Request struct {
	Areas   area.Selection
	Players identity.Set
	Locale  string
	Fresh   bool
}

// Result is a ratios answer with its cache metadata.
type Result struct {
	Ratios      Ratios
	Cached      bool
	Fingerprint string
}

// Service answers ratios and recent players queries through per-kind
// caches. Its registry and catalog are read-only.
type Service struct {
	registry *area.Registry
	catalog  *locale.Catalog
	engine   *Engine
	store    Store

	ratios     *cache.Cache[Ratios]
	players    *cache.Cache[[]prism.Player]
	ratiosTTL  time.Duration
	playersTTL time.Duration

	log      logrus.FieldLogger
	journal  Journal
	recorder Recorder
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }
func WithJournal(j Journal) Option          { return func(s *Service) { s.journal = j } }
func WithRecorder(r Recorder) Option        { return func(s *Service) { s.recorder = r } }

// NewService wires the engine and its caches.
func NewService(registry *area.Registry, catalog *locale.Catalog, store Store, cfg Config, opts ...Option) (*Service, error) {
	if cfg.RatiosTTL <= 0 {
		cfg.RatiosTTL = DefaultRatiosTTL
	}
	if cfg.PlayersTTL <= 0 {
		cfg.PlayersTTL = DefaultPlayersTTL
	}
	rc, err := cache.New[Ratios]("ratios", cfg.CacheSize, cfg.CacheOptions...)
	if err != nil {
		return nil, err
	}
	pc, err := cache.New[[]prism.Player]("players", cfg.CacheSize, cfg.CacheOptions...)
	if err != nil {
		rc.Stop()
		return nil, err
	}
	s := &Service{
		registry:   registry,
		catalog:    catalog,
		engine:     NewEngine(store),
		store:      store,
		ratios:     rc,
		players:    pc,
		ratiosTTL:  cfg.RatiosTTL,
		playersTTL: cfg.PlayersTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	return s, nil
}

// Close stops the cache janitors.
func (s *Service) Close() {
	s.ratios.Stop()
	s.players.Stop()
}

// Areas returns the area registry.
func (s *Service) Areas() *area.Registry { return s.registry }

// Locales returns the locale catalog.
func (s *Service) Locales() *locale.Catalog { return s.catalog }

// CacheStats returns the counters of each cache, by name.
func (s *Service) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		s.ratios.Name():  s.ratios.Stats(),
		s.players.Name(): s.players.Stats(),
	}
}

// Ratios answers a ratios request, from the cache when a fresh enough
// result exists for the same areas, players and locale. Fresh forces a new
// computation.
func (s *Service) Ratios(ctx context.Context, req Request) (Result, error) {
	areas := s.registry.Filter(req.Areas)
	if len(areas) == 0 {
		return Result{}, ErrNoMatchingRegions
	}
	table := s.catalog.Resolve(req.Locale)
	key := Fingerprint(areas, req.Players, table)

	compute := func(ctx context.Context) (Ratios, error) {
		start := s.now()
		r, err := s.engine.Aggregate(ctx, areas, req.Players, table)
		elapsed := s.now().Sub(start)
		s.observe(querylog.KindRatios, elapsed, err)
		rec := querylog.Record{
			Time:        start,
			Kind:        querylog.KindRatios,
			Fingerprint: key,
			Areas:       areas.IDs(),
			Players:     req.Players.Strings(),
			Locale:      table.Path(),
			Rows:        len(r.Detail),
			DurationMS:  elapsed.Milliseconds(),
			Fresh:       req.Fresh,
		}
		s.journalRecord(rec, err)
		return r, err
	}

	var (
		r      Ratios
		cached bool
		err    error
	)
	if req.Fresh {
		r, err = s.ratios.Refresh(ctx, key, s.ratiosTTL, compute)
	} else {
		r, cached, err = s.ratios.GetOrCompute(ctx, key, s.ratiosTTL, compute)
	}
	if err != nil {
		s.logFailure(err, logrus.Fields{"fingerprint": key, "areas": areas.IDs()})
		return Result{}, err
	}
	return Result{Ratios: r, Cached: cached, Fingerprint: key}, nil
}

// RecentPlayers lists the most recently active players whose name contains
// filter. The boolean reports whether the answer came from the cache.
func (s *Service) RecentPlayers(ctx context.Context, filter string, fresh bool) ([]prism.Player, bool, error) {
	key := playersKey(filter)
	compute := func(ctx context.Context) ([]prism.Player, error) {
		start := s.now()
		players, err := s.store.RecentPlayers(ctx, filter, prism.RecentPlayersLimit)
		elapsed := s.now().Sub(start)
		if err != nil {
			err = &BackendError{Op: "recent players", Err: err}
		}
		s.observe(querylog.KindPlayers, elapsed, err)
		s.journalRecord(querylog.Record{
			Time:       start,
			Kind:       querylog.KindPlayers,
			Filter:     filter,
			Rows:       len(players),
			DurationMS: elapsed.Milliseconds(),
			Fresh:      fresh,
		}, err)
		return players, err
	}

	var (
		players []prism.Player
		cached  bool
		err     error
	)
	if fresh {
		players, err = s.players.Refresh(ctx, key, s.playersTTL, compute)
	} else {
		players, cached, err = s.players.GetOrCompute(ctx, key, s.playersTTL, compute)
	}
	if err != nil {
		s.logFailure(err, logrus.Fields{"filter": filter})
		return nil, false, err
	}
	return players, cached, nil
}

func (s *Service) observe(kind string, d time.Duration, err error) {
	if s.recorder != nil {
		s.recorder.ObserveQuery(kind, d, err)
	}
}

func (s *Service) journalRecord(rec querylog.Record, err error) {
	if s.journal == nil {
		return
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := s.journal.Record(rec); jerr != nil {
		s.log.WithError(jerr).Warn("query journal write failed")
	}
}

func (s *Service) logFailure(err error, fields logrus.Fields) {
	var be *BackendError
	switch {
	case errors.As(err, &be):
		s.log.WithError(err).WithFields(fields).Error("store query failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.WithError(err).WithFields(fields).Debug("request abandoned")
	default:
		s.log.WithError(err).WithFields(fields).Warn("query rejected")
	}
}
