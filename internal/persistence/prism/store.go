// Package prism reads the action log written by the Prism plugin. It only
// issues read-only aggregate queries; the schema is owned by Prism.
package prism

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/identity"
)

// Config selects and tunes the backing database.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	QueryTimeout time.Duration
}

// MaterialRatio is the net quantity of one material moved by the selected
// events.
type MaterialRatio struct {
	Material string `db:"material"`
	Ratio    int64  `db:"ratio"`
}

// Player is a recently active player.
type Player struct {
	Name string    `json:"name"`
	UUID uuid.UUID `json:"uuid"`
}

type playerRow struct {
	Name       string `db:"name"`
	UUID       []byte `db:"uuid"`
	LastAction int64  `db:"last_action"`
}

// Store is a read-only client of a Prism database.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	timeout time.Duration
}

// Open connects to the database described by cfg.
func Open(cfg Config) (*Store, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("empty database dsn")
	}
	dsn := cfg.DSN
	if d == SQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	s := New(db, d)
	s.timeout = cfg.QueryTimeout
	return s, nil
}

// New wraps an already opened database.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: sqlx.NewDb(db, d.driverName()), dialect: d}
}

// sqliteDSN opens the file read-only from the connection's point of view and
// waits on locks held by the writer.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=query_only(1)"
}

// Dialect returns the SQL flavour of the store.
func (s *Store) Dialect() Dialect { return s.dialect }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Ratios sums, per material, the items inserted minus the items removed by
// the events inside any of areas, made by one of players when players is
// not empty. Rows are ordered by ratio, highest first.
func (s *Store) Ratios(ctx context.Context, areas area.Set, players identity.Set) ([]MaterialRatio, error) {
	q, args, err := ratiosQuery(s.dialect, areas, players)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []MaterialRatio
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("query ratios: %w", err)
	}
	return out, nil
}

// RecentPlayers lists at most limit players whose name contains filter,
// most recently active first. Non-player actors are excluded.
func (s *Store) RecentPlayers(ctx context.Context, filter string, limit int) ([]Player, error) {
	if limit <= 0 {
		limit = RecentPlayersLimit
	}
	q, args, err := recentPlayersQuery(filter, limit)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []playerRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	out := make([]Player, 0, len(rows))
	for _, r := range rows {
		out = append(out, Player{Name: r.Name, UUID: decodeUUID(r.UUID)})
	}
	return out, nil
}

// decodeUUID accepts the binary form Prism uses and the textual forms some
// setups store. Anything else becomes the nil UUID.
func decodeUUID(b []byte) uuid.UUID {
	if len(b) == 16 {
		id, err := uuid.FromBytes(b)
		if err == nil {
			return id
		}
	}
	id, err := uuid.ParseBytes(b)
	if err != nil {
		return uuid.Nil
	}
	return id
}
