// Package prismtest builds throwaway SQLite databases with the Prism schema
// for tests.
package prismtest

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/identity"
)

var schema = []string{
	`CREATE TABLE prism_actions (
		action_id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE prism_players (
		player_id INTEGER PRIMARY KEY AUTOINCREMENT,
		player TEXT NOT NULL UNIQUE,
		player_uuid BLOB NOT NULL UNIQUE
	);`,
	`CREATE TABLE prism_worlds (
		world_id INTEGER PRIMARY KEY AUTOINCREMENT,
		world TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE prism_id_map (
		material TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		block_id INTEGER PRIMARY KEY AUTOINCREMENT,
		block_subid INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE prism_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		epoch INTEGER NOT NULL,
		action_id INTEGER NOT NULL,
		player_id INTEGER NOT NULL,
		world_id INTEGER NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		z INTEGER NOT NULL,
		block_id INTEGER NOT NULL DEFAULT 0,
		block_subid INTEGER NOT NULL DEFAULT 0,
		old_block_id INTEGER NOT NULL DEFAULT 0,
		old_block_subid INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE prism_data_extra (
		extra_id INTEGER PRIMARY KEY AUTOINCREMENT,
		data_id INTEGER NOT NULL,
		data TEXT,
		te_data TEXT
	);`,
}

// Event is one row of the action log.
type Event struct {
	Player   string
	UUID     uuid.UUID
	World    string
	X, Y, Z  int64
	Material string
	Action   string
	Amount   int64
	Epoch    int64
}

// DB is a Prism database stored in a temporary file.
type DB struct {
	*sql.DB
	Path string

	t         testing.TB
	events    []Event
	dropped   map[string]bool
	actions   map[string]int64
	players   map[string]int64
	worlds    map[string]int64
	materials map[string]int64
}

// New creates an empty Prism database. It is closed when the test ends.
func New(t testing.TB) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prism.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open prism fixture: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("prism schema: %v", err)
		}
	}
	return &DB{
		DB:        db,
		Path:      path,
		t:         t,
		dropped:   map[string]bool{},
		actions:   map[string]int64{},
		players:   map[string]int64{},
		worlds:    map[string]int64{},
		materials: map[string]int64{},
	}
}

// Player registers a player without any event.
func (f *DB) Player(name string, id uuid.UUID) {
	f.t.Helper()
	f.lookup(f.players, name, `INSERT INTO prism_players (player, player_uuid) VALUES (?, ?)`, name, id[:])
}

// Insert appends one event, creating the lookup rows it references.
func (f *DB) Insert(e Event) {
	f.t.Helper()
	actionID := f.lookup(f.actions, e.Action, `INSERT INTO prism_actions (action) VALUES (?)`, e.Action)
	playerID := f.lookup(f.players, e.Player, `INSERT INTO prism_players (player, player_uuid) VALUES (?, ?)`, e.Player, e.UUID[:])
	worldID := f.lookup(f.worlds, e.World, `INSERT INTO prism_worlds (world) VALUES (?)`, e.World)
	blockID := f.lookup(f.materials, e.Material, `INSERT INTO prism_id_map (material) VALUES (?)`, e.Material)

	res, err := f.Exec(`INSERT INTO prism_data (epoch, action_id, player_id, world_id, x, y, z, block_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Epoch, actionID, playerID, worldID, e.X, e.Y, e.Z, blockID)
	if err != nil {
		f.t.Fatalf("insert prism_data: %v", err)
	}
	dataID, err := res.LastInsertId()
	if err != nil {
		f.t.Fatalf("prism_data id: %v", err)
	}
	if _, err := f.Exec(`INSERT INTO prism_data_extra (data_id, data) VALUES (?, ?)`,
		dataID, fmt.Sprintf(`{"amt":%d}`, e.Amount)); err != nil {
		f.t.Fatalf("insert prism_data_extra: %v", err)
	}
	f.events = append(f.events, e)
}

// DropPlayer deletes the prism_players row of name, leaving its events
// pointing to a missing player, as Prism does after a purge.
func (f *DB) DropPlayer(name string) {
	f.t.Helper()
	if _, err := f.Exec(`DELETE FROM prism_players WHERE player = ?`, name); err != nil {
		f.t.Fatalf("drop player %q: %v", name, err)
	}
	delete(f.players, name)
	f.dropped[name] = true
}

// Net computes, without SQL, the net amount per material of the inserted
// events located in one of areas and, when players is not empty, made by
// one of them. Events of dropped players only count without a player
// filter, since their identity is gone.
func (f *DB) Net(areas area.Set, players identity.Set) map[string]int64 {
	out := map[string]int64{}
	for _, e := range f.events {
		var sign int64
		switch e.Action {
		case "item-insert":
			sign = 1
		case "item-remove":
			sign = -1
		default:
			continue
		}
		if !inAny(areas, e) {
			continue
		}
		if len(players) > 0 && (f.dropped[e.Player] || !hasPlayer(players, e.UUID)) {
			continue
		}
		out[e.Material] += sign * e.Amount
	}
	return out
}

func inAny(areas area.Set, e Event) bool {
	for _, a := range areas {
		if a.Contains(e.World, area.Vec3{e.X, e.Y, e.Z}) {
			return true
		}
	}
	return false
}

func hasPlayer(players identity.Set, id uuid.UUID) bool {
	for _, p := range players {
		if p == id {
			return true
		}
	}
	return false
}

func (f *DB) lookup(ids map[string]int64, key, stmt string, args ...any) int64 {
	f.t.Helper()
	if id, ok := ids[key]; ok {
		return id
	}
	res, err := f.Exec(stmt, args...)
	if err != nil {
		f.t.Fatalf("prism fixture %q: %v", key, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		f.t.Fatalf("prism fixture %q id: %v", key, err)
	}
	ids[key] = id
	return id
}
