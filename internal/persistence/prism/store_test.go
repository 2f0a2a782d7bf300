package prism

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/identity"
	"panoptes.zcraft.fr/internal/persistence/prism/prismtest"
)

var (
	alice = uuid.MustParse("e4953e0c-eaff-4aaf-a597-d2a7794b1684")
	bob   = uuid.MustParse("6979bcf4-a0da-46fc-89ed-24c40d3b0ab0")
)

func openFixtureStore(t *testing.T, f *prismtest.DB) *Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", DSN: f.Path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedBank(f *prismtest.DB) {
	ev := func(who uuid.UUID, name, world string, x, y, z int64, mat, action string, amt int64) {
		f.Insert(prismtest.Event{Player: name, UUID: who, World: world, X: x, Y: y, Z: z, Material: mat, Action: action, Amount: amt, Epoch: 1000})
	}
	ev(alice, "alice", "world", 5, 5, 5, "dirt", ActionInsert, 5)
	ev(alice, "alice", "world", 10, 10, 10, "dirt", ActionRemove, 2)
	ev(alice, "alice", "world", 0, 0, 0, "minecraft:diamond", ActionInsert, 3)
	ev(bob, "bob", "world", 1, 1, 1, "dirt", ActionInsert, 64)
	ev(bob, "bob", "world", 1, 1, 1, "stone", ActionRemove, 10)
	// Outside the box, in another world, or not an item transfer.
	ev(alice, "alice", "world", 11, 5, 5, "dirt", ActionInsert, 1000)
	ev(alice, "alice", "world_nether", 5, 5, 5, "dirt", ActionInsert, 1000)
	ev(alice, "alice", "world", 5, 5, 5, "dirt", "block-break", 1000)
}

func TestStore_RatiosAllPlayers(t *testing.T) {
	f := prismtest.New(t)
	seedBank(f)
	s := openFixtureStore(t, f)

	bank := area.Set{area.New("bank", "Bank", "world", area.Vec3{10, 10, 10}, area.Vec3{0, 0, 0})}
	got, err := s.Ratios(context.Background(), bank, nil)
	if err != nil {
		t.Fatalf("Ratios: %v", err)
	}
	want := []MaterialRatio{{"dirt", 67}, {"minecraft:diamond", 3}, {"stone", -10}}
	if len(got) != len(want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestStore_RatiosFilteredByPlayer(t *testing.T) {
	f := prismtest.New(t)
	seedBank(f)
	s := openFixtureStore(t, f)

	bank := area.Set{area.New("bank", "Bank", "world", area.Vec3{0, 0, 0}, area.Vec3{10, 10, 10})}
	got, err := s.Ratios(context.Background(), bank, identity.Set{alice})
	if err != nil {
		t.Fatalf("Ratios: %v", err)
	}
	if len(got) != 2 || got[0] != (MaterialRatio{"dirt", 3}) || got[1] != (MaterialRatio{"minecraft:diamond", 3}) {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestStore_RatiosUnionOfAreas(t *testing.T) {
	f := prismtest.New(t)
	seedBank(f)
	s := openFixtureStore(t, f)

	areas := area.Set{
		area.New("east", "East", "world", area.Vec3{11, 0, 0}, area.Vec3{20, 10, 10}),
		area.New("hell", "Hell", "world_nether", area.Vec3{0, 0, 0}, area.Vec3{10, 10, 10}),
	}
	got, err := s.Ratios(context.Background(), areas, identity.Set{alice})
	if err != nil {
		t.Fatalf("Ratios: %v", err)
	}
	if len(got) != 1 || got[0] != (MaterialRatio{"dirt", 2000}) {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func ratioMap(rows []MaterialRatio) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Material] = r.Ratio
	}
	return out
}

func sameNet(got, want map[string]int64) bool {
	if len(got) != len(want) {
		return false
	}
	for k, v := range want {
		if g, ok := got[k]; !ok || g != v {
			return false
		}
	}
	return true
}

func TestStore_RatiosMatchInMemoryFilter(t *testing.T) {
	f := prismtest.New(t)
	seedBank(f)
	s := openFixtureStore(t, f)

	selections := []area.Set{
		{area.New("bank", "Bank", "world", area.Vec3{0, 0, 0}, area.Vec3{10, 10, 10})},
		{area.New("corner", "Corner", "world", area.Vec3{10, 10, 10}, area.Vec3{11, 11, 11})},
		{area.New("slab", "Slab", "world", area.Vec3{0, 5, 0}, area.Vec3{20, 5, 20})},
		{
			area.New("east", "East", "world", area.Vec3{11, 0, 0}, area.Vec3{20, 10, 10}),
			area.New("hell", "Hell", "world_nether", area.Vec3{0, 0, 0}, area.Vec3{10, 10, 10}),
		},
	}
	for _, areas := range selections {
		for _, players := range []identity.Set{nil, {alice}, {bob}, {alice, bob}} {
			rows, err := s.Ratios(context.Background(), areas, players)
			if err != nil {
				t.Fatalf("Ratios(%v, %v): %v", areas.IDs(), players, err)
			}
			if got, want := ratioMap(rows), f.Net(areas, players); !sameNet(got, want) {
				t.Fatalf("Ratios(%v, %v) = %v, want %v", areas.IDs(), players, got, want)
			}
		}
	}
}

func TestStore_RatiosKeepEventsOfDroppedPlayers(t *testing.T) {
	f := prismtest.New(t)
	seedBank(f)
	f.DropPlayer("bob")
	s := openFixtureStore(t, f)

	bank := area.Set{area.New("bank", "Bank", "world", area.Vec3{0, 0, 0}, area.Vec3{10, 10, 10})}
	rows, err := s.Ratios(context.Background(), bank, nil)
	if err != nil {
		t.Fatalf("Ratios: %v", err)
	}
	if got := ratioMap(rows); got["dirt"] != 67 || got["stone"] != -10 {
		t.Fatalf("events without a player row were dropped: %v", got)
	}
	rows, err = s.Ratios(context.Background(), bank, identity.Set{bob})
	if err != nil {
		t.Fatalf("Ratios: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("dropped player still matched: %+v", rows)
	}
	rows, err = s.Ratios(context.Background(), bank, identity.Set{alice})
	if err != nil {
		t.Fatalf("Ratios: %v", err)
	}
	if !sameNet(ratioMap(rows), f.Net(bank, identity.Set{alice})) {
		t.Fatalf("alice rows: %+v", rows)
	}
}

func TestStore_RatiosRejectsEmptyAreaSet(t *testing.T) {
	f := prismtest.New(t)
	s := openFixtureStore(t, f)
	if _, err := s.Ratios(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for empty area set")
	}
}

func TestStore_RecentPlayers(t *testing.T) {
	f := prismtest.New(t)
	f.Insert(prismtest.Event{Player: "alice", UUID: alice, World: "world", Material: "dirt", Action: ActionInsert, Amount: 1, Epoch: 100})
	f.Insert(prismtest.Event{Player: "bob", UUID: bob, World: "world", Material: "dirt", Action: ActionInsert, Amount: 1, Epoch: 200})
	f.Insert(prismtest.Event{Player: "creeper", UUID: uuid.New(), World: "world", Material: "dirt", Action: "block-break", Epoch: 300})
	f.Player("minecraft:tnt", uuid.New())
	f.Player("some one", uuid.New())
	f.Player("al_x", uuid.New())
	s := openFixtureStore(t, f)

	got, err := s.RecentPlayers(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("RecentPlayers: %v", err)
	}
	names := make([]string, 0, len(got))
	for _, p := range got {
		names = append(names, p.Name)
	}
	if strings.Join(names, ",") != "bob,alice,al_x" {
		t.Fatalf("names: %v", names)
	}
	if got[0].UUID != bob {
		t.Fatalf("uuid: %v", got[0].UUID)
	}

	got, err = s.RecentPlayers(context.Background(), "l_", 0)
	if err != nil {
		t.Fatalf("RecentPlayers: %v", err)
	}
	if len(got) != 1 || got[0].Name != "al_x" {
		t.Fatalf("LIKE wildcards must be escaped: %+v", got)
	}
}

func TestRatiosQuery_BindsEveryValue(t *testing.T) {
	areas := area.Set{
		area.New("a", "A", "o'brien's world", area.Vec3{1, 2, 3}, area.Vec3{4, 5, 6}),
		area.New("b", "B", "world", area.Vec3{7, 8, 9}, area.Vec3{10, 11, 12}),
	}
	q, args, err := ratiosQuery(Postgres, areas, identity.Set{alice, bob})
	if err != nil {
		t.Fatalf("ratiosQuery: %v", err)
	}
	if strings.Contains(q, "brien") {
		t.Fatalf("world name interpolated into SQL")
	}
	// action + 2 kinds + 7 per area + 2 players
	if want := 1 + 2 + 14 + 2; len(args) != want || strings.Count(q, "?") != want {
		t.Fatalf("placeholders=%d args=%d want %d", strings.Count(q, "?"), len(args), want)
	}
	rebound := sqlx.Rebind(sqlx.DOLLAR, q)
	if !strings.Contains(rebound, "$19") || strings.Contains(rebound, "?") {
		t.Fatalf("rebind: %s", rebound)
	}
	if !strings.Contains(q, "::jsonb") {
		t.Fatalf("postgres amount expression missing")
	}
}

func TestDecodeUUID(t *testing.T) {
	if got := decodeUUID(alice[:]); got != alice {
		t.Fatalf("binary: %v", got)
	}
	if got := decodeUUID([]byte("6979BCF4A0DA46FC89ED24C40D3B0AB0")); got != bob {
		t.Fatalf("hex text: %v", got)
	}
	if got := decodeUUID([]byte("garbage")); got != uuid.Nil {
		t.Fatalf("garbage: %v", got)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": MySQL, "MariaDB": MySQL, "postgresql": Postgres, "sqlite3": SQLite} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Fatalf("expected error")
	}
}
