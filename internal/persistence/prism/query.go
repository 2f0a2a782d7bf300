package prism

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/identity"
)

// Prism action names counted by the ratio aggregation.
const (
	ActionInsert = "item-insert"
	ActionRemove = "item-remove"
)

// RecentPlayersLimit bounds the recent players listing.
const RecentPlayersLimit = 20

// Actors recorded by Prism that are not players.
var nonPlayers = []string{
	"Piston", "custom", "zombie", "skeleton", "Lava",
	"dispenser", "beehive", "Environment", "suffocation",
	"mount", "spawner", "fall", "water", "player", "cramming",
	"breeding", "creeper", "guardian", "drowning", "drowned",
	"fire", "piglin", "unknown", "default", "tnt", "witch",
	"villager", "patrol", "lightning", "shulker", "pillager",
	"dryout", "egg", "wither_skeleton", "ocelot", "fireball",
	"infection", "player_unleash", "holder_gone", "blaze",
	"enderman", "spectral_arrow", "piglin_brute", "hoglin",
	"strider", "vex", "vindicator", "raid", "wolf", "stray",
	"husk", "distance", "turtle", "wither", "zombie_villager",
	"wandering_trader", "arrow", "cured", "void", "trap",
	"jockey", "spider", "snowman", "starvation", "sheep", "cow",
	"trader_llama", "fox", "magma_cube", "horse", "projectile",
	"rabbit", "parrot", "donkey", "cat", "skeleton_horse",
	"chicken", "zombified_piglin", "evoker", "ravager", "ghast",
	"endermite",
}

// ratiosQuery builds the aggregation over the events located in any of the
// areas and, when players is not empty, made by one of the players. Events
// whose player row is gone still count when no player is selected. All
// values are bound; the returned query uses '?' placeholders.
func ratiosQuery(d Dialect, areas area.Set, players identity.Set) (string, []any, error) {
	if len(areas) == 0 {
		return "", nil, fmt.Errorf("ratios query: no area")
	}

	var b strings.Builder
	args := make([]any, 0, 3+7*len(areas)+len(players))

	fmt.Fprintf(&b, `SELECT b.material AS material,
	COALESCE(SUM(CASE WHEN a.action = ? THEN 1 ELSE -1 END * %s), 0) AS ratio
FROM prism_data d
JOIN prism_actions a ON a.action_id = d.action_id
LEFT JOIN prism_players p ON p.player_id = d.player_id
JOIN prism_worlds w ON w.world_id = d.world_id
JOIN prism_id_map b ON b.block_id = d.block_id
LEFT JOIN prism_data_extra e ON e.data_id = d.id
WHERE a.action IN (?)
	AND (`, d.amountExpr())
	args = append(args, ActionInsert, []string{ActionInsert, ActionRemove})

	for i, a := range areas {
		if i > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString("(w.world = ? AND d.x BETWEEN ? AND ? AND d.y BETWEEN ? AND ? AND d.z BETWEEN ? AND ?)")
		args = append(args, a.World,
			a.LowCorner[0], a.HighCorner[0],
			a.LowCorner[1], a.HighCorner[1],
			a.LowCorner[2], a.HighCorner[2],
		)
	}
	b.WriteString(")")

	if len(players) > 0 {
		b.WriteString("\n\tAND p.player_uuid IN (?)")
		args = append(args, players.Bytes())
	}
	b.WriteString("\nGROUP BY b.material\nORDER BY ratio DESC, material ASC")

	return sqlx.In(b.String(), args...)
}

// recentPlayersQuery lists the players whose name contains filter, most
// recently active first.
func recentPlayersQuery(filter string, limit int) (string, []any, error) {
	const q = `SELECT p.player AS name, p.player_uuid AS uuid,
	COALESCE((SELECT MAX(d.epoch) FROM prism_data d WHERE d.player_id = p.player_id), 0) AS last_action
FROM prism_players p
WHERE p.player LIKE ? ESCAPE '!'
	AND p.player NOT LIKE '%:%'
	AND p.player NOT LIKE '% %'
	AND p.player NOT IN (?)
ORDER BY last_action DESC, p.player ASC
LIMIT ?`
	return sqlx.In(q, "%"+escapeLike(filter)+"%", nonPlayers, limit)
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
