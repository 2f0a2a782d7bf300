package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/config"
	"panoptes.zcraft.fr/internal/identity"
	"panoptes.zcraft.fr/internal/locale"
	"panoptes.zcraft.fr/internal/persistence/prism"
	"panoptes.zcraft.fr/internal/persistence/querylog"
	"panoptes.zcraft.fr/internal/ratios"
)

const usage = `usage: admin <command> [flags]

commands:
  areas      list configured areas
  locales    list indexed locales
  translate  translate material keys: translate -locale fr_fr dirt stone
  ratios     run a ratios aggregation against the database (no cache)
  players    list recently active players
  journal    dump the query journal
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "areas":
		areasCmd(args)
	case "locales":
		localesCmd(args)
	case "translate":
		translateCmd(args)
	case "ratios":
		ratiosCmd(args)
	case "players":
		playersCmd(args)
	case "journal":
		journalCmd(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file (default $PANOPTES_CONFIG, then Panoptes.toml)")
	return fs, cfgPath
}

func loadConfig(path string) config.Config {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "env:", err)
		os.Exit(1)
	}
	cfg, err := config.LoadDefault(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	return cfg
}

func loadRegistry(cfg config.Config) *area.Registry {
	reg, err := cfg.Registry()
	if err != nil {
		fmt.Fprintln(os.Stderr, "areas:", err)
		os.Exit(1)
	}
	return reg
}

func loadCatalog(cfg config.Config) *locale.Catalog {
	return locale.Scan(cfg.Translations.Directory, cfg.Translations.DefaultLocale, nil)
}

func openStore(cfg config.Config) *prism.Store {
	store, err := prism.Open(cfg.Store())
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	return store
}

func areasCmd(args []string) {
	fs, cfgPath := newFlagSet("areas")
	_ = fs.Parse(args)

	reg := loadRegistry(loadConfig(*cfgPath))
	for _, a := range reg.Filter(area.All()) {
		printJSON(a)
	}
}

func localesCmd(args []string) {
	fs, cfgPath := newFlagSet("locales")
	_ = fs.Parse(args)

	cat := loadCatalog(loadConfig(*cfgPath))
	for _, code := range cat.Codes() {
		t, _ := cat.Lookup(code)
		printJSON(map[string]any{
			"code":    code,
			"default": code == cat.Default(),
			"file":    t.Path(),
			"entries": t.Len(),
		})
	}
}

func translateCmd(args []string) {
	fs, cfgPath := newFlagSet("translate")
	code := fs.String("locale", "", "locale code (default: configured default)")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "missing material keys")
		os.Exit(2)
	}
	table := loadCatalog(loadConfig(*cfgPath)).Resolve(*code)
	for _, material := range fs.Args() {
		id := ratios.MaterialID(material)
		printJSON(map[string]string{
			"id":           id,
			"display_name": table.Translate(strings.TrimPrefix(id, ratios.DefaultNamespace+":")),
			"file":         table.Path(),
		})
	}
}

func ratiosCmd(args []string) {
	fs, cfgPath := newFlagSet("ratios")
	areasFlag := fs.String("areas", "", "comma-separated area ids (default: all)")
	playersFlag := fs.String("players", "", "comma-separated player UUIDs (default: all players)")
	code := fs.String("locale", "", "locale code")
	timeout := fs.Duration("timeout", time.Minute, "query timeout")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	reg := loadRegistry(cfg)
	players, err := identity.Parse(*playersFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -players:", err)
		os.Exit(2)
	}
	sel := area.ParseSelection(*areasFlag, strings.TrimSpace(*areasFlag) != "")
	areas := reg.Filter(sel)

	store := openStore(cfg)
	defer store.Close()
	table := loadCatalog(cfg).Resolve(*code)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	start := time.Now()
	res, err := ratios.NewEngine(store).Aggregate(ctx, areas, players, table)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aggregate:", err)
		os.Exit(1)
	}
	printJSON(map[string]any{
		"areas":       areas.IDs(),
		"players":     players.Strings(),
		"fingerprint": ratios.Fingerprint(areas, players, table),
		"duration_ms": time.Since(start).Milliseconds(),
		"global":      res.Global,
		"detail":      res.Detail,
	})
}

func playersCmd(args []string) {
	fs, cfgPath := newFlagSet("players")
	filter := fs.String("filter", "", "keep names containing this string")
	limit := fs.Int("limit", prism.RecentPlayersLimit, "result limit")
	_ = fs.Parse(args)

	store := openStore(loadConfig(*cfgPath))
	defer store.Close()

	players, err := store.RecentPlayers(context.Background(), *filter, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "players:", err)
		os.Exit(1)
	}
	for _, p := range players {
		printJSON(p)
	}
}

func journalCmd(args []string) {
	fs, cfgPath := newFlagSet("journal")
	dir := fs.String("dir", "", "journal directory (default: query_log.directory)")
	kind := fs.String("kind", "", "ratios or players (default: both)")
	failed := fs.Bool("failed", false, "only failed queries")
	_ = fs.Parse(args)

	d := strings.TrimSpace(*dir)
	if d == "" {
		d = loadConfig(*cfgPath).QueryLog.Directory
	}
	if d == "" {
		fmt.Fprintln(os.Stderr, "query journal disabled; set query_log.directory or -dir")
		os.Exit(2)
	}
	recs, err := querylog.ReadDir(d, func(r querylog.Record) bool {
		if *kind != "" && r.Kind != *kind {
			return false
		}
		return !*failed || r.Error != ""
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	for _, r := range recs {
		printJSON(r)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
