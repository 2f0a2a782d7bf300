package locale

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeLang(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const frFR = `{
  "language.code": "fr_FR",
  "language.name": "Français",
  "block.minecraft.dirt": "Terre",
  "block.minecraft.wheat": "Blé (plante)",
  "item.minecraft.wheat": "Blé",
  "item.minecraft.diamond": "Diamant",
  "block.custom": "Bloc personnalisé",
  "gui.done": "Terminé"
}`

const enUS = `{
  "language.code": "en_us",
  "block.minecraft.dirt": "Dirt"
}`

func TestTable_TranslateStripsPrefixesAndFiltersKeys(t *testing.T) {
	dir := t.TempDir()
	tbl := NewTable(writeLang(t, dir, "fr_fr.json", frFR), nil)

	cases := map[string]string{
		"dirt":     "Terre",
		"diamond":  "Diamant",
		"wheat":    "Blé",
		"custom":   "Bloc personnalisé",
		"gui.done": "gui.done",
		"done":     "done",
		"unknown":  "unknown",
	}
	for key, want := range cases {
		if got := tbl.Translate(key); got != want {
			t.Fatalf("Translate(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestTable_LoadsOnceUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	tbl := NewTable(writeLang(t, dir, "fr_fr.json", frFR), nil)
	if n := tbl.loads.Load(); n != 0 {
		t.Fatalf("table loaded before first use: %d", n)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := tbl.Translate("dirt"); got != "Terre" {
				t.Errorf("Translate = %q", got)
			}
		}()
	}
	wg.Wait()
	tbl.Translate("diamond")

	if n := tbl.loads.Load(); n != 1 {
		t.Fatalf("expected exactly one load, got %d", n)
	}
}

func TestTable_LoadFailureDegradesToRawKeys(t *testing.T) {
	tbl := NewTable(filepath.Join(t.TempDir(), "missing.json"), nil)
	if got := tbl.Translate("dirt"); got != "dirt" {
		t.Fatalf("Translate = %q", got)
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table")
	}
	if n := tbl.loads.Load(); n != 1 {
		t.Fatalf("expected one load attempt, got %d", n)
	}
}

func TestScan_SkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeLang(t, dir, "fr_fr.json", frFR)
	writeLang(t, dir, "en_us.json", enUS)
	writeLang(t, dir, "broken.json", `{"language.code": `)
	writeLang(t, dir, "nocode.json", `{"block.minecraft.dirt": "Dirt"}`)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := Scan(dir, "EN_US", nil)
	codes := c.Codes()
	if len(codes) != 2 || codes[0] != "en_us" || codes[1] != "fr_fr" {
		t.Fatalf("codes: %v", codes)
	}
	if c.Default() != "en_us" {
		t.Fatalf("default: %q", c.Default())
	}
	if tbl, _ := c.Lookup("fr_fr"); tbl.loads.Load() != 0 {
		t.Fatalf("scan must not materialize tables")
	}
}

func TestResolve_FallbackChain(t *testing.T) {
	dir := t.TempDir()
	writeLang(t, dir, "fr_fr.json", frFR)
	writeLang(t, dir, "en_us.json", enUS)
	c := Scan(dir, "en_us", nil)

	if got := c.Resolve("FR_fr").Translate("dirt"); got != "Terre" {
		t.Fatalf("requested locale: %q", got)
	}
	if got := c.Resolve("de_de").Translate("dirt"); got != "Dirt" {
		t.Fatalf("default fallback: %q", got)
	}
	if got := c.Resolve("").Translate("dirt"); got != "Dirt" {
		t.Fatalf("absent locale: %q", got)
	}

	noDefault := Scan(dir, "pt_br", nil)
	tbl := noDefault.Resolve("de_de")
	if tbl != Passthrough() {
		t.Fatalf("expected passthrough table")
	}
	if got := tbl.Translate("dirt"); got != "dirt" {
		t.Fatalf("passthrough: %q", got)
	}
}

func TestScan_MissingDirectoryGivesEmptyCatalog(t *testing.T) {
	c := Scan(filepath.Join(t.TempDir(), "nope"), "en_us", nil)
	if len(c.Codes()) != 0 {
		t.Fatalf("expected empty catalog")
	}
	if c.Resolve("en_us") != Passthrough() {
		t.Fatalf("expected passthrough table")
	}
	if Scan("", "en_us", nil).Resolve("x") != Passthrough() {
		t.Fatalf("expected passthrough table for unconfigured directory")
	}
}
