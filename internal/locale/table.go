// Package locale resolves item and block display names from Minecraft
// language files. Files are indexed at startup; their content is loaded on
// first use.
package locale

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Key prefixes kept from a language file, longest first. Item names win
// over block names when both strip to the same key.
var (
	blockPrefixes = []string{"block.minecraft.", "block."}
	itemPrefixes  = []string{"item.minecraft.", "item."}
)

// Table holds the translations of one language file. The zero value is not
// usable; see NewTable and Passthrough.
type Table struct {
	path string
	log  logrus.FieldLogger

	once    sync.Once
	loads   atomic.Int32
	entries map[string]string
}

// NewTable returns an unloaded table backed by the file at path.
func NewTable(path string, log logrus.FieldLogger) *Table {
	if log == nil {
		log = discard()
	}
	return &Table{path: path, log: log}
}

var passthrough = func() *Table {
	t := &Table{log: discard()}
	t.once.Do(func() { t.entries = map[string]string{} })
	return t
}()

// Passthrough returns the built-in empty table: Translate is the identity.
func Passthrough() *Table { return passthrough }

// Path identifies the table. It is empty for the passthrough table.
func (t *Table) Path() string { return t.path }

// Translate returns the localized name for key, or key itself when the
// table has no entry. It never fails; the first call loads the file.
func (t *Table) Translate(key string) string {
	t.once.Do(t.load)
	if v, ok := t.entries[key]; ok {
		return v
	}
	return key
}

// Len returns the number of loaded entries, loading the file if needed.
func (t *Table) Len() int {
	t.once.Do(t.load)
	return len(t.entries)
}

func (t *Table) load() {
	t.loads.Add(1)
	defer func() {
		if r := recover(); r != nil {
			t.log.WithField("file", t.path).Errorf("locale load panicked: %v", r)
			t.entries = map[string]string{}
		}
	}()

	entries, err := readTable(t.path)
	if err != nil {
		t.log.WithError(err).WithField("file", t.path).Warn("unable to load translations, falling back to raw keys")
		entries = map[string]string{}
	}
	t.entries = entries
}

func readTable(path string) (map[string]string, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw)/2)
	// Blocks first so that items overwrite them.
	for _, prefixes := range [][]string{blockPrefixes, itemPrefixes} {
		for key, name := range raw {
			if stripped, ok := stripKey(key, prefixes); ok {
				out[stripped] = name
			}
		}
	}
	return out, nil
}

func stripKey(key string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return strings.TrimPrefix(key, p), true
		}
	}
	return "", false
}

func readFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open locale file: %w", err)
	}
	defer f.Close()
	return decode(f, path)
}

func decode(r io.Reader, path string) (map[string]string, error) {
	var m map[string]string
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("parse locale file %s: %w", path, err)
	}
	return m, nil
}

func discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
