package locale

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// CodeKey is the metadata entry naming the locale of a language file.
const CodeKey = "language.code"

// Catalog maps lowercase locale codes to their tables. It is immutable once
// built and safe for concurrent use.
type Catalog struct {
	tables      map[string]*Table
	defaultCode string
}

// NewCatalog builds a catalog from already constructed tables.
func NewCatalog(defaultCode string, tables map[string]*Table) *Catalog {
	c := &Catalog{
		tables:      make(map[string]*Table, len(tables)),
		defaultCode: strings.ToLower(strings.TrimSpace(defaultCode)),
	}
	for code, t := range tables {
		c.tables[strings.ToLower(code)] = t
	}
	return c
}

// Empty returns a catalog without any locale. Every resolution yields the
// passthrough table.
func Empty() *Catalog { return NewCatalog("", nil) }

// Scan indexes every language file in dir. Files that cannot be parsed or
// lack a language.code entry are skipped. An empty dir or an unreadable
// directory gives an empty catalog; translations are then disabled.
func Scan(dir, defaultCode string, log logrus.FieldLogger) *Catalog {
	if log == nil {
		log = discard()
	}
	if strings.TrimSpace(dir) == "" {
		return Empty()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).WithField("dir", dir).Warn("unable to read translations directory, disabling translations")
		return Empty()
	}

	tables := make(map[string]*Table, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		m, err := readFile(path)
		if err != nil {
			log.WithError(err).WithField("file", path).Debug("skipping language file")
			continue
		}
		code, ok := m[CodeKey]
		if !ok || strings.TrimSpace(code) == "" {
			log.WithField("file", path).Debug("skipping language file without language.code")
			continue
		}
		tables[strings.ToLower(code)] = NewTable(path, log)
	}

	c := NewCatalog(defaultCode, tables)
	if _, ok := c.tables[c.defaultCode]; !ok && c.defaultCode != "" {
		log.WithField("default_locale", c.defaultCode).Warn("default locale not found among translations")
	}
	log.WithFields(logrus.Fields{"dir": dir, "locales": len(tables)}).Info("translations indexed")
	return c
}

// Default returns the configured default locale code.
func (c *Catalog) Default() string { return c.defaultCode }

// Codes returns the available locale codes, sorted.
func (c *Catalog) Codes() []string {
	out := make([]string, 0, len(c.tables))
	for code := range c.tables {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the table registered for code, case-insensitively.
func (c *Catalog) Lookup(code string) (*Table, bool) {
	t, ok := c.tables[strings.ToLower(strings.TrimSpace(code))]
	return t, ok
}

// Resolve picks the table for a requested code: the code itself, then the
// default locale, then the passthrough table.
func (c *Catalog) Resolve(code string) *Table {
	if t, ok := c.Lookup(code); ok {
		return t
	}
	if t, ok := c.tables[c.defaultCode]; ok {
		return t
	}
	return Passthrough()
}
