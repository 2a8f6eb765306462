package ontology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the validated ontology together with every entity contract it
// references and the optional ticker symbol table.
type Catalog struct {
	Ontology *Ontology
	Tickers  []string

	entities map[string]*EntityContract
}

// NewCatalog cross-checks the ontology against the contracts.
func NewCatalog(ontologyFile string, ontologyData []byte, contracts []*EntityContract, tickers []string) (*Catalog, error) {
	known := make(map[string]bool, len(contracts))
	byName := make(map[string]*EntityContract, len(contracts))
	for _, c := range contracts {
		if known[c.Entity] {
			return nil, &ValidationError{File: ontologyFile, Field: "entities", Reason: fmt.Sprintf("entity %q declared twice", c.Entity)}
		}
		known[c.Entity] = true
		byName[c.Entity] = c
	}
	o, err := Parse(ontologyFile, ontologyData, known)
	if err != nil {
		return nil, err
	}
	return &Catalog{Ontology: o, Tickers: tickers, entities: byName}, nil
}

// Entity returns the contract for name.
func (c *Catalog) Entity(name string) (*EntityContract, bool) {
	e, ok := c.entities[name]
	return e, ok
}

// EntityNames returns every contract name, sorted.
func (c *Catalog) EntityNames() []string {
	names := make([]string, 0, len(c.entities))
	for n := range c.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type tickerTable struct {
	Tickers []string `yaml:"tickers"`
}

// ParseTickers decodes the optional symbol table.
func ParseTickers(file string, data []byte) ([]string, error) {
	var t tickerTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	out := make([]string, 0, len(t.Tickers))
	for _, s := range t.Tickers {
		out = append(out, strings.ToUpper(strings.TrimSpace(s)))
	}
	return out, nil
}

// Load reads <dataDir>/ontology and <dataDir>/entities straight from disk.
// The policy store goes through its own mtime cache instead.
func Load(dataDir string) (*Catalog, error) {
	ontologyFile := filepath.Join(dataDir, "ontology", "entity.yaml")
	data, err := os.ReadFile(ontologyFile)
	if err != nil {
		return nil, fmt.Errorf("read ontology: %w", err)
	}

	paths, err := filepath.Glob(filepath.Join(dataDir, "entities", "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	contracts := make([]*EntityContract, 0, len(paths))
	for _, p := range paths {
		c, err := LoadEntity(p)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}

	var tickers []string
	tickerFile := filepath.Join(dataDir, "ontology", "tickers.yaml")
	if raw, err := os.ReadFile(tickerFile); err == nil {
		if tickers, err = ParseTickers(tickerFile, raw); err != nil {
			return nil, err
		}
	}
	return NewCatalog(ontologyFile, data, contracts, tickers)
}
