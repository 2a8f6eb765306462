// Package policy loads the ontology, entity contracts and YAML policies into
// an immutable Snapshot. Readers take the current snapshot; the loader swaps
// a new one in whenever a file changes on disk.
package policy

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/ontology"
)

const moduleName = "POLICY"

// Snapshot is an immutable view of every loaded document.
type Snapshot struct {
	Version    string
	LoadedAt   time.Time
	Catalog    *ontology.Catalog
	Params     *ParamDefaults
	Thresholds *PlannerThresholds
	Cache      *CachePolicy
	RAG        *RAGPolicy
	Narrator   *NarratorPolicy
	Context    *ContextPolicy
	Quota      *QuotaPolicy
	Warnings   []string

	paths []string
}

// Paths lists the files the snapshot was built from, relative to the data dir.
func (s *Snapshot) Paths() []string { return append([]string{}, s.paths...) }

type Store struct {
	dataDir string
	files   *FileCache
	logger  logger.ILogger

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	lastErr atomic.Value
}

// NewStore performs the initial load. Any error here is fatal for the caller.
func NewStore(dataDir string, log logger.ILogger) (*Store, error) {
	s := &Store{dataDir: dataDir, files: NewFileCache(), logger: log}
	snap, err := s.build()
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	log.Info(moduleName, "Policies loaded", map[string]interface{}{
		"config_version": snap.Version,
		"files":          len(snap.paths),
		"warnings":       snap.Warnings,
	})
	return s, nil
}

// DataDir is the root the store reads from.
func (s *Store) DataDir() string { return s.dataDir }

// Current returns the last good snapshot without touching the disk.
func (s *Store) Current() *Snapshot { return s.current.Load() }

// Snapshot returns an up-to-date snapshot, reloading when any tracked file
// changed. When a reload fails the previous snapshot is returned together
// with the error, and keeps being returned with it until a reload succeeds.
func (s *Store) Snapshot() (*Snapshot, error) {
	cur := s.current.Load()
	if !s.changed(cur) {
		return cur, s.LastError()
	}
	return s.Reload()
}

// Reload rebuilds the snapshot unconditionally.
func (s *Store) Reload() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	snap, err := s.build()
	if err != nil {
		s.lastErr.Store(errBox{err})
		s.logger.Error(moduleName, "Policy reload failed, keeping previous snapshot", map[string]interface{}{
			"error":          err.Error(),
			"config_version": cur.Version,
		})
		return cur, err
	}
	s.lastErr.Store(errBox{})
	s.current.Store(snap)
	if snap.Version != cur.Version {
		s.logger.Info(moduleName, "Policies reloaded", map[string]interface{}{
			"previous_version": cur.Version,
			"config_version":   snap.Version,
		})
	}
	return snap, nil
}

type errBox struct{ err error }

// LastError is the error of the most recent failed reload, nil after a success.
func (s *Store) LastError() error {
	if b, ok := s.lastErr.Load().(errBox); ok {
		return b.err
	}
	return nil
}

// ReadTemplate returns the presenter templates of entity. A missing file
// yields an error wrapping fs.ErrNotExist.
func (s *Store) ReadTemplate(entity string) (string, error) {
	data, _, err := s.files.Read(filepath.Join(s.dataDir, "concepts", entity+"_templates.md"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) changed(cur *Snapshot) bool {
	paths, err := s.trackedPaths()
	if err != nil || len(paths) != len(cur.paths) {
		return true
	}
	for i := range paths {
		if paths[i] != cur.paths[i] {
			return true
		}
	}
	return s.files.Stale(s.abs(paths))
}

func (s *Store) abs(rel []string) []string {
	out := make([]string, len(rel))
	for i, p := range rel {
		out[i] = filepath.Join(s.dataDir, p)
	}
	return out
}

var fixedFiles = []string{
	"ontology/entity.yaml",
	"ontology/tickers.yaml",
	"ops/param_inference.yaml",
	"policies/planner_thresholds.yaml",
	"policies/cache.yaml",
	"policies/rag.yaml",
	"policies/narrator.yaml",
	"policies/context.yaml",
	"policies/quota.yaml",
}

// trackedPaths lists existing versioned files, sorted, relative to dataDir.
func (s *Store) trackedPaths() ([]string, error) {
	var out []string
	for _, rel := range fixedFiles {
		if _, err := os.Stat(filepath.Join(s.dataDir, rel)); err == nil {
			out = append(out, rel)
		}
	}
	entities, err := filepath.Glob(filepath.Join(s.dataDir, "entities", "*.yaml"))
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		out = append(out, filepath.ToSlash(filepath.Join("entities", filepath.Base(e))))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) build() (*Snapshot, error) {
	paths, err := s.trackedPaths()
	if err != nil {
		return nil, err
	}

	contents := make(map[string][]byte, len(paths))
	for _, rel := range paths {
		data, _, err := s.files.Read(filepath.Join(s.dataDir, rel))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		contents[rel] = data
	}

	required := func(rel string) ([]byte, error) {
		data, ok := contents[rel]
		if !ok {
			return nil, fmt.Errorf("required policy file %s: %w", rel, fs.ErrNotExist)
		}
		return data, nil
	}

	snap := &Snapshot{LoadedAt: time.Now(), paths: paths}

	var contracts []*ontology.EntityContract
	for _, rel := range paths {
		if filepath.Dir(rel) != "entities" {
			continue
		}
		c, err := ontology.ParseEntity(rel, contents[rel])
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	if len(contracts) == 0 {
		return nil, fmt.Errorf("no entity contracts under %s: %w", filepath.Join(s.dataDir, "entities"), fs.ErrNotExist)
	}

	var tickers []string
	if raw, ok := contents["ontology/tickers.yaml"]; ok {
		if tickers, err = ontology.ParseTickers("ontology/tickers.yaml", raw); err != nil {
			return nil, err
		}
	}

	ontologyData, err := required("ontology/entity.yaml")
	if err != nil {
		return nil, err
	}
	if snap.Catalog, err = ontology.NewCatalog("ontology/entity.yaml", ontologyData, contracts, tickers); err != nil {
		return nil, err
	}

	if err := parseRequired(required, "ops/param_inference.yaml", ParseParamDefaults, &snap.Params); err != nil {
		return nil, err
	}
	if err := parseRequired(required, "policies/planner_thresholds.yaml", ParseThresholds, &snap.Thresholds); err != nil {
		return nil, err
	}
	if err := parseRequired(required, "policies/cache.yaml", ParseCache, &snap.Cache); err != nil {
		return nil, err
	}
	if err := parseRequired(required, "policies/rag.yaml", ParseRAG, &snap.RAG); err != nil {
		return nil, err
	}
	if err := parseRequired(required, "policies/narrator.yaml", ParseNarrator, &snap.Narrator); err != nil {
		return nil, err
	}

	// context and quota degrade to defaults
	snap.Context = DefaultContext()
	if raw, ok := contents["policies/context.yaml"]; ok {
		if p, err := ParseContext("policies/context.yaml", raw); err != nil {
			snap.Warnings = append(snap.Warnings, err.Error())
		} else {
			snap.Context = p
		}
	} else {
		snap.Warnings = append(snap.Warnings, "policies/context.yaml missing, conversation memory disabled")
	}
	snap.Quota = DefaultQuota()
	if raw, ok := contents["policies/quota.yaml"]; ok {
		if p, err := ParseQuota("policies/quota.yaml", raw); err != nil {
			snap.Warnings = append(snap.Warnings, err.Error())
		} else {
			snap.Quota = p
		}
	} else {
		snap.Warnings = append(snap.Warnings, "policies/quota.yaml missing, quota disabled")
	}
	for _, w := range snap.Warnings {
		s.logger.Warn(moduleName, "Non-critical policy degraded", map[string]interface{}{"warning": w})
	}

	snap.Version = ConfigVersion(paths, contents)
	return snap, nil
}

func parseRequired[T any](required func(string) ([]byte, error), rel string, parse func(string, []byte) (*T, error), dst **T) error {
	data, err := required(rel)
	if err != nil {
		return err
	}
	v, err := parse(rel, data)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// ConfigVersion hashes the sorted relative paths and their contents.
func ConfigVersion(paths []string, contents map[string][]byte) string {
	sorted := append([]string{}, paths...)
	sort.Strings(sorted)
	h := sha1.New()
	for _, p := range sorted {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write(contents[p])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// IsMissing reports whether err comes from an absent file.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
