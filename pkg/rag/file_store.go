package rag

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// index is an immutable load of the JSONL file. Vectors are kept in one
// row-major matrix.
type index struct {
	modTime time.Time
	size    int64
	dim     int
	records []Record
	matrix  []float32
	norms   []float64
}

func (ix *index) row(i int) []float32 { return ix.matrix[i*ix.dim : (i+1)*ix.dim] }

// FileStore serves a JSONL index and reloads it when the file's mtime or
// size changes. Readers always see a complete snapshot.
type FileStore struct {
	path    string
	current atomic.Pointer[index]
	mu      sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Ready(context.Context) error {
	_, err := s.load()
	return err
}

// Len is the number of records in the loaded snapshot.
func (s *FileStore) Len() int {
	if ix := s.current.Load(); ix != nil {
		return len(ix.records)
	}
	return 0
}

func (s *FileStore) Search(ctx context.Context, query []float32, collections []string, k int, minScore float64) ([]Chunk, error) {
	ix, err := s.load()
	if err != nil {
		return nil, err
	}
	if len(ix.records) == 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimension, len(query), ix.dim)
	}

	qn := norm(query)
	out := make([]Chunk, 0, k)
	for i, r := range ix.records {
		if i%512 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !allowed(collections, r.Collection) {
			continue
		}
		score := cosine(ix.row(i), query, ix.norms[i], qn)
		if score < minScore {
			continue
		}
		out = append(out, Chunk{
			Text:       r.Text,
			Score:      score,
			DocID:      r.DocID,
			ChunkID:    r.ChunkID,
			Collection: r.Collection,
			Path:       r.Path,
			Entity:     r.Entity,
			Tags:       r.Tags,
		})
	}
	return topK(out, k), nil
}

func (s *FileStore) load() (*index, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexMissing, s.path)
		}
		return nil, err
	}
	if ix := s.current.Load(); ix != nil && ix.modTime.Equal(info.ModTime()) && ix.size == info.Size() {
		return ix, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ix := s.current.Load(); ix != nil && ix.modTime.Equal(info.ModTime()) && ix.size == info.Size() {
		return ix, nil
	}
	ix, err := readIndex(s.path)
	if err != nil {
		return nil, err
	}
	ix.modTime, ix.size = info.ModTime(), info.Size()
	s.current.Store(ix)
	return ix, nil
}

func readIndex(path string) (*index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ix := &index{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if len(r.Embedding) == 0 {
			continue
		}
		if ix.dim == 0 {
			ix.dim = len(r.Embedding)
		}
		if len(r.Embedding) != ix.dim {
			return nil, fmt.Errorf("%w: %s:%d has %d, expected %d", ErrDimension, path, line, len(r.Embedding), ix.dim)
		}
		ix.matrix = append(ix.matrix, r.Embedding...)
		ix.norms = append(ix.norms, norm(r.Embedding))
		r.Embedding = nil
		ix.records = append(ix.records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ix, nil
}
