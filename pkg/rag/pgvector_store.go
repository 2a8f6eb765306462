package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChunkModel is a row of the pgvector index.
type ChunkModel struct {
	Id         uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Collection string          `gorm:"type:varchar(128);index"`
	DocID      string          `gorm:"column:doc_id;type:varchar(255)"`
	ChunkID    string          `gorm:"column:chunk_id;type:varchar(255)"`
	SourceID   string          `gorm:"column:source_id;type:varchar(255)"`
	Entity     string          `gorm:"type:varchar(128);index"`
	Path       string          `gorm:"type:text"`
	Tags       datatypes.JSON  `gorm:"type:jsonb"`
	SHA        string          `gorm:"column:sha;type:varchar(64)"`
	Text       string          `gorm:"type:text"`
	Embedding  pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt  time.Time       `gorm:"autoCreateTime"`
}

func (ChunkModel) TableName() string {
	return "rag_chunks"
}

// PgvectorStore scores with 1 - (embedding <=> query), which is cosine
// similarity.
type PgvectorStore struct {
	db *gorm.DB
}

func NewPgvectorStore(db *gorm.DB) *PgvectorStore {
	return &PgvectorStore{db: db}
}

func (s *PgvectorStore) Name() string { return "pgvector" }

func (s *PgvectorStore) Ready(ctx context.Context) error {
	if !s.db.WithContext(ctx).Migrator().HasTable(&ChunkModel{}) {
		return fmt.Errorf("%w: table %s", ErrIndexMissing, ChunkModel{}.TableName())
	}
	return nil
}

func (s *PgvectorStore) Search(ctx context.Context, query []float32, collections []string, k int, minScore float64) ([]Chunk, error) {
	if k <= 0 {
		k = 5
	}
	type result struct {
		ChunkModel
		Score float64
	}
	var results []result

	queryVector := pgvector.NewVector(query)
	q := s.db.WithContext(ctx).
		Table(ChunkModel{}.TableName()).
		Select("collection, doc_id, chunk_id, entity, path, tags, text, 1 - (embedding <=> ?) AS score", queryVector)
	if len(collections) > 0 {
		q = q.Where("collection IN ?", collections)
	}
	err := q.Where("1 - (embedding <=> ?) >= ?", queryVector, minScore).
		Order("score DESC").
		Limit(k).
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}

	chunks := make([]Chunk, len(results))
	for i, r := range results {
		var tags []string
		if len(r.Tags) > 0 {
			_ = json.Unmarshal(r.Tags, &tags)
		}
		chunks[i] = Chunk{
			Text:       r.Text,
			Score:      r.Score,
			DocID:      r.DocID,
			ChunkID:    r.ChunkID,
			Collection: r.Collection,
			Path:       r.Path,
			Entity:     r.Entity,
			Tags:       tags,
		}
	}
	return chunks, nil
}
