package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/converso/server/internal/chat/model"
	"github.com/converso/server/internal/core/errx"
	logx "github.com/converso/server/pkg/logger"
)

// Queries against rag_documents always carry the owner predicate; retrieval
// across owners is a correctness violation, not a tuning knob.
const (
	searchSQL = `SELECT content, source_id FROM rag_documents
WHERE owner_id = $1
ORDER BY embedding <=> $2
LIMIT $3`

	indexSQL = `INSERT INTO rag_documents (owner_id, source_id, content, embedding)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id, source_id)
DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`
)

// DB is the slice of pgxpool.Pool the searcher needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Searcher performs owner-scoped vector similarity search over the document
// index.
type Searcher struct {
	db       DB
	embedder Embedder
	defaultK int
}

func NewSearcher(db DB, embedder Embedder, defaultK int) *Searcher {
	if defaultK <= 0 {
		defaultK = 4
	}
	return &Searcher{db: db, embedder: embedder, defaultK: defaultK}
}

// Search returns up to k passages owned by ownerID, closest-first by cosine
// distance. An empty index yields an empty slice, never an error.
func (s *Searcher) Search(ctx context.Context, ownerID, query string, k int) ([]model.RetrievedPassage, error) {
	if k <= 0 {
		k = s.defaultK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.Query(ctx, searchSQL, ownerID, pgvector.NewVector(vec), k)
	if err != nil {
		logx.Error().Err(err).Str("owner_id", ownerID).Msg("vector search failed")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	passages := make([]model.RetrievedPassage, 0, k)
	for rows.Next() {
		var p model.RetrievedPassage
		if err := rows.Scan(&p.Text, &p.SourceID); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return passages, nil
}

// Index embeds content and upserts it into the owner's document set. The
// chunking pipeline upstream of this call is out of scope here.
func (s *Searcher) Index(ctx context.Context, ownerID, sourceID, content string) error {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}

	if _, err := s.db.Exec(ctx, indexSQL, ownerID, sourceID, content, pgvector.NewVector(vec)); err != nil {
		logx.Error().Err(err).Str("owner_id", ownerID).Str("source_id", sourceID).Msg("index document failed")
		return errx.WrapPostgres(err)
	}
	return nil
}

var _ model.Retriever = (*Searcher)(nil)
