package store

import (
	"context"
	"errors"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// ErrVectorUnavailable is returned by vector queries when the vec0 module
// did not load. Callers can fall back to full-text matching.
var ErrVectorUnavailable = errors.New("vector search unavailable: vec0 module not loaded")

// VectorMatch is one KNN hit: the stored email (with document) and its
// cosine distance to the query vector. Smaller is closer.
type VectorMatch struct {
	Email    *Email
	Distance float64
}

// QueryByVector runs a K-nearest-neighbor search over the email embeddings,
// then applies the filter to the joined email rows. Filtering happens after
// the KNN pass, so fewer than n matches may come back; callers that filter
// should over-fetch.
func (s *Store) QueryByVector(ctx context.Context, vec []float32, n int, f Filter) ([]VectorMatch, error) {
	if !s.vecAvailable {
		return nil, ErrVectorUnavailable
	}
	if n <= 0 {
		return nil, nil
	}
	if len(vec) != s.dimension {
		return nil, fmt.Errorf("query vector has %d dims, store expects %d", len(vec), s.dimension)
	}

	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	// The KNN runs in a subquery so the MATCH constraint is planned against
	// vec_emails alone, then email rows are joined by rowid.
	conds, filterArgs := f.clauses("e.")
	query := `
		SELECT ` + prefixCols("e.", emailCols) + `, e.document, k.distance
		FROM (
			SELECT rowid, distance FROM vec_emails
			WHERE embedding MATCH ? AND k = ?
			ORDER BY distance
		) k
		JOIN emails e ON e.rowid = k.rowid` + whereSQL(conds) + `
		ORDER BY k.distance`

	args := append([]interface{}{blob, int64(n)}, filterArgs...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var e Email
		var historyID int64
		var dist float64
		dests := append(emailScanDests(&e, &historyID), &e.Document, &dist)
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}
		e.HistoryID = uint64(historyID)
		matches = append(matches, VectorMatch{Email: &e, Distance: dist})
	}
	return matches, rows.Err()
}
