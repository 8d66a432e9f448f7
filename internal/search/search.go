package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/store"
)

// DefaultLimit caps result sets when the caller passes no limit.
const DefaultLimit = 20

// Searcher retrieves stored emails by meaning, by substring, or both fused.
type Searcher struct {
	store   *store.Store
	encoder embedding.Encoder
	logger  *slog.Logger
}

// New creates a searcher over the store using the encoder for query vectors.
func New(st *store.Store, enc embedding.Encoder) *Searcher {
	return &Searcher{store: st, encoder: enc, logger: slog.Default()}
}

// WithLogger sets the logger.
func (s *Searcher) WithLogger(logger *slog.Logger) *Searcher {
	s.logger = logger
	return s
}

// Result is one search hit. Score is cosine similarity for semantic
// search, 1.0 for full-text matches, and the fused RRF score for hybrid.
type Result struct {
	Email *store.Email
	Score float64
}

// Semantic returns the emails nearest the query in embedding space,
// newest first. threshold > 0 drops results whose similarity falls below
// it; 0 disables the cutoff.
func (s *Searcher) Semantic(ctx context.Context, query string, limit int, threshold float64) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	results, err := s.semanticPool(ctx, query, limit, threshold)
	if err != nil {
		return nil, err
	}
	sortByDate(results)
	return results, nil
}

// semanticPool runs the KNN query and keeps similarity rank order.
func (s *Searcher) semanticPool(ctx context.Context, query string, limit int, threshold float64) ([]Result, error) {
	vec, err := s.encoder.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	matches, err := s.store.QueryByVector(ctx, vec, limit, store.Filter{})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		score := 1 - m.Distance
		if threshold > 0 && score < threshold {
			continue
		}
		results = append(results, Result{Email: m.Email, Score: score})
	}
	return results, nil
}

// Fulltext returns emails whose subject or body contains the query,
// case-insensitively, newest first. The scan is linear over the corpus,
// which is fine at local-mailbox scale.
func (s *Searcher) Fulltext(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.fulltextPool(ctx, query, limit)
}

// fulltextPool scans newest-first and stops once limit matches are found.
func (s *Searcher) fulltextPool(ctx context.Context, query string, limit int) ([]Result, error) {
	emails, err := s.store.GetEmails(ctx, store.Filter{}, 0, 0, true)
	if err != nil {
		return nil, fmt.Errorf("load emails: %w", err)
	}

	needle := strings.ToLower(query)
	var results []Result
	for _, e := range emails {
		text := strings.ToLower(e.Subject + " " + e.Document)
		if strings.Contains(text, needle) {
			results = append(results, Result{Email: e, Score: 1.0})
			if len(results) == limit {
				break
			}
		}
	}
	return results, nil
}

// Hybrid fuses semantic and full-text retrieval with Reciprocal Rank
// Fusion. Emails only the substring scan found are kept ahead of the
// fused ranking, so an exact match always comes back even when its
// embedding is a poor neighbor. Results come back newest first. When
// vector search is unavailable the substring results stand alone.
func (s *Searcher) Hybrid(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	pool := limit * 10

	sem, err := s.semanticPool(ctx, query, pool, 0)
	if err != nil {
		if !errors.Is(err, store.ErrVectorUnavailable) {
			return nil, err
		}
		s.logger.Warn("vector search unavailable, hybrid degraded to full-text")
		sem = nil
	}
	ft, err := s.fulltextPool(ctx, query, pool)
	if err != nil {
		return nil, err
	}

	const k = 60.0
	const semanticWeight = 0.7

	scores := make(map[string]float64, len(sem)+len(ft))
	byID := make(map[string]*store.Email, len(sem)+len(ft))
	semSet := make(map[string]bool, len(sem))
	for rank, r := range sem {
		id := r.Email.GmailID
		scores[id] += semanticWeight / (k + float64(rank) + 1)
		semSet[id] = true
		byID[id] = r.Email
	}
	for rank, r := range ft {
		id := r.Email.GmailID
		scores[id] += (1 - semanticWeight) / (k + float64(rank) + 1)
		if _, ok := byID[id]; !ok {
			byID[id] = r.Email
		}
	}

	ranked := make([]string, 0, len(scores))
	for id := range scores {
		ranked = append(ranked, id)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	top := make(map[string]bool, limit)
	for i := 0; i < len(ranked) && i < limit; i++ {
		top[ranked[i]] = true
	}

	// Substring hits the KNN missed entirely jump the queue when the
	// fused ranking would have dropped them.
	var order []string
	seen := make(map[string]bool, len(ranked))
	for _, r := range ft {
		id := r.Email.GmailID
		if !semSet[id] && !top[id] && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	for _, id := range ranked {
		if !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	if len(order) > limit {
		order = order[:limit]
	}

	results := make([]Result, len(order))
	for i, id := range order {
		results[i] = Result{Email: byID[id], Score: scores[id]}
	}
	sortByDate(results)
	return results, nil
}

func sortByDate(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Email.DateTS != results[j].Email.DateTS {
			return results[i].Email.DateTS > results[j].Email.DateTS
		}
		return results[i].Email.GmailID < results[j].Email.GmailID
	})
}

// Filter returns emails matching the structured filter, newest first.
func (s *Searcher) Filter(ctx context.Context, f store.Filter, limit, offset int) ([]*store.Email, error) {
	return s.store.GetEmails(ctx, f, limit, offset, false)
}

// BySender returns emails whose sender contains the given fragment.
func (s *Searcher) BySender(ctx context.Context, sender string, limit int) ([]*store.Email, error) {
	return s.store.GetEmails(ctx, store.Filter{SenderContains: sender}, limit, 0, false)
}

// ByLabel returns emails carrying the given label name.
func (s *Searcher) ByLabel(ctx context.Context, label string, limit int) ([]*store.Email, error) {
	return s.store.GetEmails(ctx, store.Filter{LabelContains: label}, limit, 0, false)
}

// ByThread returns a thread's emails, newest first.
func (s *Searcher) ByThread(ctx context.Context, threadID string) ([]*store.Email, error) {
	return s.store.GetEmails(ctx, store.Filter{ThreadID: threadID}, 0, 0, true)
}

// ByDateRange returns emails dated within [from, to].
func (s *Searcher) ByDateRange(ctx context.Context, from, to time.Time, limit int) ([]*store.Email, error) {
	f := store.Filter{DateFrom: from.Unix(), DateTo: to.Unix()}
	return s.store.GetEmails(ctx, f, limit, 0, false)
}
