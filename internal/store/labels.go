package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Label mirrors a Gmail label with its message counts at last refresh.
type Label struct {
	ID             string
	Name           string
	Type           string // "system" or "user"
	MessagesTotal  int64
	MessagesUnread int64
}

// UpsertLabels replaces stored label rows with the given set. Labels no
// longer present on the account are left in place; they stop mattering once
// no email references them.
func (s *Store) UpsertLabels(ctx context.Context, labels []*Label) error {
	if len(labels) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertInChunks(ctx, tx, len(labels), 5,
			"INSERT INTO labels (id, name, type, messages_total, messages_unread) VALUES ",
			` ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				type = excluded.type,
				messages_total = excluded.messages_total,
				messages_unread = excluded.messages_unread`,
			func(start, end int) ([]string, []interface{}) {
				values := make([]string, end-start)
				args := make([]interface{}, 0, (end-start)*5)
				for i := start; i < end; i++ {
					values[i-start] = "(?, ?, ?, ?, ?)"
					l := labels[i]
					args = append(args, l.ID, l.Name, l.Type, l.MessagesTotal, l.MessagesUnread)
				}
				return values, args
			})
	})
}

// ListLabels returns all stored labels ordered by name.
func (s *Store) ListLabels(ctx context.Context) ([]*Label, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, messages_total, messages_unread FROM labels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer rows.Close()

	var labels []*Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Type, &l.MessagesTotal, &l.MessagesUnread); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, &l)
	}
	return labels, rows.Err()
}

// LabelMap returns label id -> display name for all stored labels.
func (s *Store) LabelMap(ctx context.Context) (map[string]string, error) {
	labels, err := s.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(labels))
	for _, l := range labels {
		m[l.ID] = l.Name
	}
	return m, nil
}
