package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hubview/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertLoadRequest(ctx context.Context, req LoadRequest) (LoadRequest, error) {
	if req.ID == "" {
		req.ID = util.NewID("load")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_requests (id, panel_id, node_id, user_id, urn, file_type, name, outcome, error, duration_ms, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, req.ID, req.PanelID, req.NodeID, req.UserID, req.URN, req.FileType, req.Name, req.Outcome, req.Error, req.DurationMS, req.RequestedAt)
	if err != nil {
		return LoadRequest{}, fmt.Errorf("insert load request: %w", err)
	}
	return req, nil
}

// ListLoadRequests returns a panel's load history, newest first.
func (s *PostgresStore) ListLoadRequests(ctx context.Context, panelID string, limit int) ([]LoadRequest, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, panel_id, node_id, user_id, urn, file_type, name, outcome, error, duration_ms, requested_at
		FROM load_requests
		WHERE panel_id = $1
		ORDER BY requested_at DESC, id DESC
		LIMIT $2
	`, panelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list load requests: %w", err)
	}
	defer rows.Close()

	out := make([]LoadRequest, 0)
	for rows.Next() {
		var req LoadRequest
		if err := rows.Scan(&req.ID, &req.PanelID, &req.NodeID, &req.UserID, &req.URN, &req.FileType, &req.Name, &req.Outcome, &req.Error, &req.DurationMS, &req.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan load request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate load requests: %w", err)
	}
	return out, nil
}
