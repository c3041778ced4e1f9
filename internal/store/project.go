package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"replaycast.app/studio/internal/model"
)

type projectStore struct {
	db DBTX
}

func newProjectStore(db DBTX) ProjectStore {
	return &projectStore{db: db}
}

func (s *projectStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, name, api_key_hash, created_at FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

func (s *projectStore) GetByAPIKeyHash(ctx context.Context, hash string) (*model.Project, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, name, api_key_hash, created_at FROM projects WHERE api_key_hash = $1`, hash)
	return scanProject(row)
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var proj model.Project
	err := row.Scan(&proj.ID, &proj.Name, &proj.APIKeyHash, &proj.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning project: %w", err)
	}
	return &proj, nil
}
