package model

import (
	"time"

	"github.com/google/uuid"
)

// Project owns sessions. Key issuance and project CRUD live elsewhere;
// this system only resolves projects from API key hashes.
type Project struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
