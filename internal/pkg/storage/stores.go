package storage

import (
	"context"

	"github.com/flowpags/payrecon/internal/pkg/eventstore"
	"github.com/flowpags/payrecon/internal/pkg/receivables"
	"gorm.io/gorm"
)

// Stores bundles the engine's persistence ports and lets callers run a
// function with both scoped to one database transaction. The persistent
// store is the engine's only synchronization point, so every state change
// paired with its domain event and audit entry goes through Transact.
type Stores interface {
	Events() eventstore.Repository
	Receivables() receivables.Repository
	Transact(ctx context.Context, fn func(s Stores) error) error
}

type gormStores struct {
	db     *gorm.DB
	events eventstore.Repository
	recv   receivables.Repository
}

// New creates Stores backed by a GORM handle.
func New(db *gorm.DB) Stores {
	return &gormStores{
		db:     db,
		events: eventstore.NewRepository(db),
		recv:   receivables.NewRepository(db),
	}
}

func (s *gormStores) Events() eventstore.Repository { return s.events }

func (s *gormStores) Receivables() receivables.Repository { return s.recv }

func (s *gormStores) Transact(ctx context.Context, fn func(s Stores) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}
