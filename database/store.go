package database

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/services"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store hands out repositories bound either to the pool or to one transaction.
type Store struct {
	db *sql.DB
	q  querier
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Orders() services.OrderRepository       { return &OrderRepo{q: s.q} }
func (s *Store) Carts() services.CartRepository         { return &CartRepo{q: s.q} }
func (s *Store) Users() services.UserRepository         { return &UserRepo{q: s.q} }
func (s *Store) Callbacks() services.CallbackRepository { return &CallbackRepo{q: s.q} }
func (s *Store) Outbox() services.OutboxRepository      { return &OutboxRepo{q: s.q} }

// Events exposes the outbox to the dispatcher and relay.
func (s *Store) Events() *OutboxRepo { return &OutboxRepo{q: s.q} }

// WithinTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx services.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ services.Store = (*Store)(nil)
