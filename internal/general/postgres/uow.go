package postgres

import (
	"context"
	"errors"
	"fmt"

	"fleet-tracking/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// ErrNoTx is returned by repositories called outside UnitOfWork.WithinTx.
var ErrNoTx = errors.New("postgres: repository called outside UnitOfWork.WithinTx")

type unitOfWork struct {
	pool *pgxpool.Pool
}

func NewUnitOfWork(pool *pgxpool.Pool) ports.UnitOfWork {
	return &unitOfWork{pool: pool}
}

// WithinTx runs fn in a read-committed transaction carried by ctx. Nested
// calls join the outer transaction. A failure to begin means the database is
// unreachable and is reported as ports.ErrStoreUnavailable.
func (uow *unitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := uow.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ports.ErrStoreUnavailable, err)
	}

	committed := false
	defer func() {
		if !committed {
			// ctx may already be cancelled; the rollback must still reach the server
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// currentTx returns the transaction opened by WithinTx.
func currentTx(ctx context.Context) (pgx.Tx, error) {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx, nil
	}
	return nil, ErrNoTx
}
