package database

import (
	"context"
	"database/sql"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type txContextKey struct{}

// Tx is the transaction surface used by the repositories.
type Tx interface {
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	DriverName() string
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	Rebind(query string) string
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Transaction wraps sqlx.Tx. A joined transaction belongs to an outer caller,
// so its Commit and Rollback are no-ops.
type Transaction struct {
	*sqlx.Tx
	logger ectologger.Logger
	closed bool
	joined bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{Tx: tx, logger: logger}
}

// GetTx joins the open transaction carried by ctx or begins a new one and
// stores it in the returned context.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if outer, ok := ctx.Value(txContextKey{}).(*Transaction); ok && outer.IsOpen() {
		return ctx, &Transaction{Tx: outer.Tx, logger: logger, joined: true}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("Failed to begin transaction")
		return ctx, nil, errors.Wrap(err, "failed to begin transaction")
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txContextKey{}, newTx), newTx, nil
}

// RunInTx runs fn inside a transaction, committing on success and rolling back
// on error. Nested calls share the outermost transaction.
func RunInTx(ctx context.Context, db DB, fn func(ctx context.Context, tx Tx) error) error {
	ctx, tx, err := db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Wrapf(err, "rollback also failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (t *Transaction) IsOpen() bool {
	return !t.closed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.closed || t.joined {
		return nil
	}
	t.closed = true
	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Error("Failed to roll back transaction")
		return errors.Wrap(err, "failed to roll back transaction")
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.closed || t.joined {
		return nil
	}
	t.closed = true
	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Error("Failed to commit transaction")
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
