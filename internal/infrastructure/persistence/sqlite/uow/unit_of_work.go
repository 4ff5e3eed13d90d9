package uow

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"qagen/internal/errs"
	"qagen/internal/ports"
)

// UnitOfWork runs record store maintenance in one gorm transaction. Repositories pick the
// transaction up from the context.
type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if fn == nil {
		return errors.New("transaction callback is required")
	}
	if existing, ok := ports.TxFromContext(ctx).(*gorm.DB); ok && existing != nil {
		return fn(ctx)
	}
	if err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx))
	}); err != nil {
		return errs.Wrap(err, "run transaction")
	}
	return nil
}
