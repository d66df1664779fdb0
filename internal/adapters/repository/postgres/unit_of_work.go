package postgres

import (
	"back-to-origin/internal/core/port"
	"context"
	"database/sql"
)

type sqlUnitOfWork struct {
	db *sql.DB
	tx *sql.Tx
}

func NewUnitOfWork(db *sql.DB) port.UnitOfWork {
	return &sqlUnitOfWork{db: db}
}

func (u *sqlUnitOfWork) querier() SQLQuerier {
	if u.tx != nil {
		return u.tx
	}
	return u.db
}

func (u *sqlUnitOfWork) URIRecordRepo() port.URIRecordRepository {
	return NewSqlURIRecordRepository(u.querier())
}

func (u *sqlUnitOfWork) SingleTaskRepo() port.SingleTaskRepository {
	return NewSqlSingleTaskRepository(u.querier())
}

func (u *sqlUnitOfWork) SingleResultRepo() port.SingleResultRepository {
	return NewSqlSingleResultRepository(u.querier())
}

func (u *sqlUnitOfWork) MultipartResultRepo() port.MultipartResultRepository {
	return NewSqlMultipartResultRepository(u.querier())
}

func (u *sqlUnitOfWork) MultipartPartRepo() port.MultipartPartRepository {
	return NewSqlMultipartPartRepository(u.querier())
}

func (u *sqlUnitOfWork) Execute(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	if u.tx != nil {
		return fn(u)
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	uowWithTx := &sqlUnitOfWork{db: u.db, tx: tx}

	if err := fn(uowWithTx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
