package store

import (
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// NewWithMock returns a Store backed by a sqlmock connection, for tests in
// packages that drive the repositories.
func NewWithMock(writable bool) (*Store, sqlmock.Sqlmock, error) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		return nil, nil, err
	}

	s := &Store{
		db:       sqlx.NewDb(db, "sqlmock"),
		writable: writable,
		log:      zerolog.Nop(),
	}
	s.Funding = &FundingRepository{store: s}
	s.Paper = &PaperRepository{store: s}
	s.AI = &AIRepository{store: s}
	return s, mock, nil
}
