package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestRunCommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE firms").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	runner := NewRunner(db, nil)
	err = runner.Run(context.Background(), func(ctx context.Context, tx *Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE firms SET status = $1", "ACTIVE")
		return err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	runner := NewRunner(db, nil)
	boom := errors.New("boom")
	err = runner.Run(context.Background(), func(ctx context.Context, tx *Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunReusesAmbientTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// One Begin and one Commit even though Run nests.
	mock.ExpectBegin()
	mock.ExpectCommit()

	runner := NewRunner(db, nil)
	var outer, inner *Tx
	err = runner.Run(context.Background(), func(ctx context.Context, tx *Tx) error {
		outer = tx
		return runner.Run(ctx, func(ctx context.Context, tx *Tx) error {
			inner = tx
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outer != inner {
		t.Error("nested Run opened a second transaction")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunFailsClosedWhenSessionUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	runner := NewRunner(db, nil)
	called := false
	err = runner.Run(context.Background(), func(ctx context.Context, tx *Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if called {
		t.Error("unit of work ran without a transaction")
	}
}

func TestTxFromContext(t *testing.T) {
	if _, ok := TxFromContext(context.Background()); ok {
		t.Error("unexpected ambient transaction")
	}
}
