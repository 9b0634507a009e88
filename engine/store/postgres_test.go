package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresWithDB(sqlx.NewDb(db, "sqlmock"), 4), mock
}

func TestPostgresBulkRead(t *testing.T) {
	p, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"id", "title", "sha", "embedding"}).
		AddRow("p-1", "boot loop", "sha1", "[1,0,0,0]").
		AddRow("p-2", "disk full", "sha2", "[0,1,0,0]")
	mock.ExpectQuery("FROM problem_vectors ORDER BY id").WillReturnRows(rows)

	recs, err := p.BulkRead(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != "p-1" || recs[0].Vector[0] != 1 {
		t.Errorf("wrong first record: %+v", recs[0])
	}
	if recs[1].Meta[MetaTitle] != "disk full" {
		t.Errorf("wrong meta: %v", recs[1].Meta)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresBulkRead_MalformedVector(t *testing.T) {
	p, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"id", "title", "sha", "embedding"}).
		AddRow("p-1", "t", "s", "not a vector")
	mock.ExpectQuery("FROM problem_vectors ORDER BY id").WillReturnRows(rows)

	if _, err := p.BulkRead(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPostgresGet(t *testing.T) {
	p, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"id", "title", "sha", "embedding"}).
		AddRow("p-1", "boot loop", "sha1", "[0.5,0.5,0,0]")
	mock.ExpectQuery("FROM problem_vectors WHERE id").
		WithArgs("p-1").
		WillReturnRows(rows)

	rec, found, err := p.Get(context.Background(), "p-1")
	if err != nil || !found {
		t.Fatalf("expected record, got found=%v err=%v", found, err)
	}
	if rec.Meta[MetaSHA] != "sha1" {
		t.Errorf("wrong sha: %v", rec.Meta)
	}
	if len(rec.Vector) != 4 {
		t.Errorf("wrong vector: %v", rec.Vector)
	}
}

func TestPostgresGet_Missing(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectQuery("FROM problem_vectors WHERE id").
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "sha", "embedding"}))

	_, found, err := p.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("missing row should not be an error, got %v", err)
	}
	if found {
		t.Error("expected found=false")
	}
}

func TestPostgresUpsert(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO problem_vectors").
		WithArgs("p-1", "boot loop", "sha1", "[1,0,0,0]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := Record{
		ID:     "p-1",
		Vector: []float32{1, 0, 0, 0},
		Meta:   map[string]string{MetaTitle: "boot loop", MetaSHA: "sha1"},
	}
	if err := p.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresDelete(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectExec("DELETE FROM problem_vectors").
		WithArgs("p-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := p.Delete(context.Background(), "p-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
