package db

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return New(conn), mock
}

func assertMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestQueryMaterializesRowsAndColumns(t *testing.T) {
	database, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT gender, COUNT(*) FROM patients GROUP BY gender`)).
		WillReturnRows(sqlmock.NewRows([]string{"gender", "count"}).
			AddRow("Female", int64(12)).
			AddRow("Male", int64(9)))

	result, err := database.Query(context.Background(), `SELECT gender, COUNT(*) FROM patients GROUP BY gender`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "gender" || result.Columns[1] != "count" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("len(Rows) = %d", len(result.Rows))
	}
	if result.Rows[0][0] != "Female" {
		t.Fatalf("Rows[0][0] = %v", result.Rows[0][0])
	}
	if result.Rows[1][1] != int64(9) {
		t.Fatalf("Rows[1][1] = %v", result.Rows[1][1])
	}
	assertMock(t, mock)
}

func TestQueryConvertsByteSlicesToStrings(t *testing.T) {
	database, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT specialty FROM doctors`)).
		WillReturnRows(sqlmock.NewRows([]string{"specialty"}).AddRow([]byte("Cardiology")))

	result, err := database.Query(context.Background(), `SELECT specialty FROM doctors`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got, ok := result.Rows[0][0].(string); !ok || got != "Cardiology" {
		t.Fatalf("Rows[0][0] = %#v, want string \"Cardiology\"", result.Rows[0][0])
	}
	assertMock(t, mock)
}

func TestQueryRejectsNonReadOnlyStatements(t *testing.T) {
	database, _ := newMock(t)

	for _, statement := range []string{
		"DELETE FROM patients",
		"UPDATE doctors SET specialty = 'x'",
		"DROP TABLE appointments",
		"",
		"   ",
	} {
		_, err := database.Query(context.Background(), statement)
		if !errors.Is(err, ErrNotReadOnly) {
			t.Fatalf("Query(%q) error = %v, want ErrNotReadOnly", statement, err)
		}
	}
}

func TestQueryAllowsCTEs(t *testing.T) {
	database, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WITH recent AS (SELECT 1 AS n) SELECT n FROM recent`)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))

	if _, err := database.Query(context.Background(), `WITH recent AS (SELECT 1 AS n) SELECT n FROM recent`); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	assertMock(t, mock)
}

func TestObserversFireBeforeExecution(t *testing.T) {
	database, mock := newMock(t)

	var seen []string
	database.RegisterObserver(func(_ context.Context, statement string) {
		seen = append(seen, statement)
	})
	database.RegisterObserver(func(_ context.Context, statement string) {
		seen = append(seen, "second:"+statement)
	})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))

	if _, err := database.Query(context.Background(), `SELECT 1`); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(seen) != 2 || seen[0] != "SELECT 1" || seen[1] != "second:SELECT 1" {
		t.Fatalf("observers saw %v", seen)
	}
	assertMock(t, mock)
}

func TestObserversDoNotFireForRejectedStatements(t *testing.T) {
	database, _ := newMock(t)

	fired := false
	database.RegisterObserver(func(context.Context, string) { fired = true })

	if _, err := database.Query(context.Background(), "DELETE FROM patients"); err == nil {
		t.Fatal("expected rejection")
	}
	if fired {
		t.Fatal("observer fired for a rejected statement")
	}
}

func TestIsReadOnly(t *testing.T) {
	cases := map[string]bool{
		"SELECT * FROM t":           true,
		"  select 1":                true,
		"WITH x AS (SELECT 1) SELECT * FROM x": true,
		"INSERT INTO t VALUES (1)":  false,
		"DELETE FROM t":             false,
		"":                          false,
	}
	for statement, want := range cases {
		if got := IsReadOnly(statement); got != want {
			t.Fatalf("IsReadOnly(%q) = %v, want %v", statement, got, want)
		}
	}
}
