package procedure

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockStore(t *testing.T, driver, table string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(sqlx.NewDb(db, driver), table, StepOptions{RequiresConfirmation: true}, logger), mock
}

func TestInstructionsQuery(t *testing.T) {
	tests := []struct {
		driver string
		table  string
		want   string
	}{
		{DriverMySQL, "instructions", "SELECT `ID`, `StepNum`, `InstructionText` FROM `instructions` ORDER BY `StepNum`, `ID`"},
		{DriverPostgres, "instructions", `SELECT "ID", "StepNum", "InstructionText" FROM "instructions" ORDER BY "StepNum", "ID"`},
		{DriverMySQL, "mech_ai_db.instructions", "SELECT `ID`, `StepNum`, `InstructionText` FROM `mech_ai_db`.`instructions` ORDER BY `StepNum`, `ID`"},
	}
	for _, tt := range tests {
		t.Run(tt.driver+"/"+tt.table, func(t *testing.T) {
			if got := instructionsQuery(tt.driver, tt.table); got != tt.want {
				t.Errorf("query = %s\nwant    %s", got, tt.want)
			}
		})
	}
}

func TestStoreScriptMySQL(t *testing.T) {
	store, mock := newMockStore(t, DriverMySQL, "")
	mock.ExpectQuery(instructionsQuery(DriverMySQL, "instructions")).
		WillReturnRows(sqlmock.NewRows([]string{"ID", "StepNum", "InstructionText"}).
			AddRow(4, 1, "Lift the car").
			AddRow(2, 2, "Loosen the lug nuts"))

	s, err := store.Script(context.Background(), "Tire change", DefaultMessages())
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}
	if s.Len() != 2 || s.Steps[0].StepBody != "Lift the car" || s.Steps[1].StepTitle != "Step 2" {
		t.Errorf("steps = %+v", s.Steps)
	}
	if !s.Steps[0].RequiresConfirmation || s.Greeting != DefaultMessages().Greeting {
		t.Errorf("script = %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStoreScriptEmptyTable(t *testing.T) {
	store, mock := newMockStore(t, DriverPostgres, "instructions")
	mock.ExpectQuery(instructionsQuery(DriverPostgres, "instructions")).
		WillReturnRows(sqlmock.NewRows([]string{"ID", "StepNum", "InstructionText"}))

	s, err := store.Script(context.Background(), "Nothing yet", DefaultMessages())
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("steps = %d, want 0", s.Len())
	}
}

func TestStoreRowsError(t *testing.T) {
	store, mock := newMockStore(t, DriverMySQL, "instructions")
	boom := errors.New("connection reset")
	mock.ExpectQuery(instructionsQuery(DriverMySQL, "instructions")).WillReturnError(boom)

	if _, err := store.Rows(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Rows() error = %v, want %v", err, boom)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "sqlite", "file.db"); !errors.Is(err, ErrUnsupportedDriver) {
		t.Errorf("Open() error = %v, want ErrUnsupportedDriver", err)
	}
}
