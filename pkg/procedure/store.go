package procedure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned by Open for drivers other than mysql and postgres.
var ErrUnsupportedDriver = errors.New("procedure: unsupported database driver")

// InstructionRow is one row of the instructions table.
type InstructionRow struct {
	ID              int    `db:"ID"`
	StepNum         int    `db:"StepNum"`
	InstructionText string `db:"InstructionText"`
}

// Store loads procedure steps from a SQL database.
type Store struct {
	db     *sqlx.DB
	table  string
	opts   StepOptions
	logger *slog.Logger
}

// StepOptions controls how instruction rows become demo steps.
type StepOptions struct {
	// RequiresConfirmation is applied to every step.
	RequiresConfirmation bool

	// MinDurationSeconds is applied to every step.
	MinDurationSeconds float64
}

// Open connects with driver, mysql when empty. MySQL DSNs use the
// go-sql-driver form, e.g. user:password@tcp(db:3306)/mech_ai_db.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if driver == "" {
		driver = DriverMySQL
	}
	if driver != DriverMySQL && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("procedure: connect: %w", err)
	}
	return db, nil
}

// NewStore creates a store reading from the given table ("instructions" when empty).
func NewStore(db *sqlx.DB, table string, opts StepOptions, logger *slog.Logger) *Store {
	if table == "" {
		table = "instructions"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		table:  table,
		opts:   opts,
		logger: logger.With("component", "procedure.store"),
	}
}

// Rows returns every instruction ordered by step number.
func (s *Store) Rows(ctx context.Context) ([]InstructionRow, error) {
	var rows []InstructionRow
	query := instructionsQuery(s.db.DriverName(), s.table)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		s.logger.Error("select instructions failed", "error", err)
		return nil, fmt.Errorf("procedure: select instructions: %w", err)
	}
	return rows, nil
}

// Script builds a full script titled title from the stored instructions.
func (s *Store) Script(ctx context.Context, title string, msgs Messages) (*Script, error) {
	rows, err := s.Rows(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		s.logger.Warn("instructions table is empty", "table", s.table)
	}

	script := &Script{
		Title:         title,
		Steps:         StepsFromRows(title, rows, s.opts),
		Greeting:      msgs.Greeting,
		FirstResponse: msgs.FirstResponse,
		Completion:    msgs.Completion,
		Error:         msgs.Error,
	}
	script.ApplyDefaults()
	if err := Validate(script); err != nil {
		return nil, err
	}

	s.logger.Info("loaded procedure", "title", title, "steps", len(script.Steps))
	return script, nil
}

// StepsFromRows maps instruction rows to demo steps in row order.
func StepsFromRows(title string, rows []InstructionRow, opts StepOptions) []DemoStep {
	steps := make([]DemoStep, 0, len(rows))
	for _, r := range rows {
		steps = append(steps, DemoStep{
			ProcedureTitle:       title,
			StepTitle:            fmt.Sprintf("Step %d", r.StepNum),
			StepBody:             r.InstructionText,
			MinDurationSeconds:   opts.MinDurationSeconds,
			RequiresConfirmation: opts.RequiresConfirmation,
		})
	}
	return steps
}

// instructionsQuery selects the instruction columns with identifiers quoted
// for driver. The columns are mixed case, which Postgres folds unless quoted.
func instructionsQuery(driver, table string) string {
	q := func(name string) string { return quoteIdent(driver, name) }
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = q(p)
	}
	return fmt.Sprintf("SELECT %s, %s, %s FROM %s ORDER BY %s, %s",
		q("ID"), q("StepNum"), q("InstructionText"), strings.Join(parts, "."), q("StepNum"), q("ID"))
}

func quoteIdent(driver, name string) string {
	if driver == DriverPostgres {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
