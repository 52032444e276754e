package roster

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasplcorrea/EnviaFolha/internal/common"
)

// PostgresSource reads active employees from the relational employee
// directory. Roster order is the insertion order of the employees table.
type PostgresSource struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres creates a pgx pool for the roster database.
func OpenPostgres(ctx context.Context, dsn string, dialTimeout time.Duration, logger *slog.Logger) (*PostgresSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, common.WrapError(err, "parse roster DSN")
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "enviafolha"

	if dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, common.WrapError(err, "connect roster database")
	}
	logger.Info("roster.postgres.connected")
	return &PostgresSource{pool: pool, logger: logger}, nil
}

func (s *PostgresSource) Close() {
	s.pool.Close()
}

func (s *PostgresSource) Load(ctx context.Context) ([]Entry, error) {
	start := time.Now()

	rows, err := s.pool.Query(ctx, `
		SELECT unique_id, full_name, COALESCE(phone_number, '')
		FROM employees
		WHERE is_active
		ORDER BY id`)
	if err != nil {
		return nil, common.WrapError(err, "query employees")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UniqueID, &e.FullName, &e.Phone); err != nil {
			return nil, common.WrapError(err, "scan employee row")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(err, "iterate employees")
	}

	s.logger.Info("roster.postgres.loaded",
		"entries", len(entries),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return entries, nil
}
