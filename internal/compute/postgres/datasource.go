package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/meridianhealth/hr-analytics/internal/compute"
	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// DataSource executes compiled metric statements against the HR database.
type DataSource struct {
	db *sql.DB
}

// NewDataSource wraps an existing connection pool.
func NewDataSource(db *sql.DB) *DataSource {
	return &DataSource{db: db}
}

// Open creates the shared connection pool used by the data source and all
// durable adapters.
func Open(dsn string, maxOpenConns, maxIdleConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// Query runs one compiled statement and returns its rows in order.
func (s *DataSource) Query(ctx context.Context, q compute.Query) ([]metric.Row, error) {
	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("execute metric query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read result columns: %w", err)
	}

	var out []metric.Row
	for rows.Next() {
		dest := make([]interface{}, len(columns))
		for i := range dest {
			dest[i] = new(interface{})
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}

		row := make(metric.Row, len(columns))
		for i, col := range columns {
			row[col] = *(dest[i].(*interface{}))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric rows: %w", err)
	}

	return out, nil
}
