package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore persists attendance records in Postgres.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore creates a store writing to table.
func NewPostgresStore(db *sql.DB, table string) (*PostgresStore, error) {
	if table == "" {
		table = "attendance_logs"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{db: db, table: table}, nil
}

// EnsureSchema creates the records table and its dashboard index.
func (r *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id             TEXT PRIMARY KEY,
			school_id      TEXT NOT NULL,
			student_id     TEXT NOT NULL,
			name           TEXT,
			class_name     TEXT,
			grade_name     TEXT,
			status         TEXT,
			distance_score DOUBLE PRECISION NOT NULL,
			verified_by    TEXT NOT NULL,
			timestamp      TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_school_ts ON %[1]s (school_id, timestamp DESC);
	`, r.table))
	return err
}

// Append inserts rec; the database assigns the timestamp.
func (r *PostgresStore) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.StudentID == "" {
		return Record{}, errors.New("student id required")
	}
	rec.ID = uuid.NewString()
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, school_id, student_id, name, class_name, grade_name, status, distance_score, verified_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING timestamp
	`, r.table), rec.ID, rec.SchoolID, rec.StudentID, rec.Name, rec.ClassName, rec.GradeName, rec.Status, rec.DistanceScore, rec.VerifiedBy)
	if err := row.Scan(&rec.Timestamp); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns a school's records since q.Since, newest first.
func (r *PostgresStore) List(ctx context.Context, q Query) ([]Document, error) {
	query := fmt.Sprintf(`
		SELECT id, name, class_name, status, timestamp
		FROM %s
		WHERE school_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC`, r.table)
	args := []any{q.SchoolID, q.Since}
	if q.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Document
	for rows.Next() {
		var id string
		var name, className, statusCol sql.NullString
		var ts sql.NullTime
		if err := rows.Scan(&id, &name, &className, &statusCol, &ts); err != nil {
			return nil, err
		}
		data := map[string]any{}
		if name.Valid {
			data["name"] = name.String
		}
		if className.Valid {
			data["className"] = className.String
		}
		if statusCol.Valid {
			data["status"] = statusCol.String
		}
		if ts.Valid {
			data["timestamp"] = ts.Time
		}
		res = append(res, Document{ID: id, Data: data})
	}
	return res, rows.Err()
}

// Healthy pings the database.
func (r *PostgresStore) Healthy(ctx context.Context) bool {
	return r.db != nil && r.db.PingContext(ctx) == nil
}
