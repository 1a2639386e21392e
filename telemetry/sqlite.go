package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps flow records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases consistent.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flow_records (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session     TEXT NOT NULL,
			frame       BIGINT,
			time_ns     BIGINT,
			hx          DOUBLE,
			hy          DOUBLE,
			output_hx   DOUBLE,
			output_hy   DOUBLE,
			magnitude   DOUBLE
		);
		CREATE INDEX IF NOT EXISTS idx_flow_records_session ON flow_records (session);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create flow_records: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, records []FlowRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flow_records (session, frame, time_ns, hx, hy, output_hx, output_hy, magnitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Session, int64(r.Frame), r.Time.UnixNano(),
			r.Hx, r.Hy, r.OutputHx, r.OutputHy, r.Magnitude); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert frame %d: %w", r.Frame, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Recent(ctx context.Context, session string, limit int) ([]FlowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, frame, time_ns, hx, hy, output_hx, output_hy, magnitude
		FROM flow_records WHERE session = ? ORDER BY id DESC LIMIT ?`, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FlowRecord
	for rows.Next() {
		var r FlowRecord
		var id, frame, ns int64
		if err := rows.Scan(&id, &r.Session, &frame, &ns, &r.Hx, &r.Hy, &r.OutputHx, &r.OutputHy, &r.Magnitude); err != nil {
			return nil, err
		}
		r.ID = uint(id)
		r.Frame = uint64(frame)
		r.Time = time.Unix(0, ns)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(records)
	return records, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Gorm returns a gorm handle on the store's connection, for tables owned by
// other packages such as web push subscribers. Close the store, not the
// handle.
func (s *SQLiteStore) Gorm() (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{Conn: s.db}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}
