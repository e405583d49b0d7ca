package database

import (
	"database/sql"
	"fmt"
	"time"

	"pdfmark/pkg/logger"

	_ "github.com/lib/pq"
)

// Schema creates the export ledger table when missing.
const Schema = `
CREATE TABLE IF NOT EXISTS exports (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	session_id      TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	document_name   TEXT NOT NULL,
	page_count      INTEGER NOT NULL,
	annotation_count INTEGER NOT NULL,
	byte_size       BIGINT NOT NULL,
	archive_uri     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Connect opens a Postgres pool for dsn and waits for it to answer.
func Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.Ping(); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			break
		}
		logger.Sugar.Infof("Database connection failed, retrying in 2s... (%v)", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database after retries: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate exports table: %w", err)
	}
	return db, nil
}
