package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS blinds (
	id INTEGER PRIMARY KEY,
	position INTEGER NOT NULL DEFAULT 0,
	runtime_up INTEGER NOT NULL DEFAULT 0,
	runtime_down INTEGER NOT NULL DEFAULT 0,
	pass_up INTEGER NOT NULL DEFAULT 0,
	pass_down INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS device (
	id INTEGER PRIMARY KEY CHECK(id=1),
	mqtt_server TEXT NOT NULL DEFAULT '',
	mqtt_port INTEGER NOT NULL DEFAULT 0,
	mqtt_user TEXT NOT NULL DEFAULT '',
	mqtt_password TEXT NOT NULL DEFAULT '',
	ntp_server TEXT NOT NULL DEFAULT ''
);
`

// Open opens the local cache at path and makes sure the schema exists.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; serialise through a single connection
	conn.SetMaxOpenConns(1)

	if err := ApplyMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("Blind cache opened")
	return conn, nil
}

func ApplyMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
