package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/blinds-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// SaveBlinds replaces the cached blind list with the backend's.
func SaveBlinds(db *sql.DB, blinds []model.BlindRecord) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM blinds`); err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("clear blinds: %w", err)
	}
	for _, b := range blinds {
		_, err := tx.Exec(`INSERT INTO blinds (id, position, runtime_up, runtime_down, pass_up, pass_down, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.Position, b.RuntimeUp, b.RuntimeDown, b.PassUp, b.PassDown, now())
		if err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("insert blind %d: %w", b.ID, err)
		}
	}
	return CommitTransaction(tx)
}

func SaveDeviceConfiguration(db *sql.DB, c model.DeviceConfiguration) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO device (id, mqtt_server, mqtt_port, mqtt_user, mqtt_password, ntp_server) VALUES (1, ?, ?, ?, ?, ?)`,
		c.MQTTServer, c.MQTTPort, c.MQTTUser, c.MQTTPassword, c.NTPServer)
	if err != nil {
		return fmt.Errorf("save device configuration: %w", err)
	}
	return nil
}

func UpdatePosition(db *sql.DB, id, position int) error {
	return updateBlind(db, id, `UPDATE blinds SET position = ?, updated_at = ? WHERE id = ?`, position, now(), id)
}

// UpdateCalibration stores measured runtimes; calibration always ends at the top.
func UpdateCalibration(db *sql.DB, id, runtimeUp, runtimeDown int) error {
	return updateBlind(db, id, `UPDATE blinds SET position = 0, runtime_up = ?, runtime_down = ?, updated_at = ? WHERE id = ?`,
		runtimeUp, runtimeDown, now(), id)
}

func updateBlind(db *sql.DB, id int, query string, args ...interface{}) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	res, err := tx.Exec(query, args...)
	if err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("update blind %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		RollbackTransaction(tx)
		return fmt.Errorf("update blind %d: %w", id, sql.ErrNoRows)
	}
	return CommitTransaction(tx)
}
