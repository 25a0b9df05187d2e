package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/thatsimonsguy/blinds-controller/internal/model"
)

var ErrNoDeviceConfiguration = errors.New("no cached device configuration")

// GetBlinds returns every cached blind ordered by id.
func GetBlinds(db *sql.DB) ([]model.BlindRecord, error) {
	rows, err := db.Query(`SELECT id, position, runtime_up, runtime_down, pass_up, pass_down FROM blinds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blinds: %w", err)
	}
	defer rows.Close()

	var blinds []model.BlindRecord
	for rows.Next() {
		var b model.BlindRecord
		if err := rows.Scan(&b.ID, &b.Position, &b.RuntimeUp, &b.RuntimeDown, &b.PassUp, &b.PassDown); err != nil {
			return nil, fmt.Errorf("failed to scan blind: %w", err)
		}
		blinds = append(blinds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blinds: %w", err)
	}
	return blinds, nil
}

func GetBlindByID(db *sql.DB, id int) (*model.BlindRecord, error) {
	var b model.BlindRecord
	err := db.QueryRow(`SELECT id, position, runtime_up, runtime_down, pass_up, pass_down FROM blinds WHERE id = ?`, id).
		Scan(&b.ID, &b.Position, &b.RuntimeUp, &b.RuntimeDown, &b.PassUp, &b.PassDown)
	if err != nil {
		return nil, fmt.Errorf("failed to get blind %d: %w", id, err)
	}
	return &b, nil
}

func GetDeviceConfiguration(db *sql.DB) (model.DeviceConfiguration, error) {
	var c model.DeviceConfiguration
	err := db.QueryRow(`SELECT mqtt_server, mqtt_port, mqtt_user, mqtt_password, ntp_server FROM device WHERE id = 1`).
		Scan(&c.MQTTServer, &c.MQTTPort, &c.MQTTUser, &c.MQTTPassword, &c.NTPServer)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNoDeviceConfiguration
	}
	if err != nil {
		return c, fmt.Errorf("failed to get device configuration: %w", err)
	}
	return c, nil
}
