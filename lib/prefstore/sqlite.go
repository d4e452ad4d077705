// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package prefstore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/conact/conact/lib/notify"
	"github.com/conact/conact/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS participant_volume (
	identity TEXT PRIMARY KEY,
	volume   INTEGER NOT NULL CHECK (volume BETWEEN 0 AND 100)
);
CREATE TABLE IF NOT EXISTS participant_mute (
	identity TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS device_setting (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Keys in the device_setting table.
const (
	settingAudioInput       = "audio_input"
	settingAudioOutput      = "audio_output"
	settingVideoInput       = "video_input"
	settingNoiseSuppression = "noise_suppression"
)

// SQLiteConfig holds the parameters for opening a SQLite store.
type SQLiteConfig struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// Logger receives write failures and pool messages. Nil discards.
	Logger *slog.Logger
}

// SQLite is a Store persisted to a SQLite database file.
type SQLite struct {
	pool    *sqlitepool.Pool
	logger  *slog.Logger
	changes notify.Broadcaster[Change]
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the preference database at
// cfg.Path. The caller must call Close.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: logger,
		Schema: schema,
	})
	if err != nil {
		return nil, fmt.Errorf("prefstore: %w", err)
	}

	store := &SQLite{pool: pool, logger: logger}
	store.changes.SetLogger(logger)
	return store, nil
}

func (s *SQLite) Load(ctx context.Context) (Preferences, error) {
	preferences := Preferences{}.Clone()

	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "SELECT identity, volume FROM participant_volume", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				preferences.Volumes[stmt.ColumnText(0)] = stmt.ColumnInt(1)
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("reading volumes: %w", err)
		}

		err = sqlitex.Execute(conn, "SELECT identity FROM participant_mute", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				preferences.Muted[stmt.ColumnText(0)] = true
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("reading mutes: %w", err)
		}

		err = sqlitex.Execute(conn, "SELECT key, value FROM device_setting", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				applySetting(&preferences.Devices, stmt.ColumnText(0), stmt.ColumnText(1))
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("reading device settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return Preferences{}, fmt.Errorf("prefstore: load: %w", err)
	}
	return preferences, nil
}

func (s *SQLite) SetVolume(ctx context.Context, identity string, volume int) error {
	volume = ClampVolume(volume)
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO participant_volume (identity, volume) VALUES (?, ?)
			 ON CONFLICT(identity) DO UPDATE SET volume = excluded.volume`,
			&sqlitex.ExecOptions{Args: []any{identity, volume}})
	})
	if err != nil {
		return fmt.Errorf("prefstore: set volume for %s: %w", identity, err)
	}
	s.changes.Notify(Change{Kind: ChangeVolume, Identity: identity, Volume: volume})
	return nil
}

func (s *SQLite) SetMuted(ctx context.Context, identity string, muted bool) error {
	query := "DELETE FROM participant_mute WHERE identity = ?"
	if muted {
		query = "INSERT OR IGNORE INTO participant_mute (identity) VALUES (?)"
	}
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: []any{identity}})
	})
	if err != nil {
		return fmt.Errorf("prefstore: set muted for %s: %w", identity, err)
	}
	s.changes.Notify(Change{Kind: ChangeMuted, Identity: identity, Muted: muted})
	return nil
}

func (s *SQLite) SetDevices(ctx context.Context, devices Devices) error {
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer endTransaction(&err)

		for key, value := range deviceSettings(devices) {
			if value == "" {
				err = sqlitex.Execute(conn, "DELETE FROM device_setting WHERE key = ?",
					&sqlitex.ExecOptions{Args: []any{key}})
			} else {
				err = sqlitex.Execute(conn,
					`INSERT INTO device_setting (key, value) VALUES (?, ?)
					 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
					&sqlitex.ExecOptions{Args: []any{key, value}})
			}
			if err != nil {
				return fmt.Errorf("writing %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("prefstore: set devices: %w", err)
	}
	s.changes.Notify(Change{Kind: ChangeDevices, Devices: devices.clone()})
	return nil
}

func (s *SQLite) Subscribe(fn func(Change)) (unsubscribe func()) {
	return s.changes.Subscribe(fn)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.pool.Close()
}

// deviceSettings flattens devices into device_setting rows. An empty
// value means the row is deleted.
func deviceSettings(devices Devices) map[string]string {
	settings := map[string]string{
		settingAudioInput:       devices.AudioInput,
		settingAudioOutput:      devices.AudioOutput,
		settingVideoInput:       devices.VideoInput,
		settingNoiseSuppression: "",
	}
	if devices.NoiseSuppression != nil {
		settings[settingNoiseSuppression] = "0"
		if *devices.NoiseSuppression {
			settings[settingNoiseSuppression] = "1"
		}
	}
	return settings
}

func applySetting(devices *Devices, key, value string) {
	switch key {
	case settingAudioInput:
		devices.AudioInput = value
	case settingAudioOutput:
		devices.AudioOutput = value
	case settingVideoInput:
		devices.VideoInput = value
	case settingNoiseSuppression:
		enabled := value == "1"
		devices.NoiseSuppression = &enabled
	}
}
