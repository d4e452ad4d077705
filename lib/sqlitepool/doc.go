// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind
// Conact's local storage (participant volume and mute preferences,
// device selection).
//
// It wraps zombiezen.com/go/sqlite with fixed defaults:
//
//   - journal_mode=WAL: the UI can read preferences while a write from
//     the voice controller is in progress.
//   - synchronous=NORMAL: writes survive a client crash; losing the last
//     volume change on power failure is acceptable.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock.
//   - temp_store=MEMORY.
//
// Callers either [Pool.Take] and [Pool.Put] a connection themselves or
// hand a function to [Pool.Do]. Connections are not safe for concurrent
// use.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(dataDir, "preferences.db"),
//	    Schema: schema,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Do(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "DELETE FROM participant_mute", nil)
//	})
package sqlitepool
