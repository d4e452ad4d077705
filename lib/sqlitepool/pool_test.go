// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/conact/conact/lib/sqlitepool"
	"github.com/conact/conact/lib/testutil"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS numbers (value INTEGER NOT NULL);
`

func TestOpenAppliesPragmas(t *testing.T) {
	pool := openTestPool(t, "", nil)

	err := pool.Do(context.Background(), func(conn *sqlite.Conn) error {
		var journalMode string
		err := sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if journalMode != "wal" {
			t.Errorf("journal_mode = %q, want wal", journalMode)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestSchemaAndOnConnect(t *testing.T) {
	var mu sync.Mutex
	connections := 0
	pool := openTestPool(t, testSchema, func(conn *sqlite.Conn) error {
		mu.Lock()
		connections++
		mu.Unlock()
		return nil
	})

	err := pool.Do(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO numbers (value) VALUES (?)", &sqlitex.ExecOptions{
			Args: []any{42},
		})
	})
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if connections == 0 {
		t.Error("OnConnect was not called")
	}
}

func TestConcurrentReads(t *testing.T) {
	pool := openTestPool(t, testSchema, nil)

	err := pool.Do(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `INSERT INTO numbers (value) VALUES (1), (2), (3), (4), (5);`, nil)
	})
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	const goroutineCount = 6
	var waitGroup sync.WaitGroup
	results := make(chan int64, goroutineCount)
	for range goroutineCount {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			var sum int64
			err := pool.Do(context.Background(), func(conn *sqlite.Conn) error {
				return sqlitex.Execute(conn, "SELECT value FROM numbers", &sqlitex.ExecOptions{
					ResultFunc: func(stmt *sqlite.Stmt) error {
						sum += stmt.ColumnInt64(0)
						return nil
					},
				})
			})
			if err != nil {
				t.Errorf("SELECT: %v", err)
			}
			results <- sum
		}()
	}
	waitGroup.Wait()
	close(results)

	for sum := range results {
		if sum != 15 {
			t.Errorf("sum = %d, want 15", sum)
		}
	}
}

func TestDoPropagatesError(t *testing.T) {
	pool := openTestPool(t, "", nil)
	sentinel := errors.New("boom")
	if err := pool.Do(context.Background(), func(*sqlite.Conn) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("Do error = %v, want sentinel", err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestContextCancellation(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     testutil.DatabasePath(t),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}

	pool.Put(conn)
}

func openTestPool(t *testing.T, schema string, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      testutil.DatabasePath(t),
		PoolSize:  3,
		Schema:    schema,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
