package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/tvaroska/docstate-go/docstate/document"
)

// openMySQL connects to the database named by MYSQL_DSN, skipping the test
// when the variable is unset. Example:
//
//	MYSQL_DSN="user:pass@tcp(localhost:3306)/docstate_test" go test ./...
func openMySQL(t *testing.T) *MySQLStore {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set, skipping MySQL integration test")
	}
	st, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMySQLStore_Contract(t *testing.T) {
	st := openMySQL(t)
	ctx := context.Background()

	root := &document.Document{State: "link", Content: "root", Metadata: map[string]any{"suite": "mysql"}}
	ids, err := st.Add(ctx, root)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	defer func() { _ = st.Delete(ctx, root.ID) }()

	got, err := st.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "root" || got.Metadata["suite"] != "mysql" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := st.Add(ctx, &document.Document{ID: root.ID, State: "link"}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	child := &document.Document{State: "download", ParentID: root.ID}
	if _, err := st.Add(ctx, child); err != nil {
		t.Fatalf("Add child failed: %v", err)
	}

	if err := st.Delete(ctx, root.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := st.Get(ctx, child.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected cascade to remove child, got %v", err)
	}
}

func TestMySQLStore_Stats(t *testing.T) {
	st := openMySQL(t)
	stats := st.Stats()
	if stats.MaxOpenConnections <= 0 {
		t.Errorf("expected a bounded pool, got MaxOpenConnections=%d", stats.MaxOpenConnections)
	}
}
