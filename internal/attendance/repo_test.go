package attendance

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"attendance-guard/internal/store"
)

// newTestPostgresStore creates a store on a fresh table, or skips when
// ATTENDANCE_TEST_DATABASE_URL is unset.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("ATTENDANCE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ATTENDANCE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, url, 5*time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	table := fmt.Sprintf("attendance_test_%d", time.Now().UnixNano())
	pg, err := NewPostgresStore(db.Client, table)
	if err != nil {
		t.Fatal(err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Client.Exec("DROP TABLE IF EXISTS " + table)
		_ = db.Close()
	})
	return pg
}

func TestNewPostgresStoreRejectsBadTableName(t *testing.T) {
	for _, name := range []string{"logs; DROP TABLE x", "Attendance", "1logs"} {
		if _, err := NewPostgresStore(nil, name); err == nil {
			t.Errorf("table name %q accepted", name)
		}
	}
}

func TestPostgresAppendAssignsTimestamp(t *testing.T) {
	pg := newTestPostgresStore(t)
	ctx := context.Background()

	stale := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	a, err := pg.Append(ctx, Record{SchoolID: "school-1", StudentID: "S1", Name: "Budi", Status: StatusPresent, Timestamp: stale})
	if err != nil {
		t.Fatal(err)
	}
	b, err := pg.Append(ctx, Record{SchoolID: "school-1", StudentID: "S2", Name: "Sari", Status: StatusPresent})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids not assigned: %q %q", a.ID, b.ID)
	}
	if !a.Timestamp.After(stale) {
		t.Fatalf("timestamp %v was not assigned by the database", a.Timestamp)
	}
	if !b.Timestamp.After(a.Timestamp) {
		t.Fatalf("timestamps not increasing: %v then %v", a.Timestamp, b.Timestamp)
	}

	docs, err := pg.List(ctx, Query{SchoolID: "school-1", Since: a.Timestamp})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[1].ID != a.ID {
		t.Fatalf("unexpected docs %+v", docs)
	}
	if got, _ := docs[1].Data["timestamp"].(time.Time); !got.Equal(a.Timestamp) {
		t.Fatalf("listed timestamp %v, returned %v", got, a.Timestamp)
	}
}

func TestPostgresAppendRequiresStudent(t *testing.T) {
	pg := newTestPostgresStore(t)
	if _, err := pg.Append(context.Background(), Record{SchoolID: "school-1"}); err == nil {
		t.Fatal("record without student accepted")
	}
}

func TestPostgresListFiltersOrdersAndLimits(t *testing.T) {
	pg := newTestPostgresStore(t)
	ctx := context.Background()

	var saved []Record
	for _, r := range []Record{
		{SchoolID: "school-1", StudentID: "first", Name: "first"},
		{SchoolID: "school-1", StudentID: "second", Name: "second", ClassName: "X-1"},
		{SchoolID: "school-2", StudentID: "other", Name: "other"},
		{SchoolID: "school-1", StudentID: "third", Name: "third"},
	} {
		rec, err := pg.Append(ctx, r)
		if err != nil {
			t.Fatal(err)
		}
		saved = append(saved, rec)
	}

	docs, err := pg.List(ctx, Query{SchoolID: "school-1", Since: time.Unix(0, 0)})
	if err != nil {
		t.Fatal(err)
	}
	rows := MapRows(docs, wib)
	if len(rows) != 3 || rows[0].Name != "third" || rows[1].Name != "second" || rows[2].Name != "first" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if rows[1].ClassName != "X-1" || rows[0].Status != "ALPHA" {
		t.Fatalf("fields not mapped: %+v", rows)
	}

	docs, err = pg.List(ctx, Query{SchoolID: "school-1", Since: saved[1].Timestamp})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("since filter returned %d docs", len(docs))
	}

	docs, err = pg.List(ctx, Query{SchoolID: "school-1", Since: time.Unix(0, 0), Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Data["name"] != "third" {
		t.Fatalf("limit not applied: %+v", docs)
	}
}
