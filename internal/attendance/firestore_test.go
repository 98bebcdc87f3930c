package attendance

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
)

// newEmulatorStore returns a store on a fresh collection in the Firestore
// emulator, or skips when no emulator is configured.
func newEmulatorStore(t *testing.T) *FirestoreStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := firestore.NewClient(context.Background(), "attendance-test")
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewFirestoreStore(client, fmt.Sprintf("attendance_test_%d", time.Now().UnixNano()), wib)
}

func TestFirestoreAppendUsesServerTimestamp(t *testing.T) {
	fs := newEmulatorStore(t)
	ctx := context.Background()

	stale := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, err := fs.Append(ctx, Record{SchoolID: "school-1", StudentID: "S1", Name: "Budi", Status: StatusPresent, Timestamp: stale})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Fatal("record has no id")
	}
	if !rec.Timestamp.After(stale) {
		t.Fatalf("timestamp %v was not assigned by the server", rec.Timestamp)
	}

	snap, err := fs.client.Collection(fs.collection).Doc(rec.ID).Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	stored, ok := snap.Data()["timestamp"].(time.Time)
	if !ok {
		t.Fatalf("stored timestamp has type %T", snap.Data()["timestamp"])
	}
	if d := stored.Sub(rec.Timestamp); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("stored timestamp %v, write result %v", stored, rec.Timestamp)
	}
}

func TestFirestoreListFiltersAndOrders(t *testing.T) {
	fs := newEmulatorStore(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	for _, r := range []Record{
		{SchoolID: "school-1", StudentID: "early", Name: "early"},
		{SchoolID: "school-2", StudentID: "other", Name: "other"},
		{SchoolID: "school-1", StudentID: "late", Name: "late"},
	} {
		if _, err := fs.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := fs.List(ctx, Query{SchoolID: "school-1", Since: since})
	if err != nil {
		t.Fatal(err)
	}
	rows := MapRows(docs, wib)
	if len(rows) != 2 || rows[0].Name != "late" || rows[1].Name != "early" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	docs, err = fs.List(ctx, Query{SchoolID: "school-1", Since: since, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Data["name"] != "late" {
		t.Fatalf("limit not applied: %+v", docs)
	}

	docs, err = fs.List(ctx, Query{SchoolID: "school-1", Since: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Fatalf("records before since returned: %+v", docs)
	}
}

func TestFirestoreWatchPushesFullSet(t *testing.T) {
	fs := newEmulatorStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := fs.Append(ctx, Record{SchoolID: "school-1", StudentID: "S1", Name: "Budi"}); err != nil {
		t.Fatal(err)
	}

	updates := make(chan []Row, 16)
	done := make(chan error, 1)
	go func() {
		done <- fs.Watch(ctx, Query{SchoolID: "school-1", Since: time.Now().Add(-time.Hour)}, func(rows []Row) { updates <- rows })
	}()

	waitFor := func(n int) []Row {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case rows := <-updates:
				if len(rows) == n {
					return rows
				}
			case <-deadline:
				t.Fatalf("no snapshot with %d rows", n)
				return nil
			}
		}
	}

	waitFor(1)
	if _, err := fs.Append(ctx, Record{SchoolID: "school-1", StudentID: "S2", Name: "Sari"}); err != nil {
		t.Fatal(err)
	}
	rows := waitFor(2)
	if rows[0].Name != "Sari" || rows[1].Name != "Budi" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
