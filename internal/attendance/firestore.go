package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps attendance records in a Firestore collection. It also
// serves live dashboards through Firestore query snapshots.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	loc        *time.Location
}

// NewFirestoreStore wraps an already constructed client. loc is used to render
// dashboard rows from snapshots.
func NewFirestoreStore(client *firestore.Client, collection string, loc *time.Location) *FirestoreStore {
	if collection == "" {
		collection = "attendance_logs"
	}
	return &FirestoreStore{client: client, collection: collection, loc: loc}
}

// Append adds rec as a new document. The timestamp field is a server timestamp
// and is read back from the write result.
func (f *FirestoreStore) Append(ctx context.Context, rec Record) (Record, error) {
	rec.Timestamp = time.Time{}
	ref, wr, err := f.client.Collection(f.collection).Add(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	rec.ID = ref.ID
	rec.Timestamp = wr.UpdateTime
	return rec, nil
}

func (f *FirestoreStore) query(q Query) firestore.Query {
	fq := f.client.Collection(f.collection).
		Where("schoolId", "==", q.SchoolID).
		Where("timestamp", ">=", q.Since).
		OrderBy("timestamp", firestore.Desc)
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

// List runs the dashboard query once.
func (f *FirestoreStore) List(ctx context.Context, q Query) ([]Document, error) {
	iter := f.query(q).Documents(ctx)
	defer iter.Stop()
	var docs []Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return docs, nil
}

// Watch implements Watcher with Firestore query snapshots; every snapshot is
// delivered as the complete row set.
func (f *FirestoreStore) Watch(ctx context.Context, q Query, fn func([]Row)) error {
	it := f.query(q).Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("snapshot: %w", err)
		}
		all, err := snap.Documents.GetAll()
		if err != nil {
			return fmt.Errorf("snapshot documents: %w", err)
		}
		docs := make([]Document, 0, len(all))
		for _, d := range all {
			docs = append(docs, Document{ID: d.Ref.ID, Data: d.Data()})
		}
		fn(MapRows(docs, f.loc))
	}
}

// Healthy reads at most one document from the collection.
func (f *FirestoreStore) Healthy(ctx context.Context) bool {
	if f == nil || f.client == nil {
		return false
	}
	iter := f.client.Collection(f.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	_, err := iter.Next()
	return err == nil || errors.Is(err, iterator.Done)
}
