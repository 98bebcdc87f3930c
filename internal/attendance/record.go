package attendance

import (
	"context"
	"time"
)

// StatusPresent is the only status the validator ever writes.
const StatusPresent = "PRESENT"

const (
	defaultClassName = "General"
	defaultGrade     = "-"
)

// Request is the payload a mobile client submits to secureCheckIn.
type Request struct {
	StudentID string  `json:"studentId"`
	Name      string  `json:"name"`
	Distance  float64 `json:"distance"`
	IsoKey    string  `json:"isoKey"`
	ClassName string  `json:"className"`
	Grade     string  `json:"grade"`
	SchoolID  string  `json:"schoolId"`
}

// Record is one accepted check-in as persisted in the attendance collection.
// Timestamp is always assigned by the store.
type Record struct {
	ID            string    `firestore:"-" json:"id"`
	SchoolID      string    `firestore:"schoolId" json:"schoolId"`
	StudentID     string    `firestore:"studentId" json:"studentId"`
	Name          string    `firestore:"name" json:"name"`
	ClassName     string    `firestore:"className" json:"className"`
	GradeName     string    `firestore:"gradeName" json:"gradeName"`
	Timestamp     time.Time `firestore:"timestamp,serverTimestamp" json:"timestamp"`
	Status        string    `firestore:"status" json:"status"`
	DistanceScore float64   `firestore:"distanceScore" json:"distanceScore"`
	VerifiedBy    string    `firestore:"verifiedBy" json:"verifiedBy"`
}

// Result is returned to the caller when a check-in is accepted.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Query selects the records a dashboard shows: one school, from Since onwards,
// newest first.
type Query struct {
	SchoolID string
	Since    time.Time
	Limit    int
}

// Document is a stored record in its raw, schemaless form. Fields may be
// missing on documents not written by this service.
type Document struct {
	ID   string
	Data map[string]any
}

// Store persists attendance records. Implementations must assign the record
// timestamp themselves.
type Store interface {
	Append(ctx context.Context, rec Record) (Record, error)
	List(ctx context.Context, q Query) ([]Document, error)
	Healthy(ctx context.Context) bool
}

// Watcher delivers the full visible set of rows for a query every time the
// underlying data changes. Watch blocks until ctx is done or the stream fails.
type Watcher interface {
	Watch(ctx context.Context, q Query, fn func([]Row)) error
}

func (r Record) document() Document {
	return Document{
		ID: r.ID,
		Data: map[string]any{
			"schoolId":      r.SchoolID,
			"studentId":     r.StudentID,
			"name":          r.Name,
			"className":     r.ClassName,
			"gradeName":     r.GradeName,
			"timestamp":     r.Timestamp,
			"status":        r.Status,
			"distanceScore": r.DistanceScore,
			"verifiedBy":    r.VerifiedBy,
		},
	}
}
