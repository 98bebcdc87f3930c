package attendance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"attendance-guard/internal/queue"
)

// Row is one line of the live attendance dashboard.
type Row struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Time      string `json:"time"`
	ClassName string `json:"className"`
}

// TodayQuery selects a school's records from the start of now's day in loc.
func TodayQuery(schoolID string, now time.Time, loc *time.Location) Query {
	return Query{SchoolID: schoolID, Since: dayStart(now, loc, 0)}
}

// UntilNextDay returns how long after now the next day starts in loc. A live
// query built by TodayQuery goes stale at that point.
func UntilNextDay(now time.Time, loc *time.Location) time.Duration {
	return dayStart(now, loc, 1).Sub(now)
}

func dayStart(now time.Time, loc *time.Location, days int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+days, 0, 0, 0, 0, loc)
}

// MapRow converts a raw document into a dashboard row, filling in display
// defaults for missing fields.
func MapRow(doc Document, loc *time.Location) Row {
	if loc == nil {
		loc = time.UTC
	}
	row := Row{
		ID:        doc.ID,
		Name:      stringField(doc.Data, "name", "Unknown"),
		Status:    strings.ToUpper(stringField(doc.Data, "status", "ALPHA")),
		Time:      "--:--",
		ClassName: stringField(doc.Data, "className", "-"),
	}
	if ts, ok := timeField(doc.Data, "timestamp"); ok {
		row.Time = ts.In(loc).Format("15:04")
	}
	return row
}

// MapRows maps every document in order.
func MapRows(docs []Document, loc *time.Location) []Row {
	rows := make([]Row, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, MapRow(d, loc))
	}
	return rows
}

func stringField(data map[string]any, key, fallback string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	if s == "" {
		return fallback
	}
	return s
}

func timeField(data map[string]any, key string) (time.Time, bool) {
	switch v := data[key].(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	default:
		return time.Time{}, false
	}
}

// RefreshingWatcher serves live queries for stores without native change
// streams: it lists once, then lists again whenever the bus announces a write
// for the watched school.
type RefreshingWatcher struct {
	store Store
	bus   queue.Queue
	loc   *time.Location
}

// NewRefreshingWatcher builds a watcher over store, driven by bus.
func NewRefreshingWatcher(store Store, bus queue.Queue, loc *time.Location) *RefreshingWatcher {
	return &RefreshingWatcher{store: store, bus: bus, loc: loc}
}

// Watch implements Watcher.
func (w *RefreshingWatcher) Watch(ctx context.Context, q Query, fn func([]Row)) error {
	messages, err := w.bus.Consume(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := w.refresh(ctx, q, fn); err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != MessageAppended || string(msg.Body) != q.SchoolID {
			continue
		}
		if err := w.refresh(ctx, q, fn); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[dashboard] refresh for school %s failed: %v", q.SchoolID, err)
		}
	}
	return nil
}

func (w *RefreshingWatcher) refresh(ctx context.Context, q Query, fn func([]Row)) error {
	docs, err := w.store.List(ctx, q)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	fn(MapRows(docs, w.loc))
	return nil
}
