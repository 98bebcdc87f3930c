package attendance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"attendance-guard/internal/metrics"
	"attendance-guard/internal/queue"
)

// MessageAppended is published on the bus after a record is written. The body
// carries the school ID.
const MessageAppended = "appended"

// Publisher announces store changes to live dashboards.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Options configures the validator.
type Options struct {
	SharedKey       string
	VerifierTag     string
	DefaultSchoolID string
	StoreTimeout    time.Duration
}

// Service validates check-in submissions and writes accepted ones to the store.
// It holds no per-request state.
type Service struct {
	store Store
	bus   Publisher
	opts  Options
}

// NewService creates a validator backed by store. bus may be nil.
func NewService(store Store, bus Publisher, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.VerifierTag == "" {
		opts.VerifierTag = "SECURE_CHECKIN_V1"
	}
	if opts.SharedKey == "" {
		log.Println("[checkin] WARNING: no shared key configured, every check-in will be rejected")
	}
	return &Service{store: store, bus: bus, opts: opts}
}

// FormatDistance renders a distance with exactly five decimal places.
func FormatDistance(d float64) string {
	return strconv.FormatFloat(d, 'f', 5, 64)
}

// SecureCheckInJSON runs the origin check against the raw payload before its
// fields are type-checked, so a wrong key is always reported as such. The
// payload is then decoded and handled as in SecureCheckIn.
func (s *Service) SecureCheckInJSON(ctx context.Context, payload []byte) (Result, error) {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(payload, &fields)
	key, _ := jsonString(fields["isoKey"])
	studentID, ok := jsonString(fields["studentId"])
	if !ok {
		studentID = string(fields["studentId"])
	}
	if err := s.checkOrigin(key, studentID); err != nil {
		return Result{}, err
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		metrics.CheckIns.WithLabelValues(metrics.OutcomeInvalidArgument).Inc()
		return Result{}, status.Error(codes.InvalidArgument, "malformed request data")
	}
	return s.checkIn(ctx, req)
}

// SecureCheckIn runs the origin check, then the distance integrity check, and
// only then appends one record. The write is not cancelled when the caller
// goes away; it is bounded by the configured store timeout instead.
func (s *Service) SecureCheckIn(ctx context.Context, req Request) (Result, error) {
	if err := s.checkOrigin(req.IsoKey, req.StudentID); err != nil {
		return Result{}, err
	}
	return s.checkIn(ctx, req)
}

func (s *Service) checkOrigin(key, studentID string) error {
	if s.originValid(key) {
		return nil
	}
	log.Printf("[SECURITY] check-in rejected for student %q: shared key mismatch", studentID)
	metrics.CheckIns.WithLabelValues(metrics.OutcomePermissionDenied).Inc()
	return status.Error(codes.PermissionDenied, "request origin is not authorized")
}

// checkIn handles a submission whose origin is already verified.
func (s *Service) checkIn(ctx context.Context, req Request) (Result, error) {
	formatted := FormatDistance(req.Distance)
	if !strings.HasSuffix(formatted, "1") {
		log.Printf("[SECURITY] check-in rejected for student %q: distance %s failed integrity check", req.StudentID, formatted)
		metrics.CheckIns.WithLabelValues(metrics.OutcomeInvalidArgument).Inc()
		return Result{}, status.Error(codes.InvalidArgument, "distance failed integrity check")
	}

	if req.StudentID == "" || req.Name == "" {
		metrics.CheckIns.WithLabelValues(metrics.OutcomeInvalidArgument).Inc()
		return Result{}, status.Error(codes.InvalidArgument, "studentId and name are required")
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	saved, err := s.store.Append(writeCtx, s.newRecord(req))
	metrics.StoreWriteSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("[checkin] store write failed for student %q: %v", req.StudentID, err)
		metrics.CheckIns.WithLabelValues(metrics.OutcomeInternal).Inc()
		return Result{}, status.Error(codes.Internal, "failed to record attendance")
	}
	metrics.CheckIns.WithLabelValues(metrics.OutcomeSuccess).Inc()
	log.Printf("[checkin] student %s recorded present (record %s, school %s)", saved.StudentID, saved.ID, saved.SchoolID)

	s.notify(writeCtx, saved.SchoolID)

	return Result{Status: "SUCCESS", Message: "Attendance recorded for " + saved.Name}, nil
}

func (s *Service) originValid(key string) bool {
	if s.opts.SharedKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.SharedKey)) == 1
}

func (s *Service) newRecord(req Request) Record {
	rec := Record{
		SchoolID:      req.SchoolID,
		StudentID:     req.StudentID,
		Name:          req.Name,
		ClassName:     req.ClassName,
		GradeName:     req.Grade,
		Status:        StatusPresent,
		DistanceScore: req.Distance,
		VerifiedBy:    s.opts.VerifierTag,
	}
	if rec.SchoolID == "" {
		rec.SchoolID = s.opts.DefaultSchoolID
	}
	if rec.ClassName == "" {
		rec.ClassName = defaultClassName
	}
	if rec.GradeName == "" {
		rec.GradeName = defaultGrade
	}
	return rec
}

func (s *Service) notify(ctx context.Context, schoolID string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, queue.Message{Type: MessageAppended, Body: []byte(schoolID)}); err != nil {
		log.Printf("[checkin] change notification failed: %v", err)
	}
}

// jsonString reports raw as a Go string if it is a JSON string.
func jsonString(raw json.RawMessage) (string, bool) {
	var v string
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return "", false
	}
	return v, true
}
