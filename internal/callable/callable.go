// Package callable speaks the callable-function wire protocol used by the
// mobile client: requests arrive as {"data": ...}, responses leave as
// {"result": ...} or {"error": {"status", "code", "message"}}.
package callable

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBody = 64 << 10

// ErrorBody is the payload of an error response.
type ErrorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// Payload returns the raw request payload: the "data" member of the envelope,
// or the whole body when it has none. Field types are not checked here.
// Failures are InvalidArgument status errors.
func Payload(c *gin.Context) (json.RawMessage, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody+1))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "unreadable request body")
	}
	if len(raw) > maxBody {
		return nil, status.Error(codes.InvalidArgument, "request body too large")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, status.Error(codes.InvalidArgument, "request body is empty")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, status.Error(codes.InvalidArgument, "request body must be a JSON object")
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return raw, nil
	}
	return env.Data, nil
}

// Result writes a successful response.
func Result(c *gin.Context, v any) {
	c.JSON(http.StatusOK, gin.H{"result": v})
}

// Error writes err as a callable error response. Errors that are not status
// errors, or carry an unsupported code, are reported as Internal without
// leaking their text.
func Error(c *gin.Context, err error) {
	st, ok := status.FromError(err)
	code := st.Code()
	msg := st.Message()
	if !ok || HTTPStatus(code) == 0 || code == codes.OK {
		code = codes.Internal
		msg = "internal error"
	}
	c.AbortWithStatusJSON(HTTPStatus(code), gin.H{"error": ErrorBody{
		Status:  StatusName(code),
		Code:    Slug(code),
		Message: msg,
	}})
}

// HTTPStatus maps a status code to its HTTP status, or 0 for codes the
// protocol does not surface.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Internal:
		return http.StatusInternalServerError
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return 0
	}
}

// StatusName renders a code the way the protocol's "status" field does,
// e.g. PERMISSION_DENIED.
func StatusName(code codes.Code) string {
	var b strings.Builder
	var prev rune
	for _, r := range code.String() {
		if r >= 'A' && r <= 'Z' && prev >= 'a' && prev <= 'z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.ToUpper(b.String())
}

// Slug renders a code as the client SDKs name it, e.g. permission-denied.
func Slug(code codes.Code) string {
	return strings.ReplaceAll(strings.ToLower(StatusName(code)), "_", "-")
}
