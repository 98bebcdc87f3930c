package callable

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContext(body string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/secureCheckIn", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func TestPayload(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr string
	}{
		{"envelope", `{"data":{"studentId":"S1","distance":12.34561}}`, `{"studentId":"S1","distance":12.34561}`, ""},
		{"bare payload", `{"studentId":"S2","distance":1.5}`, `{"studentId":"S2","distance":1.5}`, ""},
		{"null data", `{"data":null,"studentId":"S3"}`, `{"data":null,"studentId":"S3"}`, ""},
		{"field types unchecked", `{"data":{"distance":"far"}}`, `{"distance":"far"}`, ""},
		{"empty body", ``, "", "request body is empty"},
		{"not json", `studentId=S1`, "", "request body must be a JSON object"},
		{"array", `[1,2]`, "", "request body must be a JSON object"},
		{"too large", `{"data":{"name":"` + strings.Repeat("x", maxBody) + `"}}`, "", "request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext(tt.body)
			got, err := Payload(c)
			if tt.wantErr != "" {
				st, _ := status.FromError(err)
				if st.Code() != codes.InvalidArgument || st.Message() != tt.wantErr {
					t.Fatalf("err = %v, want InvalidArgument %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPayloadAcceptsBodyAtLimit(t *testing.T) {
	prefix, suffix := `{"data":{"name":"`, `"}}`
	body := prefix + strings.Repeat("x", maxBody-len(prefix)-len(suffix)) + suffix
	c, _ := newContext(body)
	if _, err := Payload(c); err != nil {
		t.Fatalf("body of exactly %d bytes rejected: %v", len(body), err)
	}
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		err        error
		httpStatus int
		status     string
		code       string
		message    string
	}{
		{status.Error(codes.PermissionDenied, "nope"), http.StatusForbidden, "PERMISSION_DENIED", "permission-denied", "nope"},
		{status.Error(codes.InvalidArgument, "bad"), http.StatusBadRequest, "INVALID_ARGUMENT", "invalid-argument", "bad"},
		{status.Error(codes.Internal, "boom"), http.StatusInternalServerError, "INTERNAL", "internal", "boom"},
		{errors.New("db password leaked"), http.StatusInternalServerError, "INTERNAL", "internal", "internal error"},
		{status.Error(codes.Aborted, "aborted"), http.StatusInternalServerError, "INTERNAL", "internal", "internal error"},
	}
	for _, tt := range tests {
		c, w := newContext("")
		Error(c, tt.err)
		if w.Code != tt.httpStatus {
			t.Errorf("%v: http status %d, want %d", tt.err, w.Code, tt.httpStatus)
		}
		var body struct {
			Error ErrorBody `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		want := ErrorBody{Status: tt.status, Code: tt.code, Message: tt.message}
		if body.Error != want {
			t.Errorf("%v: body %+v, want %+v", tt.err, body.Error, want)
		}
	}
}

func TestStatusNames(t *testing.T) {
	if got := StatusName(codes.OK); got != "OK" {
		t.Errorf("StatusName(OK) = %q", got)
	}
	if got := Slug(codes.ResourceExhausted); got != "resource-exhausted" {
		t.Errorf("Slug(ResourceExhausted) = %q", got)
	}
}
