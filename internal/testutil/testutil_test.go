package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{"matching status codes", 200, 200, false},
		{"different status codes", 200, 404, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if tt.shouldFail != mockT.failed {
				t.Errorf("failed = %v, want %v", mockT.failed, tt.shouldFail)
			}
			if !mockT.helper {
				t.Error("Helper was not called")
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		status     models.APIStatus
		shouldFail bool
	}{
		{"ok status", `{"status":"ok","result":{"a":1}}`, models.APIStatusOK, false},
		{"wrong status", `{"status":"error","message":"boom"}`, models.APIStatusOK, true},
		{"invalid json", `{not json`, models.APIStatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.body)

			func() {
				defer func() {
					if r := recover(); r != nil && !tt.shouldFail {
						t.Errorf("Unexpected panic: %v", r)
					}
				}()
				AssertJSONResponse(mockT, rr, tt.status)
			}()

			if tt.shouldFail != mockT.failed {
				t.Errorf("failed = %v, want %v (%s)", mockT.failed, tt.shouldFail, mockT.errorMsg)
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/muted/remove", map[string]string{"userId": "628300"})
	if req.Method != http.MethodPost || req.URL.Path != "/muted/remove" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Error("JSON content type not set")
	}

	req = CreateHTTPRequest(t, http.MethodGet, "/status", nil)
	if req.Header.Get("Content-Type") != "" {
		t.Error("bodyless request should not carry a content type")
	}
}

func TestModerationHelpers(t *testing.T) {
	store := NewModerationStore(t)
	SeedModeration(t, store, func(doc *models.ModerationDocument) {
		doc.Mute("628300@c.us")
	})
	SeedDeletions(t, store, "628300@c.us", 3)

	doc := ModerationSnapshot(t, store)
	if !doc.IsMuted("628300@c.us") || len(doc.Log) != 3 {
		t.Errorf("unexpected snapshot %+v", doc)
	}

	doc.Unmute("628300@c.us")
	if !ModerationSnapshot(t, store).IsMuted("628300@c.us") {
		t.Error("snapshot must be a copy")
	}
}

func TestNewConnectedSession(t *testing.T) {
	if !NewConnectedSession(t).IsConnected() {
		t.Error("session should be connected")
	}
}

func TestMustMarshalJSON(t *testing.T) {
	result := MustMarshalJSON(t, map[string]interface{}{"key1": "value1", "key2": 123})
	if len(result) == 0 {
		t.Error("Expected non-empty JSON data")
	}
}

func TestMustUnmarshalJSON(t *testing.T) {
	var target map[string]interface{}
	MustUnmarshalJSON(t, []byte(`{"key":"value","number":123}`), &target)

	if target["key"] != "value" {
		t.Errorf("Expected key to be 'value', got %v", target["key"])
	}
	if target["number"].(float64) != 123 {
		t.Errorf("Expected number to be 123, got %v", target["number"])
	}
}

// mockTestingT records failures instead of failing the enclosing test.
type mockTestingT struct {
	testing.TB
	failed   bool
	errorMsg string
	helper   bool
}

func (m *mockTestingT) Helper() {
	m.helper = true
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Error(args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprint(args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
	panic("test failed")
}

func (m *mockTestingT) Fatal(args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprint(args...)
	panic("test failed")
}
