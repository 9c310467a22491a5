// Package testutil provides common test utilities and helpers for ChatWarden tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/moderation"
	"github.com/BTreeMap/ChatWarden/internal/session"
)

// NewModerationStore returns a store backed by a fresh file in t's temp dir.
func NewModerationStore(t testing.TB) *moderation.Store {
	t.Helper()
	return moderation.NewStore(filepath.Join(t.TempDir(), moderation.DefaultFileName))
}

// NewConnectedSession returns a session state already in Connected.
func NewConnectedSession(t testing.TB) *session.State {
	t.Helper()
	s := session.New()
	if _, err := s.Transition(&models.SessionEvent{Type: models.SessionReady}); err != nil {
		t.Fatalf("failed to connect test session: %v", err)
	}
	return s
}

// SeedModeration applies fn to the store and fails the test on error.
func SeedModeration(t testing.TB, store *moderation.Store, fn func(doc *models.ModerationDocument)) {
	t.Helper()
	err := store.Update(context.Background(), func(doc *models.ModerationDocument) error {
		fn(doc)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to seed moderation document: %v", err)
	}
}

// SeedDeletions appends n deletion records authored by author, one second apart.
func SeedDeletions(t testing.TB, store *moderation.Store, author string, n int) {
	t.Helper()
	SeedModeration(t, store, func(doc *models.ModerationDocument) {
		for i := 0; i < n; i++ {
			doc.AppendDeletion(models.DeletionRecord{
				MessageID: "seed",
				Author:    author,
				Time:      time.Unix(int64(i), 0),
			})
		}
	})
}

// ModerationSnapshot returns a copy of the stored document.
func ModerationSnapshot(t testing.TB, store *moderation.Store) *models.ModerationDocument {
	t.Helper()
	var out *models.ModerationDocument
	if err := store.View(context.Background(), func(doc *models.ModerationDocument) { out = doc.Clone() }); err != nil {
		t.Fatalf("failed to read moderation document: %v", err)
	}
	return out
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes an APIResponse and validates its status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
		return response
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, response.Status)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req := httptest.NewRequest(method, url, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
