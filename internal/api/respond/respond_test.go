package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSONRequiresRevalidation(t *testing.T) {
	for _, hit := range []bool{false, true} {
		rec := httptest.NewRecorder()
		WriteJSON(rec, []byte(`[]`), `W/"abc"`, hit)

		if rec.Code != http.StatusOK || rec.Body.String() != "[]" {
			t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("Cache-Control"); got != "private, no-cache" {
			t.Errorf("Cache-Control = %q", got)
		}
		if got := rec.Header().Get("ETag"); got != `W/"abc"` {
			t.Errorf("ETag = %q", got)
		}
		want := "MISS"
		if hit {
			want = "HIT"
		}
		if got := rec.Header().Get("X-Cache"); got != want {
			t.Errorf("X-Cache = %q, want %q", got, want)
		}
	}
}

func TestWriteNotModified(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteNotModified(rec, `W/"abc"`)
	if rec.Code != http.StatusNotModified || rec.Body.Len() != 0 {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("ETag") != `W/"abc"` {
		t.Errorf("ETag = %q", rec.Header().Get("ETag"))
	}
}

func TestWriteErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusBadRequest, "HOST_NOT_ALLOWED", "url is not on a supported marketplace", "")

	if rec.Code != http.StatusBadRequest || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("response = %d, Cache-Control %q", rec.Code, rec.Header().Get("Cache-Control"))
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "HOST_NOT_ALLOWED" || body.Error.Detail != "" {
		t.Errorf("body = %+v", body)
	}
}
