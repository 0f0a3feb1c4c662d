package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveEntity(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantCanonical string
	}{
		{"小文字", `{"mention":"ada lovelace"}`, "Ada Lovelace"},
		{"前後の空白", `{"mention":"  new YORK  "}`, "New York"},
		{"空文字列", `{"mention":""}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/entity/resolve", strings.NewReader(tt.body))
			req = withUser(req, testUser)
			w := httptest.NewRecorder()
			ResolveEntity(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			var body map[string]string
			json.NewDecoder(w.Body).Decode(&body)
			if body["canonical"] != tt.wantCanonical {
				t.Errorf("canonical = %q, want %q", body["canonical"], tt.wantCanonical)
			}
			if body["user_id"] != "user-1" {
				t.Errorf("user_id = %q", body["user_id"])
			}
		})
	}
}

func TestResolveEntity_InvalidJSON_ReturnsBadRequest(t *testing.T) {
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/entity/resolve", strings.NewReader("[")), testUser)
	w := httptest.NewRecorder()
	ResolveEntity(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
