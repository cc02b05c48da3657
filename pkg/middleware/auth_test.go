package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"parley/internal/core/services"
)

func TestAuthMiddleware(t *testing.T) {
	tokenSvc := services.NewTokenService("test-secret")
	token, err := tokenSvc.GenerateToken("alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var seenClientID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := r.Context().Value(ClientIDKey).(string)
		seenClientID = id
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(tokenSvc)(next)

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantClient string
	}{
		{name: "bearer header", header: "Bearer " + token, wantStatus: http.StatusOK, wantClient: "alice"},
		{name: "query parameter", query: token, wantStatus: http.StatusOK, wantClient: "alice"},
		{name: "missing credentials", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, wantStatus: http.StatusUnauthorized},
		{name: "mangled token", header: "Bearer not-a-token", wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seenClientID = ""
			target := "/ws"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if seenClientID != tc.wantClient {
				t.Fatalf("client id = %q, want %q", seenClientID, tc.wantClient)
			}
		})
	}
}
