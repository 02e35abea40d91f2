package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/config"
)

func TestConfigHandler_Get(t *testing.T) {
	cfg := config.Defaults()
	cfg.Web.APIToken = "secret"
	handler := NewConfigHandler(cfg)

	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest("GET", "/api/v1/config", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}

	var result ConfigResponse
	parseJSONResponse(t, recorder, &result)

	if result.EmbeddingDim != cfg.Index.Dim {
		t.Errorf("embedding_dim = %d, want %d", result.EmbeddingDim, cfg.Index.Dim)
	}
	if result.MatchThreshold != cfg.Index.Threshold {
		t.Errorf("match_threshold = %v, want %v", result.MatchThreshold, cfg.Index.Threshold)
	}
	if result.AttendanceSink != "csv" || result.IdentityStore != "file" {
		t.Errorf("unexpected storage settings: %+v", result)
	}
	if !result.AuthRequired {
		t.Error("expected auth_required when a token is set")
	}
}

func TestConfigHandler_DoesNotLeakSecrets(t *testing.T) {
	cfg := config.Defaults()
	cfg.Web.APIToken = "super-secret-token"
	cfg.Database.URL = "postgres://user:hunter2@db/face"

	recorder := httptest.NewRecorder()
	NewConfigHandler(cfg).Get(recorder, httptest.NewRequest("GET", "/api/v1/config", nil))

	body := recorder.Body.String()
	for _, secret := range []string{"super-secret-token", "hunter2"} {
		if strings.Contains(body, secret) {
			t.Errorf("response leaks %q: %s", secret, body)
		}
	}
}
