//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teecode611-cmyk/studio/internal/flows"
	"github.com/teecode611-cmyk/studio/internal/genai"
	"github.com/teecode611-cmyk/studio/internal/store"
	"github.com/teecode611-cmyk/studio/internal/tutor"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		op     string
		err    error
		status int
		kind   string
	}{
		{"validation", flows.StartSession.Name, fmt.Errorf("start: %w", &flows.ValidationError{Flow: "start_session", Field: "problem", Message: "x"}), http.StatusBadRequest, KindValidation},
		{"busy", flows.ContinueSession.Name, tutor.ErrBusy, http.StatusConflict, KindConflict},
		{"no session", flows.GetHint.Name, tutor.ErrNoActiveSession, http.StatusConflict, KindConflict},
		{"completed", "resume", tutor.ErrSessionCompleted, http.StatusConflict, KindConflict},
		{"quota", flows.StartSession.Name, tutor.ErrQuotaExceeded, http.StatusTooManyRequests, KindQuota},
		{"not owner", "resume", tutor.ErrNotOwner, http.StatusNotFound, KindNotFound},
		{"not found", "resume", fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound, KindNotFound},
		{"backend", flows.Summarize.Name, fmt.Errorf("summarize: %w: %w", genai.ErrBackend, errors.New("503")), http.StatusBadGateway, KindBackend},
		{"contract", flows.GetHint.Name, fmt.Errorf("get_hint: %w", genai.ErrContract), http.StatusBadGateway, KindBackend},
		{"unknown", "history", errors.New("disk on fire"), http.StatusInternalServerError, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := classify(tt.op, tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestClassifyBackendMessagePerOperation(t *testing.T) {
	_, body := classify(flows.Summarize.Name, genai.ErrBackend)
	assert.Equal(t, "Failed to generate a summary. The AI model may be unavailable.", body.Error)

	_, body = classify(flows.StartSession.Name, genai.ErrBackend)
	assert.Equal(t, "Could not start session", body.Error)
}

func TestClassifyValidationCarriesField(t *testing.T) {
	_, body := classify(flows.ContinueSession.Name, &flows.ValidationError{Field: "studentMessage", Message: "Response cannot be empty."})
	assert.Equal(t, "studentMessage", body.Field)
	assert.Equal(t, "Response cannot be empty.", body.Error)
}

func TestDecode(t *testing.T) {
	h := NewHandler(nil, nil, nil, ServerInfo{MaxRequestBodyBytes: 32})

	t.Run("empty body is the zero value", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		var v sendRequest
		assert.True(t, h.decode(w, r, &v))
		assert.Empty(t, v.Message)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
		var v sendRequest
		assert.False(t, h.decode(w, r, &v))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"`+strings.Repeat("a", 64)+`"}`))
		var v sendRequest
		assert.False(t, h.decode(w, r, &v))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}
