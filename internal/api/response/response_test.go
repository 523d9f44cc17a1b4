package response

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Error   map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.False(t, envelope.Success)
	return envelope.Error
}

func TestFromError(t *testing.T) {
	t.Run("client-class errors carry kind and message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		FromError(rec, domain.E(domain.KindUnauthorized, "invalid token", nil))

		assert.Equal(t, 401, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "unauthorized", body["kind"])
		assert.Equal(t, "invalid token", body["message"])
		assert.NotContains(t, body, "cause")
	})

	t.Run("server-class errors keep the kind but hide detail", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		rec := httptest.NewRecorder()
		FromError(rec, domain.E(domain.KindInfrastructureFailure, "chatbot lookup failed", cause))

		assert.Equal(t, 500, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "infrastructure_failure", body["kind"])
		assert.Equal(t, "Internal Server Error", body["message"])
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})
}

func TestFromErrorDetailed(t *testing.T) {
	t.Run("exhausted mutation reports both path causes", func(t *testing.T) {
		canonical := errors.New(`relation "chatbots" does not exist (SQLSTATE 42P01)`)
		emergency := errors.New("emergency insert into chatbots: permission denied")
		err := domain.E(domain.KindEmergencyPathExhausted,
			"write failed on both persistence paths", errors.Join(canonical, emergency))

		rec := httptest.NewRecorder()
		FromErrorDetailed(rec, err)

		assert.Equal(t, 500, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "emergency_path_exhausted", body["kind"])
		assert.Equal(t, "write failed on both persistence paths", body["message"])
		cause := body["cause"].(string)
		assert.Contains(t, cause, "SQLSTATE 42P01")
		assert.Contains(t, cause, "permission denied")
	})

	t.Run("untagged error still reports a kind", func(t *testing.T) {
		rec := httptest.NewRecorder()
		FromErrorDetailed(rec, errors.New("boom"))

		body := decodeError(t, rec)
		assert.Equal(t, "infrastructure_failure", body["kind"])
		assert.Equal(t, "boom", body["message"])
	})
}
