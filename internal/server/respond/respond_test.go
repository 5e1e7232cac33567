package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saas-auth-core/internal/apperr"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindValidation, http.StatusBadRequest},
		{apperr.KindAuthentication, http.StatusUnauthorized},
		{apperr.KindAuthorization, http.StatusForbidden},
		{apperr.KindConflict, http.StatusConflict},
		{apperr.KindInfrastructure, http.StatusServiceUnavailable},
		{apperr.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Status(tt.kind), tt.kind.String())
	}
}

func TestFail_RendersSafeFields(t *testing.T) {
	remaining := 3
	ae := apperr.Authentication("INVALID_CREDENTIALS", "invalid email or password", errors.New("bcrypt mismatch for row 42"))
	ae.RemainingAttempts = &remaining

	rec := httptest.NewRecorder()
	Fail(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil), ae)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "row 42")
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
	require.NotNil(t, env.Error.RemainingAttempts)
	assert.Equal(t, 3, *env.Error.RemainingAttempts)
	assert.Nil(t, env.Error.RemainingMinutes)
}

func TestFail_Unclassified(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestDecode(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}
	tests := map[string]struct {
		body    string
		wantErr bool
	}{
		"ok":            {`{"email":"a@example.com"}`, false},
		"empty":         {``, true},
		"unknown field": {`{"email":"a","admin":true}`, true},
		"trailing":      {`{"email":"a"}{"email":"b"}`, true},
		"not json":      {`email=a`, true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			err := Decode(r, &dst)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}
