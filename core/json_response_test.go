package core_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamforge-ai/dreamforge/core"
)

func render(t *testing.T, resp core.Response) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	core.Respond(rec, httptest.NewRequest(http.MethodGet, "/", nil), resp)
	return rec
}

func TestJSON(t *testing.T) {
	t.Parallel()

	rec := render(t, core.JSON(map[string]string{"plan": "pro"}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body core.JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body.Error)
	assert.Equal(t, map[string]any{"plan": "pro"}, body.Data)
}

func TestJSONRaw(t *testing.T) {
	t.Parallel()

	rec := render(t, core.JSONRaw(http.StatusOK, map[string]bool{"received": true}))
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	t.Run("plain error hides internals", func(t *testing.T) {
		t.Parallel()

		rec := render(t, core.JSONError(errors.New("pgx: connection refused")))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body core.JSONResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotNil(t, body.Error)
		assert.Equal(t, "internal_error", body.Error.Code)
		assert.NotContains(t, body.Error.Message, "pgx")
	})

	t.Run("http error keeps status and details", func(t *testing.T) {
		t.Parallel()

		err := core.ErrPaymentRequired.
			WithMessage("image limit reached").
			WithDetails(map[string]any{"limit": 100, "used": 100, "upgradeRequired": true})
		rec := render(t, core.JSONError(err))
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)

		var body core.JSONResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotNil(t, body.Error)
		assert.Equal(t, "payment_required", body.Error.Code)
		assert.Equal(t, true, body.Error.Details["upgradeRequired"])
	})

	t.Run("wrapped http error unwraps", func(t *testing.T) {
		t.Parallel()

		rec := render(t, core.JSONError(errors.Join(core.ErrNotFound, errors.New("user missing"))))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
