package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponseContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var env APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestDataResponseKeepsTransportStatus200(t *testing.T) {
	c, rec := newResponseContext()
	require.NoError(t, DataResponse(c, http.StatusBadRequest, "nope"))

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeAPIResponse(t, rec)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Equal(t, "Bad Request", env.Message)
}

func TestSuccessResponse(t *testing.T) {
	c, rec := newResponseContext()
	require.NoError(t, SuccessResponse(c, map[string]int{"n": 3}))

	env := decodeAPIResponse(t, rec)
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, map[string]interface{}{"n": float64(3)}, env.Data)
}

func TestListResponse(t *testing.T) {
	c, rec := newResponseContext()
	require.NoError(t, ListResponse(c, []string{"a", "b"}, 17))

	env := decodeAPIResponse(t, rec)
	list, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(17), list["total"])
	assert.Len(t, list["rows"], 2)
}

func TestTooManyRequestsResponse(t *testing.T) {
	c, rec := newResponseContext()
	require.NoError(t, TooManyRequestsResponse(c))

	env := decodeAPIResponse(t, rec)
	assert.Equal(t, http.StatusTooManyRequests, env.Status)
	assert.Equal(t, "rate limited", env.Data)
}

func TestAppErrorResponseUnwrapsChain(t *testing.T) {
	c, rec := newResponseContext()
	wrapped := fmt.Errorf("handler: %w", BadRequestError("market id missing"))
	require.NoError(t, AppErrorResponse(c, wrapped))

	env := decodeAPIResponse(t, rec)
	assert.Equal(t, http.StatusBadRequest, env.Status)

	payload, err := json.Marshal(env.Data)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "ERR_BAD_REQUEST")
	assert.Contains(t, string(payload), "market id missing")
}

func TestAppErrorResponseFallsBackTo500(t *testing.T) {
	c, rec := newResponseContext()
	require.NoError(t, AppErrorResponse(c, fmt.Errorf("disk on fire")))

	env := decodeAPIResponse(t, rec)
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.Equal(t, "Something went wrong", env.Data)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}
