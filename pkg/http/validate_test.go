package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type barsTestRequest struct {
	TokenID   string `json:"token_id" validate:"required"`
	Timeframe string `json:"timeframe" default:"1m" validate:"oneof=1m 5m 15m"`
	Limit     int    `json:"limit" default:"100" validate:"gte=1,lte=10000"`
}

func newJSONContext(body string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestReadAndValidateRequestAppliesDefaults(t *testing.T) {
	var req barsTestRequest
	res := ReadAndValidateRequest(newJSONContext(`{"token_id":"tok-1"}`), &req)

	require.Nil(t, res)
	assert.Equal(t, "tok-1", req.TokenID)
	assert.Equal(t, "1m", req.Timeframe)
	assert.Equal(t, 100, req.Limit)
}

func TestReadAndValidateRequestRequired(t *testing.T) {
	var req barsTestRequest
	res := ReadAndValidateRequest(newJSONContext(`{"limit":5}`), &req)

	verrs, ok := res.([]ValidationError)
	require.True(t, ok)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_REQUIRED", verrs[0].Code)
	assert.Equal(t, "TokenID", verrs[0].Field)
	assert.Contains(t, verrs[0].Message, "is required")
}

func TestReadAndValidateRequestOneof(t *testing.T) {
	var req barsTestRequest
	res := ReadAndValidateRequest(newJSONContext(`{"token_id":"tok-1","timeframe":"2h"}`), &req)

	verrs, ok := res.([]ValidationError)
	require.True(t, ok)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_ONEOF", verrs[0].Code)
	assert.Contains(t, verrs[0].Message, "must be one of: 1m, 5m, 15m")
	assert.Equal(t, []string{"1m", "5m", "15m"}, verrs[0].Params["options"])
}

func TestReadAndValidateRequestRangeParams(t *testing.T) {
	var req barsTestRequest
	res := ReadAndValidateRequest(newJSONContext(`{"token_id":"tok-1","limit":20000}`), &req)

	verrs, ok := res.([]ValidationError)
	require.True(t, ok)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_LTE", verrs[0].Code)
	assert.Equal(t, map[string]interface{}{"max": "10000"}, verrs[0].Params)
}

func TestReadAndValidateRequestMalformedJSON(t *testing.T) {
	var req barsTestRequest
	res := ReadAndValidateRequest(newJSONContext(`{"token_id":`), &req)

	verrs, ok := res.([]ValidationError)
	require.True(t, ok)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_UNKNOWN", verrs[0].Code)
	assert.Empty(t, verrs[0].Field)
}
