package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBodyVariants(t *testing.T) {
	r, err := encodeBody(nil, "")
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = encodeBody([]byte("raw"), "")
	require.NoError(t, err)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "raw", string(b))

	r, err = encodeBody("text", "")
	require.NoError(t, err)
	b, _ = io.ReadAll(r)
	assert.Equal(t, "text", string(b))

	src := strings.NewReader("stream")
	r, err = encodeBody(src, "")
	require.NoError(t, err)
	assert.Equal(t, io.Reader(src), r)

	r, err = encodeBody(map[string]string{"b": "2", "a": "1"}, "application/x-www-form-urlencoded")
	require.NoError(t, err)
	b, _ = io.ReadAll(r)
	assert.Equal(t, "a=1&b=2", string(b))

	r, err = encodeBody(map[string]string{"a": "1"}, "")
	require.NoError(t, err)
	b, _ = io.ReadAll(r)
	assert.JSONEq(t, `{"a":"1"}`, string(b))

	r, err = encodeBody(struct {
		N int `json:"n"`
	}{N: 7}, "")
	require.NoError(t, err)
	b, _ = io.ReadAll(r)
	assert.JSONEq(t, `{"n":7}`, string(b))

	_, err = encodeBody(func() {}, "")
	require.Error(t, err)
}

func TestSendAndParseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "token xyz", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"mkt-1"}`))
	}))
	defer srv.Close()

	var out struct {
		ID string `json:"id"`
	}
	c := NewClient()
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL + "/markets",
		Headers:     map[string]string{"Authorization": "token xyz"},
		QueryParams: map[string][]string{"active": {"true"}},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, "mkt-1", out.ID)
}

func TestSendAndParseDestKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := NewClient()
	opts := &RequestOptions{Method: MethodGet, URL: srv.URL}

	require.NoError(t, c.SendAndParse(context.Background(), opts, nil))

	var raw []byte
	require.NoError(t, c.SendAndParse(context.Background(), opts, &raw))
	assert.Equal(t, "payload", string(raw))

	var buf bytes.Buffer
	require.NoError(t, c.SendAndParse(context.Background(), opts, &buf))
	assert.Equal(t, "payload", buf.String())
}

func TestSendAndParseNon2xxCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream melted " + strings.Repeat("x", 8<<10)))
	}))
	defer srv.Close()

	c := NewClient()
	err := c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
	assert.Contains(t, err.Error(), "upstream melted")
	assert.Less(t, len(err.Error()), 5<<10)
}

func TestBuildRequestDefaultsContentType(t *testing.T) {
	c := NewClient()
	req, err := c.buildRequest(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    "http://localhost/x",
		Body:   map[string]string{"k": "v"},
	})

	require.NoError(t, err)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}
