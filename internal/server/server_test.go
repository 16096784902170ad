package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/record"
	"github.com/roach88/entitystore/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestServer(t *testing.T, a adapter.Adapter) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(a, WithLogger(quietLogger())))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestServer_List(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", record.New(record.IntID(1), record.Fields{"title": "a"}))
	srv := newTestServer(t, fake)

	status, body := do(t, http.MethodGet, srv.URL+"/api/v1/tasks", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `[{"id":1,"title":"a"}]`, body)

	status, body = do(t, http.MethodGet, srv.URL+"/api/v1/empty", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `[]`, body)
}

func TestServer_Create(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	srv := newTestServer(t, fake)

	status, body := do(t, http.MethodPost, srv.URL+"/api/v1/tasks", `{"title":"T1"}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, `{"id":1,"title":"T1"}`, body)
}

func TestServer_CreateMalformedBody(t *testing.T) {
	srv := newTestServer(t, testutil.NewFakeAdapter())

	status, body := do(t, http.MethodPost, srv.URL+"/api/v1/tasks", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, status)

	var decoded struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, "VALIDATION", decoded.Error.Code)
	assert.Contains(t, decoded.Error.Message, "expected JSON object")
}

func TestServer_Update(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", record.New(record.IntID(3), record.Fields{"title": "a"}))
	srv := newTestServer(t, fake)

	status, body := do(t, http.MethodPatch, srv.URL+"/api/v1/tasks/3", `{"done":true}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"done":true,"id":3,"title":"a"}`, body)
}

func TestServer_UpdateStringID(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", record.New(record.StringID("a b"), nil))
	srv := newTestServer(t, fake)

	status, _ := do(t, http.MethodPatch, srv.URL+"/api/v1/tasks/a%20b", `{"x":1}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_Remove(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", record.New(record.IntID(3), nil))
	srv := newTestServer(t, fake)

	status, body := do(t, http.MethodDelete, srv.URL+"/api/v1/tasks/3", "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, body)
	assert.Empty(t, fake.Records("tasks"))
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		kind   adapter.Kind
		status int
	}{
		{adapter.KindValidation, http.StatusUnprocessableEntity},
		{adapter.KindNotFound, http.StatusNotFound},
		{adapter.KindConnectivity, http.StatusServiceUnavailable},
		{adapter.KindUnexpected, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			fake := testutil.NewFakeAdapter()
			fake.Seed("tasks", record.New(record.IntID(1), nil))
			fake.FailNext(testutil.OpUpdate, "tasks", tt.kind)
			srv := newTestServer(t, fake)

			status, body := do(t, http.MethodPatch, srv.URL+"/api/v1/tasks/1", `{}`)
			assert.Equal(t, tt.status, status)
			assert.Contains(t, body, `"code":"`+string(tt.kind)+`"`)
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, testutil.NewFakeAdapter())

	status, _ := do(t, http.MethodPut, srv.URL+"/api/v1/tasks/1", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t, testutil.NewFakeAdapter())

	status, _ := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusNoContent, status)
}

func TestServer_UnclassifiedErrorIsUnexpected(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.FailNextWith(testutil.OpList, "tasks", context.DeadlineExceeded)
	srv := newTestServer(t, fake)

	status, body := do(t, http.MethodGet, srv.URL+"/api/v1/tasks", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, `"code":"UNEXPECTED"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(adapter.KindConflict))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(""))
}
