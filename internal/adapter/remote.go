package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/entitystore/internal/record"
)

// APIPrefix is the path prefix of the remote wire contract.
const APIPrefix = "/api/v1/"

// DefaultTimeout bounds every remote request. A timeout surfaces as
// KindConnectivity.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps response bodies read from the remote.
const maxResponseBytes = 32 << 20

// Remote talks to the backend persistence service over HTTP:
//
//	GET    /api/v1/{resource}       -> array of records
//	POST   /api/v1/{resource}       -> created record
//	PATCH  /api/v1/{resource}/{id}  -> updated record
//	DELETE /api/v1/{resource}/{id}  -> no body
type Remote struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
}

// RemoteOption configures a Remote adapter.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the HTTP client (e.g. for custom transports).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		r.client = c
	}
}

// WithTimeout sets the per-request timeout. Default: DefaultTimeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		r.timeout = d
	}
}

// NewRemote creates a Remote for the service at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) (*Remote, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	r := &Remote{
		base:    u,
		client:  http.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	// Copy so the timeout never leaks into a caller-supplied client.
	client := *r.client
	client.Timeout = r.timeout
	r.client = &client
	return r, nil
}

// List fetches every record of resource.
func (r *Remote) List(ctx context.Context, resource string) ([]record.Record, error) {
	status, body, err := r.do(ctx, http.MethodGet, resource, record.ID{}, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(resource, record.ID{}, status, body)
	}
	records, err := record.DecodeList(body)
	if err != nil {
		return nil, NewUnexpectedError(resource, "malformed list response", err)
	}
	return records, nil
}

// Create posts partial and returns the record the service created.
func (r *Remote) Create(ctx context.Context, resource string, partial record.Fields) (record.Record, error) {
	if raw, ok := partial[record.IDField]; ok && raw != nil {
		if id, err := record.ParseID(raw); err == nil && !id.PathSafe() {
			return record.Record{}, unaddressable(resource, id)
		}
	}
	status, body, err := r.do(ctx, http.MethodPost, resource, record.ID{}, partial)
	if err != nil {
		return record.Record{}, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return record.Record{}, statusError(resource, record.ID{}, status, body)
	}
	return decodeRecord(resource, record.ID{}, body)
}

// Update patches id and returns the merged record.
func (r *Remote) Update(ctx context.Context, resource string, id record.ID, patch record.Fields) (record.Record, error) {
	status, body, err := r.do(ctx, http.MethodPatch, resource, id, patch)
	if err != nil {
		return record.Record{}, err
	}
	if status != http.StatusOK {
		return record.Record{}, statusError(resource, id, status, body)
	}
	return decodeRecord(resource, id, body)
}

// Remove deletes id. A 404 counts as success.
func (r *Remote) Remove(ctx context.Context, resource string, id record.ID) error {
	status, body, err := r.do(ctx, http.MethodDelete, resource, id, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return statusError(resource, id, status, body)
	}
}

// endpoint builds /api/v1/{resource}[/{id}] under the base URL.
func (r *Remote) endpoint(resource string, id record.ID) string {
	path := r.base.EscapedPath() + APIPrefix + url.PathEscape(resource)
	if !id.IsZero() {
		path += "/" + url.PathEscape(id.String())
	}
	u := url.URL{Scheme: r.base.Scheme, User: r.base.User, Host: r.base.Host}
	return u.String() + path
}

func (r *Remote) do(ctx context.Context, method, resource string, id record.ID, payload record.Fields) (int, []byte, error) {
	if err := record.CheckResource(resource); err != nil {
		return 0, nil, NewValidationError(resource, id, "invalid resource key", err)
	}
	if !id.IsZero() && !id.PathSafe() {
		return 0, nil, unaddressable(resource, id)
	}

	var reqBody io.Reader
	if payload != nil || method == http.MethodPost || method == http.MethodPatch {
		if payload == nil {
			payload = record.Fields{}
		}
		data, err := record.MarshalCanonical(payload)
		if err != nil {
			return 0, nil, NewValidationError(resource, id, "unencodable payload", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.endpoint(resource, id), reqBody)
	if err != nil {
		return 0, nil, NewUnexpectedError(resource, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, NewConnectivityError(resource, method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, NewConnectivityError(resource, "read response", err)
	}
	return resp.StatusCode, body, nil
}

// unaddressable rejects a string id the wire path would read as an integer.
func unaddressable(resource string, id record.ID) error {
	return NewValidationError(resource, id,
		fmt.Sprintf("string id %q reads as an integer in a URL path", id.String()), nil)
}

// wireError is the error body of the wire contract.
type wireError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusError maps a non-success status to a typed error.
// 502/503/504 mean the service behind the gateway is unreachable.
func statusError(resource string, id record.ID, status int, body []byte) error {
	msg := http.StatusText(status)
	var we wireError
	if err := json.Unmarshal(body, &we); err == nil && we.Error.Message != "" {
		msg = we.Error.Message
	}
	cause := fmt.Errorf("http status %d", status)

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return NewValidationError(resource, id, msg, cause)
	case http.StatusNotFound:
		if id.IsZero() {
			return NewUnexpectedError(resource, "resource endpoint not found", cause)
		}
		return NewNotFoundError(resource, id)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return NewConnectivityError(resource, msg, cause)
	default:
		return NewUnexpectedError(resource, msg, cause)
	}
}

func decodeRecord(resource string, id record.ID, body []byte) (record.Record, error) {
	m, err := record.DecodeObject(body)
	if err != nil {
		return record.Record{}, NewUnexpectedError(resource, "malformed record response", err)
	}
	rec, err := record.FromMap(m)
	if err != nil {
		return record.Record{}, NewUnexpectedError(resource, "malformed record response", err)
	}
	if !id.IsZero() && rec.ID != id {
		return record.Record{}, NewUnexpectedError(resource, "response id does not match request",
			errors.New("expected "+id.String()+", got "+rec.ID.String()))
	}
	return rec, nil
}
