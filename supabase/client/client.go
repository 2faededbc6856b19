// Package client is a small Supabase client covering the PostgREST, Storage
// and Auth endpoints the totem uses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/supercopa/totem/internal/httputil"
	"github.com/supercopa/totem/internal/logging"
)

const maxResponseBytes = 32 << 20

// Client is a Supabase REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	resilient  *ResilientClient
}

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
	// Resilience wraps requests with retry and a circuit breaker when set.
	Resilience *ResilientClientConfig
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httputil.NewClient(30 * time.Second)
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
	if cfg.Resilience != nil {
		rc := *cfg.Resilience
		if rc.BaseClient == nil {
			rc.BaseClient = httpClient
		}
		c.resilient = NewResilientClient(rc)
	}
	return c, nil
}

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Resilience returns the resilient transport, or nil when disabled.
func (c *Client) Resilience() *ResilientClient {
	return c.resilient
}

// =============================================================================
// Database Operations (PostgREST)
// =============================================================================

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

type filter struct {
	column string
	expr   string
}

// QueryBuilder builds PostgREST queries.
type QueryBuilder struct {
	client     *Client
	table      string
	columns    string
	filters    []filter
	orders     []string
	limit      int
	offset     int
	single     bool
	count      string
	upsert     bool
	onConflict string
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

func (q *QueryBuilder) where(column, op string, value any) *QueryBuilder {
	q.filters = append(q.filters, filter{column: column, expr: fmt.Sprintf("%s.%v", op, value)})
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	return q.where(column, "eq", value)
}

func (q *QueryBuilder) Neq(column string, value any) *QueryBuilder {
	return q.where(column, "neq", value)
}

func (q *QueryBuilder) Gte(column string, value any) *QueryBuilder {
	return q.where(column, "gte", value)
}

func (q *QueryBuilder) Lte(column string, value any) *QueryBuilder {
	return q.where(column, "lte", value)
}

// Is adds an IS filter (null, true, false).
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	return q.where(column, "is", value)
}

// Not negates an operator, e.g. Not("completed_at", "is", "null").
func (q *QueryBuilder) Not(column, op string, value any) *QueryBuilder {
	return q.where(column, "not."+op, value)
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Offset skips the first n rows.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Single expects exactly one row.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// Count asks PostgREST for a row count (exact, planned or estimated).
// The result is read with Response.Count.
func (q *QueryBuilder) Count(countType string) *QueryBuilder {
	q.count = countType
	return q
}

// Upsert turns the next ExecuteInsert into a merge on onConflict.
func (q *QueryBuilder) Upsert(onConflict string) *QueryBuilder {
	q.upsert = true
	q.onConflict = onConflict
	return q
}

func (q *QueryBuilder) url(withSelect bool) string {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)

	params := url.Values{}
	if withSelect && q.columns != "" {
		params.Set("select", q.columns)
	}
	for _, f := range q.filters {
		params.Add(f.column, f.expr)
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		params.Set("offset", strconv.Itoa(q.offset))
	}
	if q.upsert && q.onConflict != "" {
		params.Set("on_conflict", q.onConflict)
	}
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// Execute executes a SELECT query.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	method := http.MethodGet
	if q.count != "" && q.columns == "" {
		method = http.MethodHead
	}
	req, err := http.NewRequestWithContext(ctx, method, q.url(true), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q.client.setHeaders(req)
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}
	if q.count != "" {
		req.Header.Set("Prefer", "count="+q.count)
	}

	return q.client.doChecked(req)
}

// ExecuteInsert inserts (or upserts) data and returns the representation.
func (q *QueryBuilder) ExecuteInsert(ctx context.Context, data any) (*Response, error) {
	req, err := q.client.jsonRequest(ctx, http.MethodPost, q.url(false), data)
	if err != nil {
		return nil, err
	}

	prefer := "return=representation"
	if q.upsert {
		prefer = "resolution=merge-duplicates," + prefer
	}
	req.Header.Set("Prefer", prefer)
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	return q.client.doChecked(req)
}

// ExecuteUpdate patches the rows matched by the filters.
func (q *QueryBuilder) ExecuteUpdate(ctx context.Context, data any) (*Response, error) {
	if len(q.filters) == 0 {
		return nil, errors.New("update without filters")
	}
	req, err := q.client.jsonRequest(ctx, http.MethodPatch, q.url(false), data)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	return q.client.doChecked(req)
}

// =============================================================================
// Auth Operations
// =============================================================================

// Auth returns an auth client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// AuthClient handles authentication operations.
type AuthClient struct {
	client *Client
}

// SignIn signs in with email and password.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*AuthResponse, error) {
	reqURL := a.client.baseURL + "/auth/v1/token?grant_type=password"
	req, err := a.client.jsonRequest(ctx, http.MethodPost, reqURL, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	resp, err := a.client.doChecked(req)
	if err != nil {
		return nil, err
	}

	var authResp AuthResponse
	if err := resp.JSON(&authResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &authResp, nil
}

// GetUser resolves the user owning accessToken.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.client.setHeaders(req)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.doChecked(req)
	if err != nil {
		return nil, err
	}

	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &user, nil
}

// SignOut revokes the session behind accessToken.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	a.client.setHeaders(req)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	_, err = a.client.doChecked(req)
	return err
}

// AuthResponse is the response from auth operations.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// User represents a Supabase user.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	CreatedAt    string         `json:"created_at"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// =============================================================================
// Storage Operations
// =============================================================================

// Storage returns a storage client.
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// StorageClient handles storage operations.
type StorageClient struct {
	client *Client
}

// From returns a bucket client.
func (s *StorageClient) From(bucket string) *BucketClient {
	return &BucketClient{client: s.client, bucket: bucket}
}

// BucketClient handles bucket operations.
type BucketClient struct {
	client *Client
	bucket string
}

// Upload stores data at path. With upsert an existing object is replaced.
func (b *BucketClient) Upload(ctx context.Context, path string, data []byte, contentType string, upsert bool) (*Response, error) {
	reqURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, b.bucket, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	b.client.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "3600")
	req.Header.Set("x-upsert", strconv.FormatBool(upsert))

	return b.client.doChecked(req)
}

// Object is a storage listing entry.
type Object struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedAt string         `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

// List returns up to limit objects under prefix.
func (b *BucketClient) List(ctx context.Context, prefix string, limit int) ([]Object, error) {
	reqURL := fmt.Sprintf("%s/storage/v1/object/list/%s", b.client.baseURL, b.bucket)
	req, err := b.client.jsonRequest(ctx, http.MethodPost, reqURL, map[string]any{
		"prefix": prefix,
		"limit":  limit,
		"offset": 0,
	})
	if err != nil {
		return nil, err
	}

	resp, err := b.client.doChecked(req)
	if err != nil {
		return nil, err
	}

	var objects []Object
	if err := resp.JSON(&objects); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return objects, nil
}

// GetPublicURL returns the public URL for a file.
func (b *BucketClient) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, b.bucket, path)
}

// =============================================================================
// Response Types
// =============================================================================

// Response is a generic API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Count returns the total from a Content-Range header such as "0-9/42".
// It returns -1 when the header carries no total.
func (r *Response) Count() int {
	cr := r.Headers.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 {
		return -1
	}
	n, err := strconv.Atoi(cr[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

// APIError is a non-2xx Supabase response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 or an empty single-row result.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == "PGRST116"
}

// Error returns an error if the response indicates failure.
func (r *Response) Error() error {
	if r.StatusCode < 400 {
		return nil
	}
	var errResp struct {
		Code             string `json:"code"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
	}
	apiErr := &APIError{StatusCode: r.StatusCode}
	if err := json.Unmarshal(r.Body, &errResp); err == nil {
		apiErr.Code = errResp.Code
		for _, m := range []string{errResp.Message, errResp.ErrorDescription, errResp.Msg, errResp.Error} {
			if m != "" {
				apiErr.Message = m
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(r.StatusCode)
	}
	return apiErr
}

// =============================================================================
// Internal Methods
// =============================================================================

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if traceID := logging.GetTraceID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-ID", traceID)
	}
}

func (c *Client) jsonRequest(ctx context.Context, method, reqURL string, data any) (*http.Request, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	var (
		resp *http.Response
		err  error
	)
	if c.resilient != nil {
		resp, err = c.resilient.Do(req)
	} else {
		resp, err = c.httpClient.Do(req)
	}
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}, nil
}

func (c *Client) doChecked(req *http.Request) (*Response, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return resp, err
	}
	return resp, nil
}
