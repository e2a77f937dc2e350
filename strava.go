package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Endpoint is the remote service's OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://www.strava.com/oauth/authorize",
	TokenURL: "https://www.strava.com/oauth/token",
}

const (
	// DefaultBaseURL is the remote REST API root.
	DefaultBaseURL = "https://www.strava.com/api/v3"

	// listPageSize is the remote service's per_page ceiling.
	listPageSize = 200

	// maxListPages bounds range listing; beyond this the range is
	// rejected rather than paged indefinitely.
	maxListPages = 50

	// tokenExpiryMargin refreshes tokens slightly before they expire so
	// a request does not race the expiry.
	tokenExpiryMargin = 5 * time.Minute
)

// ErrSessionExpired signals that no usable credential is available and
// the user must re-authenticate. It is distinct from transient fetch
// failures, which surface as *APIError.
var ErrSessionExpired = errors.New("session expired")

// ErrRangeTooLarge signals a date range that would exceed the paging
// bound.
var ErrRangeTooLarge = errors.New("activity range too large")

// APIError is a non-2xx response from the remote service.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Token is the bearer credential for the remote service.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds
}

// Client talks to the remote activity API on behalf of one athlete. It
// refreshes its bearer token transparently and retries exactly once on
// a 401 caused by an invalidated access token.
type Client struct {
	http    *http.Client
	baseURL string
	oauth   *oauth2.Config
	now     func() time.Time

	mu    sync.Mutex
	token Token
}

// ClientOption mutates a Client under construction.
type ClientOption func(*Client)

// WithBaseURL overrides the API root, used by tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client holding the given credential.
func NewClient(oauth *oauth2.Config, token Token, opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: DefaultBaseURL,
		oauth:   oauth,
		now:     time.Now,
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current credential, which may have been refreshed
// since the client was created. Callers persist it back to the session.
func (c *Client) Token() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// accessToken returns a bearer token valid for at least the expiry
// margin, refreshing if needed.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.AccessToken == "" && c.token.RefreshToken == "" {
		return "", ErrSessionExpired
	}
	expiry := time.Unix(c.token.ExpiresAt, 0)
	if !expiry.After(c.now().Add(tokenExpiryMargin)) {
		if err := c.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.token.AccessToken, nil
}

// refreshLocked exchanges the refresh token for a new credential. The
// caller holds c.mu.
func (c *Client) refreshLocked(ctx context.Context) error {
	if c.token.RefreshToken == "" {
		return ErrSessionExpired
	}
	form := url.Values{
		"client_id":     {c.oauth.ClientID},
		"client_secret": {c.oauth.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.token.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauth.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Warn().Int("status", resp.StatusCode).Bytes("body", body).Msg("token refresh rejected")
		return ErrSessionExpired
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	c.token = Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    tr.ExpiresAt,
	}
	log.Debug().Time("expires", time.Unix(tr.ExpiresAt, 0)).Msg("token refreshed")
	return nil
}

// invalidTokenBody reports whether a 401 body matches the remote
// service's invalid-access-token error shape.
func invalidTokenBody(body []byte) bool {
	var er struct {
		Message string `json:"message"`
		Errors  []struct {
			Resource string `json:"resource"`
			Field    string `json:"field"`
			Code     string `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &er); err != nil {
		return false
	}
	for _, e := range er.Errors {
		if e.Field == "access_token" && e.Code == "invalid" {
			return true
		}
	}
	return false
}

// get performs an authenticated GET and decodes the JSON response into
// v. A 401 with the invalid-token shape triggers one refresh and one
// retry; any other failure is returned as-is.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, v interface{}) error {
	retried := false
	for {
		tok, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return err
		}
		req.URL.RawQuery = query.Encode()
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", endpoint, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("fetch %s: %w", endpoint, err)
		}
		if resp.StatusCode == http.StatusUnauthorized && !retried && invalidTokenBody(body) {
			log.Info().Str("endpoint", endpoint).Msg("access token invalidated, refreshing")
			c.mu.Lock()
			err = c.refreshLocked(ctx)
			c.mu.Unlock()
			if err != nil {
				return err
			}
			retried = true
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: apiMessage(body, resp.Status)}
		}
		return json.Unmarshal(body, v)
	}
}

func apiMessage(body []byte, status string) string {
	var er struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &er) == nil && er.Message != "" {
		return er.Message
	}
	if len(body) > 0 {
		return string(body)
	}
	return status
}

// ListActivities fetches one page of activities whose start time lies
// in (after, before), newest first.
func (c *Client) ListActivities(ctx context.Context, before, after time.Time, page, perPage int) ([]*Activity, error) {
	q := url.Values{
		"before":   {strconv.FormatInt(before.Unix(), 10)},
		"after":    {strconv.FormatInt(after.Unix(), 10)},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	var acts []*Activity
	if err := c.get(ctx, "/athlete/activities", q, &acts); err != nil {
		return nil, err
	}
	return acts, nil
}

// ListActivitiesInRange pages through all activities whose start date
// falls within [start, end] at date granularity. Ranges needing more
// than maxListPages pages return ErrRangeTooLarge.
func (c *Client) ListActivitiesInRange(ctx context.Context, start, end time.Time) ([]*Activity, error) {
	after := Midnight(start).Add(-time.Second)
	before := Midnight(end).AddDate(0, 0, 1)
	var all []*Activity
	for page := 1; ; page++ {
		if page > maxListPages {
			return nil, fmt.Errorf("%w: more than %d pages", ErrRangeTooLarge, maxListPages)
		}
		acts, err := c.ListActivities(ctx, before, after, page, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, acts...)
		if len(acts) < listPageSize {
			return all, nil
		}
	}
}

// activityZones is the wire shape of the zones endpoint: a list of
// tagged zone kinds, of which only heartrate is of interest here.
type activityZones struct {
	Type                string       `json:"type"`
	DistributionBuckets []ZoneBucket `json:"distribution_buckets"`
}

// ActivityZones fetches the heart-rate time-in-zone buckets for one
// activity. Activities without heart-rate zones return an empty slice.
func (c *Client) ActivityZones(ctx context.Context, id int64) ([]ZoneBucket, error) {
	var zones []activityZones
	if err := c.get(ctx, fmt.Sprintf("/activities/%d/zones", id), url.Values{}, &zones); err != nil {
		return nil, err
	}
	for _, z := range zones {
		if z.Type == "heartrate" {
			return z.DistributionBuckets, nil
		}
	}
	return nil, nil
}

// ExchangeCode swaps an authorization code for a credential via the
// OAuth token endpoint.
func ExchangeCode(ctx context.Context, cfg *oauth2.Config, code string) (Token, int64, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return Token{}, 0, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	athlete, _ := tok.Extra("athlete").(map[string]interface{})
	var athleteID int64
	if athlete != nil {
		if id, ok := athlete["id"].(float64); ok {
			athleteID = int64(id)
		}
	}
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.Unix(),
	}, athleteID, nil
}
