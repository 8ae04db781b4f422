package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

// HTTPStore talks to a dedicated sync server over its REST API. Revisions
// ride in ETag headers and conditional writes use If-Match / If-None-Match,
// same as the S3 backend.
//
// Auth is a bearer token. The token's expiry claim is inspected locally so
// an expired session fails fast with ErrUnauthorized instead of burning a
// round trip per item.
type HTTPStore struct {
	base   *url.URL
	token  string
	client *http.Client

	now func() time.Time
}

func NewHTTPStore(baseURL, token string) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("bad server url %q: %w", baseURL, err)
	}
	return &HTTPStore{
		base:   u,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}, nil
}

// httpPage is the wire form of one listing page.
type httpPage struct {
	Items []struct {
		ID          string `json:"id"`
		Revision    string `json:"revision"`
		UpdatedTime int64  `json:"updated_time"`
		Deleted     bool   `json:"deleted"`
	} `json:"items"`
	Cursor  string `json:"cursor"`
	HasMore bool   `json:"has_more"`
}

func (s *HTTPStore) Check(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodGet, "/api/info", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("parsing server info: %w", err)
	}
	if info.SchemaVersion != SchemaVersion {
		return fmt.Errorf("server schema %d, client speaks %d: %w",
			info.SchemaVersion, SchemaVersion, common.ErrIncompatibleRemote)
	}
	return nil
}

func (s *HTTPStore) List(ctx context.Context, cursor string) (*Page, error) {
	path := "/api/items"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	resp, err := s.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var wire httpPage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("parsing listing: %w", err)
	}

	page := &Page{Cursor: wire.Cursor, HasMore: wire.HasMore}
	for _, it := range wire.Items {
		page.Items = append(page.Items, ItemInfo{
			ID:          it.ID,
			Revision:    it.Revision,
			UpdatedTime: it.UpdatedTime,
			Deleted:     it.Deleted,
		})
	}
	return page, nil
}

func (s *HTTPStore) Get(ctx context.Context, id string) ([]byte, string, error) {
	resp, err := s.do(ctx, http.MethodGet, "/api/items/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("item %s: %w", id, common.ErrNotFound)
	}
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, "", err
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading item %s: %w", id, err)
	}
	return blob, normalizeETag(resp.Header.Get("ETag")), nil
}

func (s *HTTPStore) Put(ctx context.Context, id string, blob []byte, ifRevision string) (string, error) {
	resp, err := s.do(ctx, http.MethodPut, "/api/items/"+url.PathEscape(id), blob, ifRevision)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed || resp.StatusCode == http.StatusConflict {
		return "", fmt.Errorf("item %s: %w", id, common.ErrVersionConflict)
	}
	if err := checkStatus(resp, http.StatusOK, http.StatusCreated, http.StatusNoContent); err != nil {
		return "", err
	}
	return normalizeETag(resp.Header.Get("ETag")), nil
}

func (s *HTTPStore) Delete(ctx context.Context, id string, ifRevision string) error {
	resp, err := s.do(ctx, http.MethodDelete, "/api/items/"+url.PathEscape(id), nil, ifRevision)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode == http.StatusPreconditionFailed || resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("item %s: %w", id, common.ErrVersionConflict)
	}
	return checkStatus(resp, http.StatusOK, http.StatusNoContent)
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body []byte, ifRevision string) (*http.Response, error) {
	if err := s.checkToken(); err != nil {
		return nil, err
	}

	parsed, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	// keep any path prefix on the base URL, e.g. https://host/sync
	u := *s.base
	u.Path = strings.TrimSuffix(u.Path, "/") + parsed.Path
	u.RawQuery = parsed.RawQuery

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPut || method == http.MethodDelete {
		if ifRevision == "" {
			if method == http.MethodPut {
				req.Header.Set("If-None-Match", "*")
			}
		} else {
			req.Header.Set("If-Match", ifRevision)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// checkToken fails with ErrUnauthorized when the bearer token carries an
// expiry claim in the past. The signature is not verified; that is the
// server's job.
func (s *HTTPStore) checkToken() error {
	if s.token == "" {
		return fmt.Errorf("no session token: %w", common.ErrUnauthorized)
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(s.token, claims); err != nil {
		// opaque non-JWT tokens pass through, the server decides
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if s.now().After(exp.Time) {
		return fmt.Errorf("session expired at %s: %w", exp.Time.Format(time.RFC3339), common.ErrUnauthorized)
	}
	return nil
}

func checkStatus(resp *http.Response, want ...int) error {
	for _, code := range want {
		if resp.StatusCode == code {
			return nil
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("server returned %s: %w", resp.Status, common.ErrUnauthorized)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(body))
}
