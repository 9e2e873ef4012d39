package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/priyankagnana/Kanvo/domain"
)

const (
	headerScopeVersion       = "X-Scope-Version"
	headerSourceScopeVersion = "X-Source-Scope-Version"
	headerIdempotencyKey     = "Idempotency-Key"
)

// StatusError is a non-2xx answer that maps to no domain error.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kanvo api: %d %s", e.Code, e.Message)
}

// HTTPClient talks to the /api/v1 surface of the Kanvo server.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for baseURL (for example
// "https://host/api/v1") that authenticates with the bearer token.
func NewHTTPClient(baseURL, token string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

type idRef struct {
	ID string `json:"id"`
}

func refs(ids []string) []idRef {
	out := make([]idRef, len(ids))
	for i, id := range ids {
		out[i] = idRef{ID: id}
	}
	return out
}

type reorderPayload struct {
	Boards  []idRef `json:"boards"`
	Version *int64  `json:"version,omitempty"`
}

type positionPayload struct {
	ResourceList         []idRef `json:"resourceList"`
	DestinationList      []idRef `json:"destinationList"`
	ResourceSectionID    string  `json:"resourceSectionId"`
	DestinationSectionID string  `json:"destinationSectionId"`
	ResourceVersion      *int64  `json:"resourceVersion,omitempty"`
	DestinationVersion   *int64  `json:"destinationVersion,omitempty"`
}

// Persist writes a drop. Board and favourite moves reorder the whole scope;
// task moves use the two-list endpoint.
func (c *HTTPClient) Persist(ctx context.Context, m Move) (domain.ScopeVersions, error) {
	switch m.Destination.Kind {
	case domain.ScopeBoards, domain.ScopeFavourites:
		if m.CrossScope() {
			return nil, ErrCrossScope
		}
		path := "/boards"
		if m.Destination.Kind == domain.ScopeFavourites {
			path = "/boards/favourites"
		}
		header, err := c.send(ctx, http.MethodPut, path, reorderPayload{Boards: refs(m.DestinationList), Version: m.DestinationVersion}, nil, true)
		if err != nil {
			return nil, err
		}
		versions := domain.ScopeVersions{}
		if v, ok := versionHeader(header, headerScopeVersion); ok {
			versions[m.Destination] = v
		}
		return versions, nil
	case domain.ScopeTasks:
		body := positionPayload{
			ResourceList:         refs(m.SourceList),
			DestinationList:      refs(m.DestinationList),
			ResourceSectionID:    m.Source.Section,
			DestinationSectionID: m.Destination.Section,
			ResourceVersion:      m.SourceVersion,
			DestinationVersion:   m.DestinationVersion,
		}
		path := "/boards/" + url.PathEscape(m.Destination.Owner) + "/tasks/update-position"
		header, err := c.send(ctx, http.MethodPut, path, body, nil, true)
		if err != nil {
			return nil, err
		}
		versions := domain.ScopeVersions{}
		if v, ok := versionHeader(header, headerScopeVersion); ok {
			versions[m.Destination] = v
		}
		if v, ok := versionHeader(header, headerSourceScopeVersion); ok && m.CrossScope() {
			versions[m.Source] = v
		}
		return versions, nil
	}
	return nil, fmt.Errorf("%w: unknown scope kind %q", domain.ErrValidation, m.Destination.Kind)
}

// ListBoards returns the user's boards in display order.
func (c *HTTPClient) ListBoards(ctx context.Context) (domain.BoardList, error) {
	return c.boardList(ctx, "/boards")
}

// ListFavourites returns the user's favourite boards in display order.
func (c *HTTPClient) ListFavourites(ctx context.Context) (domain.BoardList, error) {
	return c.boardList(ctx, "/boards/favourites")
}

func (c *HTTPClient) boardList(ctx context.Context, path string) (domain.BoardList, error) {
	var list domain.BoardList
	header, err := c.send(ctx, http.MethodGet, path, nil, &list.Boards, false)
	if err != nil {
		return domain.BoardList{}, err
	}
	list.Version, _ = versionHeader(header, headerScopeVersion)
	return list, nil
}

// GetBoard returns a board with its sections and their tasks.
func (c *HTTPClient) GetBoard(ctx context.Context, boardID string) (domain.BoardDetail, error) {
	var detail domain.BoardDetail
	_, err := c.send(ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID), nil, &detail, false)
	return detail, err
}

// UpdateBoard sends a partial board edit.
func (c *HTTPClient) UpdateBoard(ctx context.Context, boardID string, fields map[string]any) (domain.Board, error) {
	var b domain.Board
	_, err := c.send(ctx, http.MethodPut, "/boards/"+url.PathEscape(boardID), fields, &b, false)
	return b, err
}

// UpdateTask sends a partial task edit.
func (c *HTTPClient) UpdateTask(ctx context.Context, boardID, taskID string, fields map[string]any) (domain.Task, error) {
	var t domain.Task
	path := "/boards/" + url.PathEscape(boardID) + "/tasks/" + url.PathEscape(taskID)
	_, err := c.send(ctx, http.MethodPut, path, fields, &t, false)
	return t, err
}

// Refetch loads the authoritative order of scope. It matches RefetchFunc.
func (c *HTTPClient) Refetch(ctx context.Context, scope domain.Scope) ([]string, int64, error) {
	switch scope.Kind {
	case domain.ScopeBoards, domain.ScopeFavourites:
		fetch := c.ListBoards
		if scope.Kind == domain.ScopeFavourites {
			fetch = c.ListFavourites
		}
		list, err := fetch(ctx)
		if err != nil {
			return nil, 0, err
		}
		ids := make([]string, len(list.Boards))
		for i, b := range list.Boards {
			ids[i] = b.ID
		}
		return ids, list.Version, nil
	case domain.ScopeTasks:
		detail, err := c.GetBoard(ctx, scope.Owner)
		if err != nil {
			return nil, 0, err
		}
		for _, sec := range detail.Sections {
			if sec.ID != scope.Section {
				continue
			}
			ids := make([]string, len(sec.Tasks))
			for i, t := range sec.Tasks {
				ids[i] = t.ID
			}
			return ids, sec.Version, nil
		}
		return nil, 0, fmt.Errorf("section %s: %w", scope.Section, domain.ErrNotFound)
	}
	return nil, 0, fmt.Errorf("%w: unknown scope kind %q", domain.ErrValidation, scope.Kind)
}

// send performs one request. Reorders carry a fresh Idempotency-Key so a
// transport level retry is not applied twice.
func (c *HTTPClient) send(ctx context.Context, method, path string, body, out any, idempotent bool) (http.Header, error) {
	var rd io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if idempotent {
		req.Header.Set(headerIdempotencyKey, uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(method, path, resp.StatusCode, data)
	}
	if out != nil {
		if err := sonic.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.Header, nil
}

func statusError(method, path string, code int, body []byte) error {
	var msg string
	if err := sonic.Unmarshal(body, &msg); err != nil {
		msg = strings.TrimSpace(string(body))
	}
	var sentinel error
	switch code {
	case http.StatusBadRequest:
		sentinel = domain.ErrValidation
	case http.StatusNotFound:
		sentinel = domain.ErrNotFound
	case http.StatusConflict:
		sentinel = domain.ErrConcurrencyConflict
	default:
		return fmt.Errorf("%s %s: %w", method, path, &StatusError{Code: code, Message: msg})
	}
	return fmt.Errorf("%s %s: %w: %s", method, path, sentinel, msg)
}

func versionHeader(h http.Header, name string) (int64, bool) {
	raw := h.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	return v, err == nil
}
