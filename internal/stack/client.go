// Package stack is the typed client for the content management REST API.
package stack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/paginate"
	"github.com/BadgerOps/stacksync/internal/transport"
)

// Publish events accepted by the publish endpoints.
const (
	EventPublish   = "publish"
	EventUnpublish = "unpublish"
)

// Caller is the transport surface the client needs.
type Caller interface {
	CallJSON(ctx context.Context, req transport.Request, out any) error
	SetHeader(key, value string)
}

// Client issues typed API calls. Collection reads are drained through the
// paginator.
type Client struct {
	caller          Caller
	pageSize        int
	pageConcurrency int
	logger          *slog.Logger
}

// NewClient wraps caller. pageSize and pageConcurrency bound collection reads.
func NewClient(caller Caller, pageSize, pageConcurrency int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	if pageConcurrency <= 0 {
		pageConcurrency = 1
	}
	return &Client{
		caller:          caller,
		pageSize:        pageSize,
		pageConcurrency: pageConcurrency,
		logger:          logger,
	}
}

// WithPageSize returns a copy of the client that drains collections with a
// different page size.
func (c *Client) WithPageSize(n int) *Client {
	cp := *c
	if n > 0 {
		cp.pageSize = n
	}
	return &cp
}

// GetStack fetches the stack the credentials address, including its schema
// version. A response without a stack means the credentials were rejected.
func (c *Client) GetStack(ctx context.Context) (*Stack, error) {
	var resp struct {
		Stack *Stack `json:"stack"`
	}
	err := c.caller.CallJSON(ctx, transport.Request{
		Path:  "/stacks",
		Query: url.Values{"include_discrete_variables": {"true"}},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetching stack: %w", err)
	}
	if resp.Stack == nil {
		return nil, apperr.New(apperr.CodeAuth, "stack.get", "no stack returned for the configured api key")
	}
	return resp.Stack, nil
}

// Login opens a user session and attaches its authtoken to every later call.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		User struct {
			AuthToken string `json:"authtoken"`
		} `json:"user"`
	}
	body := map[string]any{
		"user": map[string]string{"email": email, "password": password},
	}
	err := c.caller.CallJSON(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/user-session",
		Body:   body,
	}, &resp)
	if err != nil {
		if errors.Is(err, apperr.ErrUpstreamPermanent) {
			return apperr.Wrap(apperr.CodeAuth, "stack.login", err)
		}
		return fmt.Errorf("logging in: %w", err)
	}
	if resp.User.AuthToken == "" {
		return apperr.New(apperr.CodeAuth, "stack.login", "login response carried no authtoken")
	}
	c.caller.SetHeader("authtoken", resp.User.AuthToken)
	c.logger.Debug("user session opened", "user", email)
	return nil
}

// GetEnvironment fetches one environment by name. An unknown name is a
// configuration error.
func (c *Client) GetEnvironment(ctx context.Context, name string) (*Environment, error) {
	var resp struct {
		Environment *Environment `json:"environment"`
	}
	err := c.caller.CallJSON(ctx, transport.Request{
		Path: "/environments/" + url.PathEscape(name),
	}, &resp)
	if err != nil {
		var httpErr *transport.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, apperr.Newf(apperr.CodeConfiguration, "stack.environment", "environment %q not found", name)
		}
		return nil, fmt.Errorf("fetching environment %q: %w", name, err)
	}
	if resp.Environment == nil || resp.Environment.UID == "" {
		return nil, apperr.Newf(apperr.CodeConfiguration, "stack.environment", "environment %q not found", name)
	}
	return resp.Environment, nil
}

// ListEnvironments fetches every environment of the stack.
func (c *Client) ListEnvironments(ctx context.Context) ([]Environment, error) {
	var resp struct {
		Environments []Environment `json:"environments"`
	}
	if err := c.caller.CallJSON(ctx, transport.Request{Path: "/environments"}, &resp); err != nil {
		return nil, fmt.Errorf("listing environments: %w", err)
	}
	return resp.Environments, nil
}

// ContentTypes drains every content type of the stack.
func (c *Client) ContentTypes(ctx context.Context) ([]ContentType, error) {
	fetch := func(ctx context.Context, p paginate.Page) ([]ContentType, int, error) {
		var resp struct {
			ContentTypes []ContentType `json:"content_types"`
			Count        int           `json:"count"`
		}
		q := pageQuery(p)
		q.Set("desc", "created_at")
		err := c.caller.CallJSON(ctx, transport.Request{Path: "/content_types", Query: q}, &resp)
		return resp.ContentTypes, resp.Count, err
	}
	types, err := paginate.Drain(ctx, fetch, c.pageSize, c.pageConcurrency)
	if err != nil {
		return nil, fmt.Errorf("listing content types: %w", err)
	}
	return types, nil
}

// Query narrows an entry or asset collection read.
type Query struct {
	Locale      string
	Environment string
	// Filter is a JSON query document, e.g. {"published_at":{"$gte":...}}.
	Filter map[string]any
	// Only restricts the returned base fields.
	Only []string
}

func (q Query) values(p paginate.Page) (url.Values, error) {
	v := pageQuery(p)
	if q.Locale != "" {
		v.Set("locale", q.Locale)
	}
	if q.Environment != "" {
		v.Set("environment", q.Environment)
	}
	if len(q.Filter) > 0 {
		data, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("encoding query: %w", err)
		}
		v.Set("query", string(data))
	}
	for _, f := range q.Only {
		v.Add("only[BASE][]", f)
	}
	return v, nil
}

// Entries drains every entry of a content type matching q. Entries that fail
// to decode are logged and left out; malformed reports how many.
func (c *Client) Entries(ctx context.Context, contentType string, q Query) (entries []Entry, malformed int, err error) {
	path := "/content_types/" + url.PathEscape(contentType) + "/entries"
	var bad atomic.Int64
	fetch := func(ctx context.Context, p paginate.Page) ([]Entry, int, error) {
		values, err := q.values(p)
		if err != nil {
			return nil, 0, err
		}
		values.Set("desc", "created_at")
		var resp struct {
			Entries []json.RawMessage `json:"entries"`
			Count   int               `json:"count"`
		}
		if err := c.caller.CallJSON(ctx, transport.Request{Path: path, Query: values}, &resp); err != nil {
			return nil, 0, err
		}
		items, n := decodeRecords[Entry](resp.Entries, "entry", c.logger)
		bad.Add(int64(n))
		return items, resp.Count, nil
	}
	entries, err = paginate.Drain(ctx, fetch, c.pageSize, c.pageConcurrency)
	if err != nil {
		return nil, 0, fmt.Errorf("listing entries of %s: %w", contentType, err)
	}
	return entries, int(bad.Load()), nil
}

// Assets drains every asset matching q. Assets that fail to decode are logged
// and left out; malformed reports how many.
func (c *Client) Assets(ctx context.Context, q Query) (assets []Asset, malformed int, err error) {
	var bad atomic.Int64
	fetch := func(ctx context.Context, p paginate.Page) ([]Asset, int, error) {
		values, err := q.values(p)
		if err != nil {
			return nil, 0, err
		}
		var resp struct {
			Assets []json.RawMessage `json:"assets"`
			Count  int               `json:"count"`
		}
		if err := c.caller.CallJSON(ctx, transport.Request{Path: "/assets", Query: values}, &resp); err != nil {
			return nil, 0, err
		}
		items, n := decodeRecords[Asset](resp.Assets, "asset", c.logger)
		bad.Add(int64(n))
		return items, resp.Count, nil
	}
	assets, err = paginate.Drain(ctx, fetch, c.pageSize, c.pageConcurrency)
	if err != nil {
		return nil, 0, fmt.Errorf("listing assets: %w", err)
	}
	return assets, int(bad.Load()), nil
}

// decodeRecords decodes each element of a page on its own so that one bad
// record does not fail the page. It returns the decoded records and the number
// skipped.
func decodeRecords[T any](raw []json.RawMessage, kind string, logger *slog.Logger) ([]T, int) {
	out := make([]T, 0, len(raw))
	skipped := 0
	for _, msg := range raw {
		var v T
		if err := json.Unmarshal(msg, &v); err != nil {
			skipped++
			var id struct {
				UID string `json:"uid"`
			}
			_ = json.Unmarshal(msg, &id)
			logger.Warn("skipping malformed record", "kind", kind, "uid", id.UID,
				"error", apperr.Wrap(apperr.CodeMalformedRecord, "stack.decode", err))
			continue
		}
		out = append(out, v)
	}
	return out, skipped
}

// EntryPublish is the payload for publishing or unpublishing one entry.
type EntryPublish struct {
	ContentTypeUID   string
	ContentTypeTitle string
	EntryUID         string
	Title            string
	Locale           string
	Version          int
	Environments     []string
	// Restore and BulkSync mark re-issued publishes of previously published
	// content.
	Restore  bool
	BulkSync bool
}

// PublishEntry posts a publish or unpublish event for one entry.
func (c *Client) PublishEntry(ctx context.Context, event string, p EntryPublish) error {
	if err := checkEvent(event); err != nil {
		return err
	}
	entry := map[string]any{
		"entry": map[string]any{
			"title":     p.Title,
			"entry_uid": p.EntryUID,
			"locale":    p.Locale,
			"version":   p.Version,
		},
		"content_type": map[string]any{
			"title": p.ContentTypeTitle,
			"uid":   p.ContentTypeUID,
		},
		"environment": p.Environments,
		"locale":      []string{p.Locale},
	}
	if p.Restore {
		entry["restore"] = true
	}
	if p.BulkSync {
		entry["bulkSync"] = true
	}
	path := "/content_types/" + url.PathEscape(p.ContentTypeUID) + "/entries/" + url.PathEscape(p.EntryUID) + "/" + event
	err := c.caller.CallJSON(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   map[string]any{"entry": entry},
	}, nil)
	if err != nil {
		return fmt.Errorf("%s entry %s: %w", event, p.EntryUID, err)
	}
	return nil
}

// AssetPublish is the payload for publishing or unpublishing one asset.
type AssetPublish struct {
	UID          string
	Title        string
	Locale       string
	Version      int
	Environments []string
	Restore      bool
	BulkSync     bool
}

// PublishAsset posts a publish or unpublish event for one asset.
func (c *Client) PublishAsset(ctx context.Context, event string, p AssetPublish) error {
	if err := checkEvent(event); err != nil {
		return err
	}
	inner := map[string]any{
		"uid":   p.UID,
		"title": p.Title,
	}
	if p.Version > 0 {
		inner["version"] = p.Version
	}
	asset := map[string]any{
		"entry":       inner,
		"locale":      []string{p.Locale},
		"environment": p.Environments,
	}
	if p.Restore {
		asset["restore"] = true
	}
	if p.BulkSync {
		asset["bulkSync"] = true
	}
	err := c.caller.CallJSON(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/assets/" + url.PathEscape(p.UID) + "/" + event,
		Body:   map[string]any{"entry": asset},
	}, nil)
	if err != nil {
		return fmt.Errorf("%s asset %s: %w", event, p.UID, err)
	}
	return nil
}

func checkEvent(event string) error {
	if event != EventPublish && event != EventUnpublish {
		return apperr.Newf(apperr.CodeConfiguration, "stack.publish", "unknown publish event %q", event)
	}
	return nil
}

func pageQuery(p paginate.Page) url.Values {
	v := url.Values{}
	v.Set("skip", strconv.Itoa(p.Skip))
	v.Set("limit", strconv.Itoa(p.Limit))
	if p.IncludeCount {
		v.Set("include_count", "true")
	}
	return v
}
