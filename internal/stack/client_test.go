package stack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStackClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tc, err := transport.NewClient(transport.Options{
		BaseURL:     server.URL,
		Version:     "v3",
		APIKey:      "blt123",
		AccessToken: "cs456",
		MaxAttempts: 1,
	}, discardLogger())
	if err != nil {
		t.Fatalf("transport.NewClient: %v", err)
	}
	return NewClient(tc, 10, 3, discardLogger())
}

func TestGetStack(t *testing.T) {
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/stacks" || r.URL.Query().Get("include_discrete_variables") != "true" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(`{"stack":{"name":"demo","api_key":"blt123","master_locale":"en-us","discrete_variables":{"_version":3}}}`))
	}))

	s, err := c.GetStack(context.Background())
	if err != nil {
		t.Fatalf("GetStack: %v", err)
	}
	if s.Name != "demo" || !s.SupportsBulk() {
		t.Errorf("stack = %+v", s)
	}
}

func TestGetStackMissing(t *testing.T) {
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	_, err := c.GetStack(context.Background())
	if !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("expected AUTH error, got %v", err)
	}
}

func TestLoginSetsAuthtoken(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("authtoken"))
		mu.Unlock()
		switch r.URL.Path {
		case "/v3/user-session":
			var body struct {
				User struct {
					Email    string `json:"email"`
					Password string `json:"password"`
				} `json:"user"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.User.Email != "ops@example.com" || body.User.Password != "s3cret" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			_, _ = w.Write([]byte(`{"user":{"authtoken":"tok-1"}}`))
		default:
			_, _ = w.Write([]byte(`{"environments":[]}`))
		}
	}))

	if err := c.Login(context.Background(), "ops@example.com", "s3cret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := c.ListEnvironments(context.Background()); err != nil {
		t.Fatalf("ListEnvironments: %v", err)
	}
	if len(seen) != 2 || seen[0] != "" || seen[1] != "tok-1" {
		t.Errorf("authtoken headers = %v", seen)
	}

	if err := c.Login(context.Background(), "ops@example.com", "wrong"); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("bad password: expected AUTH error, got %v", err)
	}
}

func TestGetEnvironment(t *testing.T) {
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v3/environments/production" {
			_, _ = w.Write([]byte(`{"environment":{"uid":"env-prod","name":"production","servers":[{"name":"default"}]}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_message":"not found"}`))
	}))

	env, err := c.GetEnvironment(context.Background(), "production")
	if err != nil {
		t.Fatalf("GetEnvironment: %v", err)
	}
	if env.UID != "env-prod" || len(env.Servers) != 1 {
		t.Errorf("environment = %+v", env)
	}

	_, err = c.GetEnvironment(context.Background(), "staging")
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("expected CONFIGURATION for unknown environment, got %v", err)
	}
}

// pagedHandler serves total items of kind under key with skip/limit paging.
func pagedHandler(t *testing.T, key string, total int, record func(i int) string, onRequest func(r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if onRequest != nil {
			onRequest(r)
		}
		q := r.URL.Query()
		skip, _ := strconv.Atoi(q.Get("skip"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		var items []string
		for i := skip; i < skip+limit && i < total; i++ {
			items = append(items, record(i))
		}
		body := fmt.Sprintf(`{%q:[%s]`, key, strings.Join(items, ","))
		if q.Get("include_count") == "true" {
			body += fmt.Sprintf(`,"count":%d`, total)
		}
		body += "}"
		_, _ = w.Write([]byte(body))
	}
}

func TestContentTypesPaginated(t *testing.T) {
	var mu sync.Mutex
	requests := 0
	c := newTestStackClient(t, pagedHandler(t, "content_types", 25, func(i int) string {
		return fmt.Sprintf(`{"uid":"ct%02d","title":"CT %d"}`, i, i)
	}, func(r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
	}))

	types, err := c.ContentTypes(context.Background())
	if err != nil {
		t.Fatalf("ContentTypes: %v", err)
	}
	if len(types) != 25 {
		t.Fatalf("got %d types, want 25", len(types))
	}
	if types[0].UID != "ct00" || types[24].UID != "ct24" {
		t.Errorf("order not preserved: first=%s last=%s", types[0].UID, types[24].UID)
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 3", requests)
	}
}

func TestEntriesQuery(t *testing.T) {
	var gotPath, gotLocale, gotEnv, gotQuery string
	var gotOnly []string
	c := newTestStackClient(t, pagedHandler(t, "entries", 3, func(i int) string {
		return fmt.Sprintf(`{"uid":"e%d","title":"Entry %d","_version":1}`, i, i)
	}, func(r *http.Request) {
		gotPath = r.URL.Path
		q := r.URL.Query()
		gotLocale, gotEnv, gotQuery = q.Get("locale"), q.Get("environment"), q.Get("query")
		gotOnly = q["only[BASE][]"]
	}))

	entries, malformed, err := c.Entries(context.Background(), "blog", Query{
		Locale:      "en-us",
		Environment: "production",
		Filter:      map[string]any{"published_at": map[string]any{"$gte": "2024-01-01T00:00:00Z"}},
		Only:        []string{"title", "publish_details"},
	})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 || entries[2].UID != "e2" {
		t.Errorf("entries = %+v", entries)
	}
	if malformed != 0 {
		t.Errorf("malformed = %d, want 0", malformed)
	}
	if gotPath != "/v3/content_types/blog/entries" {
		t.Errorf("path = %q", gotPath)
	}
	if gotLocale != "en-us" || gotEnv != "production" {
		t.Errorf("locale/env = %q/%q", gotLocale, gotEnv)
	}
	if !strings.Contains(gotQuery, `"$gte":"2024-01-01T00:00:00Z"`) {
		t.Errorf("query = %q", gotQuery)
	}
	if len(gotOnly) != 2 {
		t.Errorf("only = %v", gotOnly)
	}
}

func TestAssetsPageFailure(t *testing.T) {
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("skip") == "10" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		pagedHandler(t, "assets", 30, func(i int) string {
			return fmt.Sprintf(`{"uid":"a%d","filename":"f%d.png"}`, i, i)
		}, nil)(w, r)
	}))

	assets, _, err := c.Assets(context.Background(), Query{Locale: "en-us"})
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("expected UPSTREAM error, got %v", err)
	}
	if assets != nil {
		t.Errorf("expected no partial result, got %d", len(assets))
	}
}

func TestEntriesSkipMalformedRecords(t *testing.T) {
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"entries":[
			{"uid":"good","title":"Good","_version":2,"publish_details":{"environment":"env-prod","locale":"en-us","time":"2024-01-01T10:00:00Z"}},
			{"uid":"bad","title":"Bad","_version":1,"publish_details":{"environment":"env-prod","locale":"en-us","time":"2024-01-01 10:00:00"}}
		],"count":2}`)
	}))

	entries, malformed, err := c.Entries(context.Background(), "blog", Query{Locale: "en-us"})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].UID != "good" {
		t.Errorf("entries = %+v, want only good", entries)
	}
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}
}

func TestAssetsSkipMalformedRecords(t *testing.T) {
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"assets":[
			{"uid":"a1","filename":"logo.png","_version":"three"},
			{"uid":"a2","filename":"hero.jpg","_version":1}
		],"count":2}`)
	}))

	assets, malformed, err := c.Assets(context.Background(), Query{Locale: "en-us"})
	if err != nil {
		t.Fatalf("Assets: %v", err)
	}
	if len(assets) != 1 || assets[0].UID != "a2" {
		t.Errorf("assets = %+v, want only a2", assets)
	}
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}
}

func TestPublishEntryBody(t *testing.T) {
	var gotPath string
	var body map[string]map[string]any
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"notice":"queued"}`))
	}))

	err := c.PublishEntry(context.Background(), EventPublish, EntryPublish{
		ContentTypeUID:   "blog",
		ContentTypeTitle: "Blog",
		EntryUID:         "e1",
		Title:            "Hello",
		Locale:           "en-us",
		Version:          3,
		Environments:     []string{"env-prod"},
		Restore:          true,
		BulkSync:         true,
	})
	if err != nil {
		t.Fatalf("PublishEntry: %v", err)
	}
	if gotPath != "/v3/content_types/blog/entries/e1/publish" {
		t.Errorf("path = %q", gotPath)
	}
	entry := body["entry"]
	inner, _ := entry["entry"].(map[string]any)
	if inner["entry_uid"] != "e1" || inner["title"] != "Hello" || inner["version"] != float64(3) {
		t.Errorf("inner entry = %v", inner)
	}
	ct, _ := entry["content_type"].(map[string]any)
	if ct["uid"] != "blog" {
		t.Errorf("content_type = %v", ct)
	}
	if envs, _ := entry["environment"].([]any); len(envs) != 1 || envs[0] != "env-prod" {
		t.Errorf("environment = %v", entry["environment"])
	}
	if entry["restore"] != true || entry["bulkSync"] != true {
		t.Errorf("sync flags missing: %v", entry)
	}
}

func TestPublishAssetUnpublish(t *testing.T) {
	var gotPath string
	var body map[string]map[string]any
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{}`))
	}))

	err := c.PublishAsset(context.Background(), EventUnpublish, AssetPublish{
		UID:          "a1",
		Title:        "logo.png",
		Locale:       "en-us",
		Environments: []string{"env-prod", "env-stage"},
	})
	if err != nil {
		t.Fatalf("PublishAsset: %v", err)
	}
	if gotPath != "/v3/assets/a1/unpublish" {
		t.Errorf("path = %q", gotPath)
	}
	if _, ok := body["entry"]["restore"]; ok {
		t.Error("direct publish must not carry restore flag")
	}
	if envs, _ := body["entry"]["environment"].([]any); len(envs) != 2 {
		t.Errorf("environment = %v", body["entry"]["environment"])
	}
}

func TestPublishUnknownEvent(t *testing.T) {
	c := newTestStackClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	err := c.PublishAsset(context.Background(), "delete", AssetPublish{UID: "a1"})
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected CONFIGURATION error, got %v", err)
	}
}
