package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dashctl/config"
	"github.com/hazyhaar/dashctl/dbopen"
	"github.com/hazyhaar/dashctl/section"
	"github.com/hazyhaar/dashctl/surface/htmldoc"
)

const page = `<!doctype html><html><head><style>
.hidden { display: none; }
</style></head><body>
<section id="overview" class="show"><div class="card">1</div></section>
<section id="logs" class="hidden"><div class="card">1</div><div class="card">2</div></section>
</body></html>`

var testImpl = &mcp.Implementation{Name: "dashctl-test", Version: "0.1.0"}

func testConsole(t *testing.T, hooks ...config.HookConfig) (*Console, *htmldoc.Document) {
	t.Helper()
	doc, err := htmldoc.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Parse([]byte(`
surface: {html_file: page.html}
sections: [{id: overview}, {id: logs}]
initial: overview
`))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Hooks = hooks
	c, err := Build(context.Background(), cfg, doc, dbopen.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, doc
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestBuildShowsInitialAndAppliesTheme(t *testing.T) {
	c, doc := testConsole(t)
	if got := c.Controller().Active(); got != "overview" {
		t.Fatalf("active = %q", got)
	}
	v, err := doc.DocumentAttribute(context.Background(), "data-theme")
	if err != nil || v != "light" {
		t.Fatalf("data-theme = %q, %v", v, err)
	}
}

func TestHTTPShow(t *testing.T) {
	c, _ := testConsole(t)
	h := c.Routes()

	code, body := do(t, h, http.MethodPost, "/api/sections/logs/show", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d: %s", code, body)
	}
	var resp ShowResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Previous != "overview" || resp.Active != "logs" {
		t.Fatalf("resp = %+v", resp)
	}
	d := resp.Diagnosis
	if d.ComputedDisplay != "block" || d.CardCount != 2 || !d.HasClass("show") || d.HasClass("hidden") {
		t.Fatalf("diagnosis = %+v", d)
	}

	code, body = do(t, h, http.MethodGet, "/api/sections/overview", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var prev section.Diagnosis
	json.Unmarshal([]byte(body), &prev)
	if prev.ComputedDisplay != "none" || !prev.HasClass("hidden") {
		t.Fatalf("overview = %+v", prev)
	}
}

func TestHTTPErrors(t *testing.T) {
	c, _ := testConsole(t)
	h := c.Routes()

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/sections/nope/show", "", http.StatusNotFound},
		{http.MethodPut, "/api/theme", `{"theme":"sepia"}`, http.StatusBadRequest},
		{http.MethodPut, "/api/theme", `{`, http.StatusBadRequest},
		{http.MethodGet, "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		if code, body := do(t, h, tt.method, tt.path, tt.body); code != tt.want {
			t.Errorf("%s %s = %d, want %d: %s", tt.method, tt.path, code, tt.want, body)
		}
	}
	if got := c.Controller().Active(); got != "overview" {
		t.Fatalf("active changed to %q", got)
	}
}

func TestHTTPTheme(t *testing.T) {
	c, doc := testConsole(t)
	h := c.Routes()

	if code, body := do(t, h, http.MethodPut, "/api/theme", `{"theme":"dark"}`); code != http.StatusOK {
		t.Fatalf("put = %d: %s", code, body)
	}
	_, body := do(t, h, http.MethodGet, "/api/theme", "")
	if !strings.Contains(body, `"dark"`) {
		t.Fatalf("get = %s", body)
	}
	_, body = do(t, h, http.MethodPost, "/api/theme/toggle", "")
	if !strings.Contains(body, `"light"`) {
		t.Fatalf("toggle = %s", body)
	}
	if v, _ := doc.DocumentAttribute(context.Background(), "data-theme"); v != "light" {
		t.Fatalf("data-theme = %q", v)
	}
}

func TestHTTPJournal(t *testing.T) {
	c, _ := testConsole(t)
	h := c.Routes()
	do(t, h, http.MethodPost, "/api/sections/logs/show", "")
	do(t, h, http.MethodPost, "/api/sections/overview/show", "")

	code, body := do(t, h, http.MethodGet, "/api/journal?limit=2", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var resp JournalResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %+v", resp.Entries)
	}
	e := resp.Entries[0]
	if e.SectionID != "overview" || e.PreviousID != "logs" || e.Transport != "http" || e.RequestID == "" {
		t.Fatalf("newest = %+v", e)
	}
}

func TestPersistCalledAfterMutation(t *testing.T) {
	c, _ := testConsole(t)
	var n atomic.Int32
	c.SetPersist(func() error { n.Add(1); return nil })
	h := c.Routes()

	do(t, h, http.MethodPost, "/api/sections/logs/show", "")
	do(t, h, http.MethodPost, "/api/theme/toggle", "")
	do(t, h, http.MethodPost, "/api/sections/nope/show", "")
	do(t, h, http.MethodGet, "/api/sections", "")
	if got := n.Load(); got != 2 {
		t.Fatalf("persist calls = %d, want 2", got)
	}
}

func mcpSession(t *testing.T, c *Console) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	c.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, s *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

func TestMCPTools(t *testing.T) {
	c, _ := testConsole(t)
	s := mcpSession(t, c)

	text, isErr := callTool(t, s, "dashctl_show", map[string]any{"id": "logs"})
	if isErr {
		t.Fatalf("show: %s", text)
	}
	var show ShowResponse
	json.Unmarshal([]byte(text), &show)
	if show.Previous != "overview" {
		t.Fatalf("show = %+v", show)
	}

	text, isErr = callTool(t, s, "dashctl_show", map[string]any{"id": "ghost"})
	if !isErr || !strings.Contains(text, "not found") {
		t.Fatalf("unknown show = %v %s", isErr, text)
	}

	text, _ = callTool(t, s, "dashctl_diagnose", map[string]any{})
	var all []section.Diagnosis
	if err := json.Unmarshal([]byte(text), &all); err != nil || len(all) != 2 {
		t.Fatalf("diagnose all = %s", text)
	}

	text, _ = callTool(t, s, "dashctl_sections", map[string]any{})
	var secs SectionsResponse
	json.Unmarshal([]byte(text), &secs)
	if secs.Active != "logs" || len(secs.Sections) != 2 {
		t.Fatalf("sections = %s", text)
	}

	if text, isErr = callTool(t, s, "dashctl_theme_set", map[string]any{"theme": "dark"}); isErr {
		t.Fatalf("theme_set: %s", text)
	}
	text, _ = callTool(t, s, "dashctl_theme_toggle", map[string]any{})
	if !strings.Contains(text, "light") {
		t.Fatalf("toggle = %s", text)
	}
	text, _ = callTool(t, s, "dashctl_theme_get", map[string]any{})
	if !strings.Contains(text, "light") {
		t.Fatalf("get = %s", text)
	}

	text, _ = callTool(t, s, "dashctl_journal", map[string]any{"section_id": "logs"})
	var j JournalResponse
	json.Unmarshal([]byte(text), &j)
	if len(j.Entries) != 1 || j.Entries[0].Transport != "mcp" {
		t.Fatalf("journal = %s", text)
	}
}

func TestWebhookHook(t *testing.T) {
	var mu sync.Mutex
	var got []string
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body struct {
			Section string `json:"section"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, body.Section)
		mu.Unlock()
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	defer w.Close()
	hook := w.Hook()
	if err := hook(context.Background(), "logs"); err != nil {
		t.Fatal(err)
	}
	w.Wait()

	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 (one retry)", calls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "logs" {
		t.Fatalf("got = %v", got)
	}
}

func TestWebhookExhausted(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body activation
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		attempts = append(attempts, body.Attempt)
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookRetries(2))
	err := w.deliver(context.Background(), "x", time.Now())
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("err = %v", err)
	}
	mu.Lock()
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Fatalf("attempts = %v, want [1 2 3]", attempts)
	}
	mu.Unlock()

	w.Close()
	if err := w.Hook()(context.Background(), "x"); !errors.Is(err, ErrWebhookClosed) {
		t.Fatalf("hook on closed webhook: err = %v", err)
	}
}

func TestWebhookRejectedNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	defer w.Close()
	err := w.deliver(context.Background(), "logs", time.Now())
	if err == nil || !strings.Contains(err.Error(), "rejected with status 422") {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestWebhookCloseAbandonsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Hour))
	if err := w.Hook()(context.Background(), "logs"); err != nil {
		t.Fatal(err)
	}
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on a pending retry")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestWebhookConcurrentHookClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	for range 20 {
		w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
		hook := w.Hook()
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := hook(context.Background(), "logs"); err != nil && !errors.Is(err, ErrWebhookClosed) {
					t.Errorf("hook: %v", err)
				}
			}()
		}
		w.Close()
		wg.Wait()
		w.Close()
		if err := hook(context.Background(), "logs"); !errors.Is(err, ErrWebhookClosed) {
			t.Fatalf("hook after Close: err = %v", err)
		}
	}
}

func TestBuildRegistersWebhooks(t *testing.T) {
	hit := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Section string `json:"section"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		hit <- body.Section
	}))
	defer srv.Close()

	c, _ := testConsole(t, config.HookConfig{Section: "logs", URL: srv.URL, Timeout: time.Second, MaxRetries: 1})
	if _, err := c.Controller().Show(context.Background(), "logs"); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-hit:
		if id != "logs" {
			t.Fatalf("hook section = %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestCORSPreflight(t *testing.T) {
	base, _ := testConsole(t)
	c := New(base.Controller(), base.Preference(), WithCORS("http://localhost:3000"))

	req := httptest.NewRequest(http.MethodOptions, "/api/theme", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	c.Routes().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/theme", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec = httptest.NewRecorder()
	c.Routes().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}
