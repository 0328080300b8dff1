package management

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/filterkit/internal/pkg/loader"
	"github.com/endorses/filterkit/internal/pkg/logger"
	"github.com/endorses/filterkit/internal/pkg/monitoring"
	"github.com/endorses/filterkit/pkg/dispatch"
	"github.com/endorses/filterkit/pkg/filters"
)

type Greeter interface {
	Greet(name string) string
}

type greeter struct{ greeting string }

func (g *greeter) Greet(name string) string { return g.greeting + " " + name }

type loud struct{ Greeter }

func (l loud) Greet(name string) string { return strings.ToUpper(l.Greeter.Greet(name)) }

func loudFilter(description string, priority int) *filters.Filter {
	return filters.MustNew(description, priority, func(g Greeter) Greeter { return loud{g} }, "Greet")
}

type fakeReloader struct {
	registry *filters.Registry
	pending  []*filters.Filter
	err      error
	failures []*loader.LoadError
	calls    int
}

func (f *fakeReloader) Load() (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	changed := f.registry.Load(f.pending...)
	f.pending = nil
	return changed, nil
}

func (f *fakeReloader) Failures() []*loader.LoadError { return f.failures }

type fixture struct {
	registry   *filters.Registry
	dispatcher *dispatch.Dispatcher
	server     *httptest.Server
	client     *Client
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	registry := filters.NewRegistry()
	registry.Load(loudFilter("loud", 1), loudFilter("louder", 2))
	d, err := dispatch.New(registry)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(registry, d, opts...).Handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{Address: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	return &fixture{registry: registry, dispatcher: d, server: srv, client: client}
}

func (f *fixture) handle(t *testing.T, description string) string {
	t.Helper()
	for _, filter := range f.registry.AllFilters() {
		if filter.Description() == description {
			return filter.Handle()
		}
	}
	t.Fatalf("no filter %q", description)
	return ""
}

func TestListAndActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list, err := f.client.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "loud", list[0].Description)
	assert.Equal(t, "louder", list[1].Description)
	assert.Equal(t, []string{"Greet"}, list[0].Operations)
	assert.True(t, list[0].Active)
	assert.Equal(t, f.handle(t, "loud"), list[0].Handle)

	active, err := f.client.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	for key, filter := range active {
		assert.True(t, strings.HasSuffix(key, ".Greet"), key)
		assert.Equal(t, "louder", filter.Description)
	}

	got, err := f.client.Get(ctx, list[0].Handle)
	require.NoError(t, err)
	assert.Equal(t, list[0], got)
}

func TestSetActiveAndPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handle := f.handle(t, "louder")

	out, err := f.client.SetActive(ctx, handle, false)
	require.NoError(t, err)
	assert.False(t, out.Active)

	active, err := f.client.Active(ctx)
	require.NoError(t, err)
	for _, filter := range active {
		assert.Equal(t, "loud", filter.Description)
	}

	out, err = f.client.SetPriority(ctx, f.handle(t, "loud"), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Priority)

	stored, ok := f.registry.ByHandle(f.handle(t, "loud"))
	require.True(t, ok)
	assert.Equal(t, 7, stored.Priority())
}

func TestUnknownHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = f.client.SetActive(ctx, "missing", true)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeNotFound, apiErr.Code)
}

func TestBadBody(t *testing.T) {
	f := newFixture(t)
	handle := f.handle(t, "loud")

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "not json", path: "/api/v1/filters/" + handle + "/active", body: "yes"},
		{name: "missing active", path: "/api/v1/filters/" + handle + "/active", body: `{}`},
		{name: "unknown field", path: "/api/v1/filters/" + handle + "/priority", body: `{"priority":1,"weight":2}`},
		{name: "missing priority", path: "/api/v1/filters/" + handle + "/priority", body: `{}`},
		{name: "cache without active", path: "/api/v1/cache", body: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPut, f.server.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), CodeInvalidArgument)
		})
	}
}

func TestReload(t *testing.T) {
	registry := filters.NewRegistry()
	d, err := dispatch.New(registry)
	require.NoError(t, err)

	reloader := &fakeReloader{
		registry: registry,
		pending:  []*filters.Filter{loudFilter("fresh", 1)},
		failures: []*loader.LoadError{{Path: "broken.so", Err: errors.New("bad symbol")}},
	}
	srv := httptest.NewServer(NewServer(registry, d, WithReloader(reloader)).Handler())
	defer srv.Close()
	client, err := NewClient(ClientConfig{Address: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	out, err := client.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 1, out.Stats.Loaded)
	require.Len(t, out.Failures, 1)
	assert.Contains(t, out.Failures[0], "broken.so")

	fresh := registry.AllFilters()[0]
	got, err := client.Get(ctx, fresh.Handle())
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Description)

	out, err = client.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, 2, reloader.calls)
}

func TestReloadUnavailable(t *testing.T) {
	t.Run("no loader", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.client.Reload(context.Background())
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
		assert.Equal(t, CodeUnavailable, apiErr.Code)
	})

	t.Run("source missing", func(t *testing.T) {
		reloader := &fakeReloader{err: fmt.Errorf("%w: /nowhere", loader.ErrSourceNotFound)}
		f := newFixture(t, WithReloader(reloader))
		_, err := f.client.Reload(context.Background())
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
		assert.Contains(t, apiErr.Message, "/nowhere")
	})

	t.Run("other failure", func(t *testing.T) {
		reloader := &fakeReloader{err: errors.New("manifest unreadable")}
		f := newFixture(t, WithReloader(reloader))
		_, err := f.client.Reload(context.Background())
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
		assert.Equal(t, CodeInternal, apiErr.Code)
	})
}

func TestCacheRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := &greeter{greeting: "hello"}
	res, err := f.dispatcher.Invoke(g, true, "Greet", "bob")
	require.NoError(t, err)
	assert.Equal(t, []any{"HELLO BOB"}, res)

	state, err := f.client.Cache(ctx)
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Equal(t, 1, state.Entries)
	require.Len(t, state.Keys, 1)
	assert.True(t, strings.HasSuffix(state.Keys[0], "#Greet+parents"), state.Keys[0])

	state, err = f.client.SetCacheActive(ctx, false)
	require.NoError(t, err)
	assert.False(t, state.Active)
	assert.False(t, f.dispatcher.CacheActive())

	state, err = f.client.SetCacheActive(ctx, true)
	require.NoError(t, err)
	assert.True(t, state.Active)

	_, err = f.dispatcher.Invoke(g, true, "Greet", "bob")
	require.NoError(t, err)
	require.Equal(t, 1, f.dispatcher.CacheLen())

	state, err = f.client.ClearCache(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.Entries)
	assert.Empty(t, state.Keys)
}

func TestStats(t *testing.T) {
	f := newFixture(t)

	stats, err := f.client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.registry.Stats(), stats)
	assert.Equal(t, 2, stats.Loaded)
	assert.Equal(t, 1, stats.Slots)
}

func TestConsole(t *testing.T) {
	buf := logger.NewConsoleBuffer(10)
	for i := 0; i < 3; i++ {
		buf.Add(logger.LogEntry{Time: time.Now(), Level: "INFO", Message: fmt.Sprintf("entry %d", i)})
	}
	f := newFixture(t, WithConsole(buf))
	ctx := context.Background()

	entries, err := f.client.Console(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "entry 2", entries[0].Message)
	assert.Equal(t, "entry 1", entries[1].Message)

	resp, err := http.Get(f.server.URL + "/api/v1/console?n=many")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bare := newFixture(t)
	entries, err = bare.client.Console(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))

	resp, err = http.Get(f.server.URL + "/api/v1/filters/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	id := resp.Header.Get(RequestIDHeader)
	assert.Len(t, id, 36)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"request_id":"`+id+`"`)
}

func TestHandleIndexFollowsLoads(t *testing.T) {
	f := newFixture(t)
	fresh := loudFilter("loudest", 3)
	require.True(t, f.registry.Load(fresh))

	stored, ok := f.registry.Get(fresh.ID())
	require.True(t, ok)

	got, err := f.client.Get(context.Background(), stored.Handle())
	require.NoError(t, err)
	assert.Equal(t, "loudest", got.Description)
	assert.Equal(t, 3, got.Priority)
}

func TestMetricsRoute(t *testing.T) {
	exporter := monitoring.NewPrometheusExporter()
	exporter.Enable()
	exporter.ObserveDispatch(dispatch.PathReal, time.Millisecond)
	f := newFixture(t, WithMetrics(exporter.Handler()))

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `filterkit_dispatch_total{path="real"} 1`)

	bare := newFixture(t)
	resp, err = http.Get(bare.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListenAndServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	registry := filters.NewRegistry()
	d, err := dispatch.New(registry)
	require.NoError(t, err)
	s := NewServer(registry, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, addr) }()

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)

	c, err := NewClient(ClientConfig{Address: "localhost:9464/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9464", c.GetAddress())

	c, err = NewClient(ClientConfig{Address: "https://mgmt.example:8443"})
	require.NoError(t, err)
	assert.Equal(t, "https://mgmt.example:8443", c.GetAddress())
}
