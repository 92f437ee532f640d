package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderbartels/marble/effect"
	"github.com/alexanderbartels/marble/event"
	"github.com/alexanderbartels/marble/gateway"
	"github.com/alexanderbartels/marble/router"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// respond builds a routed effect returning a fixed body.
func respond(status int, data any) effect.Effect {
	return effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
		return event.New("response", Body{Status: status, Data: data}), nil
	})
}

func newTestListener(t *testing.T, cfg Config) *Listener {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	listener, err := NewListener(cfg, effect.NewContext(nil))
	require.NoError(t, err)
	return listener
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestListenerServesMatchedRoute(t *testing.T) {
	listener := newTestListener(t, Config{
		Effects: []router.Route{
			{Method: "GET", Path: "/ping", Effect: respond(http.StatusOK, map[string]string{"pong": "yes"})},
		},
	})

	rec := httptest.NewRecorder()
	listener.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "yes", decodeBody(t, rec)["pong"])
}

func TestListenerExtractsPathParams(t *testing.T) {
	paramEcho := effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
		req := ev.Payload.(*Request)
		id, _ := req.Param("id")
		postID, _ := req.Param("postId")
		return event.New("response", Body{
			Status: http.StatusOK,
			Data:   map[string]string{"id": id, "postId": postID},
		}), nil
	})

	listener := newTestListener(t, Config{
		Effects: []router.Route{
			{Method: "GET", Path: "/users/:id/posts/:postId", Effect: paramEcho},
		},
	})

	rec := httptest.NewRecorder()
	listener.ServeHTTP(rec, httptest.NewRequest("GET", "/users/42/posts/7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "42", body["id"])
	assert.Equal(t, "7", body["postId"])
}

func TestListenerNotFoundSkipsMiddleware(t *testing.T) {
	var middlewareRuns int
	counting := effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
		middlewareRuns++
		return ev, nil
	})

	listener := newTestListener(t, Config{
		Middlewares: []effect.Effect{counting},
		Effects: []router.Route{
			{Method: "GET", Path: "/users", Effect: respond(http.StatusOK, nil)},
		},
	})

	rec := httptest.NewRecorder()
	listener.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, middlewareRuns, "middleware never runs for unmatched routes")

	body := decodeBody(t, rec)
	assert.Equal(t, "resource not found", body["error"])
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
}

func TestListenerNotFoundRunsOutputEffect(t *testing.T) {
	var outputRuns int
	output := effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
		outputRuns++
		return ev, nil
	})

	listener := newTestListener(t, Config{
		OutputEffect: output,
	})

	rec := httptest.NewRecorder()
	listener.ServeHTTP(rec, httptest.NewRequest("GET", "/anything", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, outputRuns, "the output stage still sees the not-found event")
}

func TestListenerMiddlewareRunsBeforeEffect(t *testing.T) {
	var order []string
	tag := func(name string) effect.Effect {
		return effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
			order = append(order, name)
			return ev, nil
		})
	}
	final := effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
		order = append(order, "effect")
		return event.New("response", Body{Status: http.StatusOK}), nil
	})

	listener := newTestListener(t, Config{
		Middlewares: []effect.Effect{tag("m1"), tag("m2")},
		Effects: []router.Route{
			{Method: "GET", Path: "/ordered", Effect: final},
		},
	})

	rec := httptest.NewRecorder()
	listener.ServeHTTP(rec, httptest.NewRequest("GET", "/ordered", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"m1", "m2", "effect"}, order)
}

func TestListenerConvertsEffectError(t *testing.T) {
	failing := effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
		return event.Event{}, assert.AnError
	})

	listener := newTestListener(t, Config{
		Effects: []router.Route{
			{Method: "GET", Path: "/fail", Effect: failing},
		},
	})

	rec := httptest.NewRecorder()
	listener.ServeHTTP(rec, httptest.NewRequest("GET", "/fail", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "internal server error", body["error"])
	assert.Equal(t, float64(http.StatusInternalServerError), body["status"])
}

func TestListenerRecoversEffectPanic(t *testing.T) {
	exploding := effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
		panic("handler exploded")
	})

	listener := newTestListener(t, Config{
		Effects: []router.Route{
			{Method: "GET", Path: "/panic", Effect: exploding},
		},
	})

	rec := httptest.NewRecorder()
	listener.ServeHTTP(rec, httptest.NewRequest("GET", "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeBody(t, rec)["error"])
}

func TestListenerExactlyOneTerminalWrite(t *testing.T) {
	// The effect finalizes the response directly; the listener's own
	// terminal write must then be a no-op.
	direct := effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
		req := ev.Payload.(*Request)
		if err := req.Response.Send(http.StatusCreated, map[string]string{"via": "effect"}); err != nil {
			return event.Event{}, err
		}
		return event.New("response", Body{Status: http.StatusOK, Data: "ignored"}), nil
	})

	listener := newTestListener(t, Config{
		Effects: []router.Route{
			{Method: "POST", Path: "/direct", Effect: direct},
		},
	})

	rec := httptest.NewRecorder()
	listener.ServeHTTP(rec, httptest.NewRequest("POST", "/direct", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "effect", decodeBody(t, rec)["via"])
}

func TestListenerPlainPayloadWrites200(t *testing.T) {
	plain := effect.Lift(func(ev event.Event, _ *effect.Context) (event.Event, error) {
		return event.New("response", map[string]string{"hello": "world"}), nil
	})

	listener := newTestListener(t, Config{
		Effects: []router.Route{
			{Method: "GET", Path: "/plain", Effect: plain},
		},
	})

	rec := httptest.NewRecorder()
	listener.ServeHTTP(rec, httptest.NewRequest("GET", "/plain", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "world", decodeBody(t, rec)["hello"])
}

func TestListenerCORS(t *testing.T) {
	listener := newTestListener(t, Config{
		CORS: gateway.CORSConfig{Enabled: true, Origins: []string{"https://app.example.com"}},
		Effects: []router.Route{
			{Method: "GET", Path: "/data", Effect: respond(http.StatusOK, nil)},
		},
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/data", nil)
		req.Header.Set("Origin", "https://app.example.com")

		rec := httptest.NewRecorder()
		listener.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin gets no headers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/data", nil)
		req.Header.Set("Origin", "https://evil.example.com")

		rec := httptest.NewRecorder()
		listener.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestListenerCORSKeepsRegisteredOptionsRouteReachable(t *testing.T) {
	listener := newTestListener(t, Config{
		CORS: gateway.CORSConfig{Enabled: true, Origins: []string{"*"}},
		Effects: []router.Route{
			{Method: "OPTIONS", Path: "/custom", Effect: respond(http.StatusOK, map[string]string{"allow": "GET, PUT"})},
			{Method: "GET", Path: "/data", Effect: respond(http.StatusOK, nil)},
		},
	})

	t.Run("explicit OPTIONS route runs its effect", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/custom", nil)
		req.Header.Set("Origin", "https://app.example.com")

		rec := httptest.NewRecorder()
		listener.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "GET, PUT", decodeBody(t, rec)["allow"])
	})

	t.Run("unrouted OPTIONS still answers the preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/data", nil)
		req.Header.Set("Origin", "https://app.example.com")

		rec := httptest.NewRecorder()
		listener.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.Bytes())
	})
}

func TestListenerRejectsEnabledCORSWithoutOrigins(t *testing.T) {
	_, err := NewListener(Config{
		CORS:   gateway.CORSConfig{Enabled: true},
		Logger: testLogger(),
	}, effect.NewContext(nil))
	require.Error(t, err)
}

func TestListenerReportsRoutingErrorsAtBuildTime(t *testing.T) {
	_, err := NewListener(Config{
		Effects: []router.Route{
			{Method: "GET", Path: "/dup", Effect: respond(http.StatusOK, nil)},
			{Method: "GET", Path: "/dup", Effect: respond(http.StatusOK, nil)},
		},
		Logger: testLogger(),
	}, effect.NewContext(nil))
	require.Error(t, err)
}
