package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nulpointcorp/aicore-gateway/internal/family"
	"github.com/nulpointcorp/aicore-gateway/internal/registry"
	"github.com/valyala/fasthttp"
)

func TestHandleHealth_ReportsOK(t *testing.T) {
	g := New(stubRegistry{}, &stubTokens{}, "rg", nil, nil, nil, nil)
	ctx := &fasthttp.RequestCtx{}
	g.handleHealth(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	var resp map[string]string
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("failed to parse health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", resp["status"])
	}
}

func TestHandleReadiness_UnavailableBeforeRegistryReady(t *testing.T) {
	g := New(stubRegistry{ready: false}, &stubTokens{}, "rg", nil, nil, nil, nil)
	ctx := &fasthttp.RequestCtx{}
	g.handleReadiness(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", ctx.Response.StatusCode())
	}
}

func TestHandleReadiness_OKOnceRegistryReady(t *testing.T) {
	g := New(stubRegistry{ready: true}, &stubTokens{}, "rg", nil, nil, nil, nil)
	ctx := &fasthttp.RequestCtx{}
	g.handleReadiness(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
}

func TestWriteJSON(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	writeJSON(ctx, map[string]string{"key": "value"})

	if string(ctx.Response.Header.ContentType()) != "application/json" {
		t.Errorf("expected application/json, got %s", string(ctx.Response.Header.ContentType()))
	}

	var resp map[string]string
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if resp["key"] != "value" {
		t.Errorf("expected key=value, got %v", resp["key"])
	}
}

// TestHandleGemini_SplitsModelActionPathParam exercises handleGemini with
// the combined {modelAction} path param the router hands it, covering the
// model/action split end to end rather than just splitModelAction in isolation.
func TestHandleGemini_SplitsModelActionPathParam(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("expected gemini generateContent suffix, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer upstream.Close()

	reg := stubRegistry{ok: true, ready: true, binding: registry.ModelBinding{
		LogicalName: "gemini-2.5-pro", DeploymentURL: upstream.URL, Family: family.Gemini,
	}}
	g := New(reg, &stubTokens{token: "tok"}, "rg", []string{"secret"}, nil, nil, nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/v1beta/models/gemini-2.5-pro:generateContent")
	ctx.Request.SetBody([]byte(`{}`))
	ctx.Request.Header.Set("x-goog-api-key", "secret")
	ctx.SetUserValue("modelAction", "gemini-2.5-pro:generateContent")

	g.handleGemini(ctx)

	if ctx.Response.StatusCode() != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
}
