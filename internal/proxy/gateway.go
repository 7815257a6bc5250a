// Package proxy implements the HTTP Front-End and Proxy Engine: it
// authenticates inbound requests, resolves the target deployment via the
// Deployment Registry, attaches upstream credentials from the Token Cache,
// and proxies request/response bodies byte-for-byte — including SSE and
// NDJSON streams — while tee'ing the response through a Usage Observer
// (spec §4.4/§4.5).
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nulpointcorp/aicore-gateway/internal/family"
	"github.com/nulpointcorp/aicore-gateway/internal/logger"
	"github.com/nulpointcorp/aicore-gateway/internal/metrics"
	"github.com/nulpointcorp/aicore-gateway/internal/registry"
	"github.com/nulpointcorp/aicore-gateway/internal/usage"
	"github.com/nulpointcorp/aicore-gateway/pkg/apierr"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

// Registry is the subset of *registry.Registry the Gateway needs, narrowed
// so this package can be unit-tested against a stub.
type Registry interface {
	Resolve(modelName string) (registry.ModelBinding, bool)
	Ready() bool
}

// TokenSource is the subset of *auth.Cache the Gateway needs, via
// auth.StringSource so this package never imports internal/auth directly.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate()
}

// dispatchError distinguishes a token-acquisition failure from an upstream
// transport failure without this package depending on internal/auth's
// concrete error type.
type dispatchError struct {
	stage string // "token" or "upstream"
	err   error
}

func (e *dispatchError) Error() string { return e.err.Error() }
func (e *dispatchError) Unwrap() error { return e.err }

// Gateway is the Proxy Engine. All dependencies are injected via New so
// they can be replaced with test doubles.
type Gateway struct {
	apiKeys       [][]byte
	registry      Registry
	tokens        TokenSource
	resourceGroup string
	httpClient    *http.Client
	log           *slog.Logger
	metrics       *metrics.Registry
	reqLogger     *logger.Logger
	corsOrigins   []string
}

// New constructs a Gateway.
func New(reg Registry, tokens TokenSource, resourceGroup string, apiKeys []string, log *slog.Logger, m *metrics.Registry, reqLogger *logger.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	keys := make([][]byte, len(apiKeys))
	for i, k := range apiKeys {
		keys[i] = []byte(k)
	}
	return &Gateway{
		apiKeys:       keys,
		registry:      reg,
		tokens:        tokens,
		resourceGroup: resourceGroup,
		httpClient:    &http.Client{},
		log:           log,
		metrics:       m,
		reqLogger:     reqLogger,
	}
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// --- route handlers ----------------------------------------------------

func (g *Gateway) handleOpenAI(ctx *fasthttp.RequestCtx) {
	body := ctx.PostBody()
	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		apierr.WriteBadRequest(ctx, "field 'model' is required")
		return
	}
	stream := gjson.GetBytes(body, "stream").Bool()
	g.dispatch(ctx, family.OpenAI, model, stream)
}

func (g *Gateway) handleClaude(ctx *fasthttp.RequestCtx) {
	body := ctx.PostBody()
	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		apierr.WriteBadRequest(ctx, "field 'model' is required")
		return
	}
	stream := gjson.GetBytes(body, "stream").Bool()
	g.dispatch(ctx, family.Claude, model, stream)
}

func (g *Gateway) handleGemini(ctx *fasthttp.RequestCtx) {
	raw, _ := ctx.UserValue("modelAction").(string)
	model, action, ok := splitModelAction(raw)
	if !ok {
		apierr.WriteBadRequest(ctx, "path must be of the form {model}:{action}")
		return
	}

	var stream bool
	switch action {
	case "generateContent":
		stream = false
	case "streamGenerateContent":
		stream = true
	default:
		apierr.WriteBadRequest(ctx, "unsupported action: "+action)
		return
	}
	g.dispatch(ctx, family.Gemini, model, stream)
}

func splitModelAction(s string) (model, action string, ok bool) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// --- authentication ------------------------------------------------------

// authenticate checks the inbound API key against every configured key,
// using a constant-time comparison per key (spec invariant 4 / scenario
// S8). Every configured key is compared regardless of an earlier match, so
// the number of comparisons performed never depends on which key (if any)
// matched.
func (g *Gateway) authenticate(ctx *fasthttp.RequestCtx) bool {
	key := []byte(extractAPIKey(ctx))
	var matched int
	for _, k := range g.apiKeys {
		matched |= subtle.ConstantTimeCompare(key, k)
	}
	return matched == 1
}

func extractAPIKey(ctx *fasthttp.RequestCtx) string {
	if v := ctx.Request.Header.Peek("x-api-key"); len(v) > 0 {
		return string(v)
	}
	if v := ctx.Request.Header.Peek("x-goog-api-key"); len(v) > 0 {
		return string(v)
	}
	auth := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// --- dispatch --------------------------------------------------------------

func (g *Gateway) dispatch(ctx *fasthttp.RequestCtx, fam family.Family, modelName string, stream bool) {
	start := time.Now()
	route := string(ctx.Path())

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	finished := false
	finish := func(status int) {
		if finished {
			return
		}
		finished = true
		if g.metrics != nil {
			g.metrics.DecInFlight()
			g.metrics.ObserveHTTP(route, status, time.Since(start))
		}
	}

	if !g.authenticate(ctx) {
		apierr.WriteUnauthorized(ctx)
		finish(fasthttp.StatusUnauthorized)
		return
	}

	binding, ok := g.registry.Resolve(modelName)
	if !ok {
		apierr.WriteModelNotFound(ctx, modelName)
		finish(fasthttp.StatusBadRequest)
		return
	}

	// Copy the body: it must be re-sendable if the first attempt is retried
	// after a 401, and ctx.PostBody()'s backing array is only valid for the
	// lifetime of this request.
	body := append([]byte(nil), ctx.PostBody()...)
	reqID, _ := ctx.UserValue("request_id").(string)

	resp, err := g.attemptUpstream(ctx, binding, fam, stream, body)
	if err != nil {
		status := g.writeUpstreamError(ctx, err)
		finish(status)
		return
	}
	if resp.StatusCode >= 500 {
		_ = resp.Body.Close()
		apierr.WriteUpstreamTransient(ctx, "upstream error: "+resp.Status)
		finish(fasthttp.StatusBadGateway)
		return
	}

	g.proxyResponse(ctx, resp, fam, func(status int, u usage.Usage) {
		dur := time.Since(start)
		if g.metrics != nil {
			g.metrics.RecordUpstreamRequest(string(fam), outcomeFor(status), dur)
			g.metrics.RecordUsage(string(fam), u.InputTokens, u.OutputTokens, u.Present)
		}
		if g.reqLogger != nil {
			g.reqLogger.Log(logger.RequestLog{
				ID:            parseOrNewUUID(reqID),
				Model:         modelName,
				Family:        string(fam),
				InputTokens:   u.InputTokens,
				OutputTokens:  u.OutputTokens,
				TokensPresent: u.Present,
				DurationMs:    dur.Milliseconds(),
				Status:        status,
				CreatedAt:     time.Now(),
			})
		}
		finish(status)
	}, stream)
}

func parseOrNewUUID(s string) uuid.UUID {
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return uuid.New()
}

func outcomeFor(status int) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return "error"
}

// attemptUpstream sends the request once, and retries exactly once after
// invalidating the Token Cache if the upstream rejects the first attempt
// with 401 (spec §4.5, scenario S7). A second 401 is returned to the caller
// for pass-through, not retried again.
func (g *Gateway) attemptUpstream(ctx context.Context, binding registry.ModelBinding, fam family.Family, stream bool, body []byte) (*http.Response, error) {
	token, err := g.tokens.GetToken(ctx)
	if err != nil {
		return nil, &dispatchError{stage: "token", err: err}
	}

	resp, err := g.sendUpstream(ctx, binding, fam, stream, token, body)
	if err != nil {
		return nil, &dispatchError{stage: "upstream", err: err}
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	_ = resp.Body.Close()
	g.tokens.Invalidate()

	token, err = g.tokens.GetToken(ctx)
	if err != nil {
		return nil, &dispatchError{stage: "token", err: err}
	}
	resp, err = g.sendUpstream(ctx, binding, fam, stream, token, body)
	if err != nil {
		return nil, &dispatchError{stage: "upstream", err: err}
	}
	return resp, nil
}

func (g *Gateway) sendUpstream(ctx context.Context, binding registry.ModelBinding, fam family.Family, stream bool, token string, body []byte) (*http.Response, error) {
	url := buildUpstreamURL(binding, fam, stream)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("ai-resource-group", g.resourceGroup)
	req.Header.Set("Content-Type", "application/json")
	return g.httpClient.Do(req)
}

// buildUpstreamURL appends the family/streaming-specific suffix to the
// resolved deployment URL (spec §4.5).
func buildUpstreamURL(binding registry.ModelBinding, fam family.Family, stream bool) string {
	base := strings.TrimRight(binding.DeploymentURL, "/")
	switch fam {
	case family.OpenAI:
		return base + "/chat/completions?api-version=2023-05-15"
	case family.Claude:
		if stream {
			return base + "/invoke-with-response-stream"
		}
		return base + "/invoke"
	case family.Gemini:
		if stream {
			return base + ":streamGenerateContent"
		}
		return base + ":generateContent"
	default:
		return base
	}
}

func (g *Gateway) writeUpstreamError(ctx *fasthttp.RequestCtx, err error) int {
	var de *dispatchError
	if errors.As(err, &de) {
		switch de.stage {
		case "token":
			apierr.WriteAuthError(ctx)
			return fasthttp.StatusInternalServerError
		case "upstream":
			apierr.WriteUpstreamTransient(ctx, de.err.Error())
			return fasthttp.StatusBadGateway
		}
	}
	apierr.WriteUpstreamTransient(ctx, err.Error())
	return fasthttp.StatusBadGateway
}

// --- response proxying ------------------------------------------------------

func newObserver(fam family.Family) usage.Observer {
	switch fam {
	case family.OpenAI:
		return usage.NewOpenAIObserver()
	case family.Claude:
		return usage.NewClaudeObserver()
	case family.Gemini:
		return usage.NewGeminiObserver()
	default:
		return usage.NoopObserver{}
	}
}

// proxyResponse copies resp's status, headers, and body to ctx unchanged
// (dispatch answers an upstream 5xx with a 502 instead of calling it),
// tee'ing the body through a Usage Observer. For streaming responses the
// body is forwarded chunk-by-chunk via SetBodyStreamWriter with no
// buffering beyond one read's worth of bytes; onDone fires once the upstream
// body is fully drained (or the client disconnects), never more than once
// per request (spec invariant 3).
func (g *Gateway) proxyResponse(ctx *fasthttp.RequestCtx, resp *http.Response, fam family.Family, onDone func(status int, u usage.Usage), stream bool) {
	copyHeaders(ctx, resp.Header)
	ctx.SetStatusCode(resp.StatusCode)
	observer := newObserver(fam)
	status := resp.StatusCode

	if !stream {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		ctx.SetBody(data)
		// The observer decodes a non-streaming body in Flush, which only sees
		// bytes after the last newline; compacting the JSON removes every
		// newline, including a trailing one.
		observed := data
		var compact bytes.Buffer
		if json.Compact(&compact, data) == nil {
			observed = compact.Bytes()
		}
		observer.Observe(observed)
		observer.Flush()
		onDone(status, observer.Usage())
		return
	}

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer resp.Body.Close()
		buf := make([]byte, 4096)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				observer.Observe(buf[:n])
				if _, werr := w.Write(buf[:n]); werr != nil {
					break // client disconnected
				}
				if ferr := w.Flush(); ferr != nil {
					break
				}
			}
			if rerr != nil {
				break
			}
		}
		observer.Flush()
		onDone(status, observer.Usage())
	})
}

func copyHeaders(ctx *fasthttp.RequestCtx, h http.Header) {
	for k, values := range h {
		if isHopByHop(k) {
			continue
		}
		for _, v := range values {
			ctx.Response.Header.Add(k, v)
		}
	}
}

func isHopByHop(k string) bool {
	switch strings.ToLower(k) {
	case "connection", "transfer-encoding", "content-length", "keep-alive":
		return true
	default:
		return false
	}
}
