// Package apierr provides the structured JSON error envelope and HTTP
// status mapping for the gateway's error taxonomy (spec §7).
package apierr

import (
	"encoding/json"
	"fmt"

	"github.com/valyala/fasthttp"
)

// envelope is the only shape ever written to a client: {"error": "..."}.
type envelope struct {
	Error string `json:"error"`
}

// Write writes message as the JSON error envelope with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: message})
	ctx.SetBody(body)
}

// WriteUnauthorized writes the ClientAuthError response: missing or invalid
// inbound API key (spec §7, HTTP 401).
func WriteUnauthorized(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, "unauthorized")
}

// WriteModelNotFound writes the ModelNotFound response: no ModelBinding
// resolves for modelName (spec §7, HTTP 400).
func WriteModelNotFound(ctx *fasthttp.RequestCtx, modelName string) {
	Write(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("model not found: %s", modelName))
}

// WriteBadRequest writes an InvalidRequest response for a malformed
// request body (missing/unparseable model field).
func WriteBadRequest(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message)
}

// WriteAuthError writes the AuthError response: the Token Cache could not
// exchange credentials with UAA (spec §7, HTTP 500).
func WriteAuthError(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusInternalServerError, "failed to authenticate to upstream")
}

// WriteUpstreamTransient writes the UpstreamTransient response: upstream
// 5xx, connection reset, or timeout (spec §7, HTTP 502).
func WriteUpstreamTransient(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadGateway, message)
}

// WriteUpstreamMalformed writes the UpstreamMalformed response: the control
// plane returned an unexpected body shape (spec §7, HTTP 500).
func WriteUpstreamMalformed(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusInternalServerError, message)
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "upstream request timed out")
}
