// Package aicore implements a typed HTTP client for the SAP AI Core control
// plane: listing deployments and resource groups (spec §4.2).
package aicore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

const requestTimeout = 30 * time.Second

// ErrorKind classifies a Client error per spec §4.2/§7.
type ErrorKind int

const (
	// KindUnauthorized — 401 from the control plane. Caller should
	// invalidate the Token Cache and retry once.
	KindUnauthorized ErrorKind = iota
	// KindUpstream — 5xx or transport failure.
	KindUpstream
	// KindMalformed — unexpected JSON shape.
	KindMalformed
)

// Error wraps a control-plane failure with its Kind.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("aicore: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("aicore: %s", e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// TokenSource supplies the bearer token string to attach to control-plane
// calls. Satisfied by a small adapter over *auth.Cache so this package
// never imports internal/auth, keeping the dependency direction pointing
// inward from internal/registry and internal/app.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// Client is a typed HTTP client for the AI Core control plane.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	tokens  TokenSource
}

// New constructs a Client. baseURL is normalized to always carry a /v2
// suffix, matching the upstream's documented base path.
func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: normalizeBaseURL(baseURL),
		http:    &fasthttp.Client{},
		tokens:  tokens,
	}
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(trimmed, "/v2") {
		return trimmed
	}
	return trimmed + "/v2"
}

// ListDeployments fetches the RUNNING deployments in resourceGroup, per
// spec §4.2. Only the fields the Registry needs are extracted.
func (c *Client) ListDeployments(ctx context.Context, resourceGroup string) ([]Deployment, error) {
	url := fmt.Sprintf("%s/lm/deployments?status=%s&resourceGroup=%s", c.baseURL, StatusRunning, resourceGroup)
	body, err := c.do(ctx, url, resourceGroup)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, &Error{Kind: KindMalformed, Msg: "deployments response is not valid JSON"}
	}

	resources := gjson.GetBytes(body, "resources")
	if !resources.IsArray() {
		return nil, &Error{Kind: KindMalformed, Msg: "deployments response missing resources[]"}
	}

	var out []Deployment
	var parseErr error
	resources.ForEach(func(_, res gjson.Result) bool {
		d, err := parseDeployment(res)
		if err != nil {
			parseErr = err
			return false
		}
		out = append(out, d)
		return true
	})
	if parseErr != nil {
		return nil, &Error{Kind: KindMalformed, Msg: "failed to parse deployment entry", Err: parseErr}
	}

	return out, nil
}

func parseDeployment(res gjson.Result) (Deployment, error) {
	startTime, _ := time.Parse(time.RFC3339, res.Get("startTime").String())

	// The upstream emits both backendDetails and backend_details casings;
	// prefer backendDetails when both are present (spec §9 open question).
	backend := res.Get("details.resources.backendDetails")
	if !backend.Exists() {
		backend = res.Get("details.resources.backend_details")
	}

	return Deployment{
		ID:                res.Get("id").String(),
		Status:            res.Get("status").String(),
		ConfigurationName: res.Get("configurationName").String(),
		ModelName:         backend.Get("model.name").String(),
		ModelVersion:      backend.Get("model.version").String(),
		DeploymentURL:     res.Get("deploymentUrl").String(),
		StartTime:         startTime,
	}, nil
}

// ListResourceGroups fetches every resource-group identifier visible to the
// configured credentials.
func (c *Client) ListResourceGroups(ctx context.Context) ([]string, error) {
	url := c.baseURL + "/admin/resourceGroups"
	body, err := c.do(ctx, url, "")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, &Error{Kind: KindMalformed, Msg: "resource groups response is not valid JSON"}
	}

	groups := gjson.GetBytes(body, "resourceGroups")
	var out []string
	groups.ForEach(func(_, g gjson.Result) bool {
		if id := g.Get("resourceGroupId").String(); id != "" {
			out = append(out, id)
		}
		return true
	})
	return out, nil
}

func (c *Client) do(ctx context.Context, url, resourceGroup string) ([]byte, error) {
	tok, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Msg: "failed to obtain bearer token", Err: err}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+tok)
	if resourceGroup != "" {
		req.Header.Set("ai-resource-group", resourceGroup)
	}

	if err := c.http.DoTimeout(req, resp, requestTimeout); err != nil {
		return nil, &Error{Kind: KindUpstream, Msg: "control plane request failed", Err: err}
	}

	switch {
	case resp.StatusCode() == fasthttp.StatusUnauthorized:
		return nil, &Error{Kind: KindUnauthorized, Msg: "control plane rejected the bearer token"}
	case resp.StatusCode() >= 500:
		return nil, &Error{Kind: KindUpstream, Msg: fmt.Sprintf("control plane returned %d", resp.StatusCode())}
	case resp.StatusCode() != fasthttp.StatusOK:
		return nil, &Error{Kind: KindMalformed, Msg: fmt.Sprintf("control plane returned unexpected status %d", resp.StatusCode())}
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}
