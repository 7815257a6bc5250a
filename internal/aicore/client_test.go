package aicore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubTokenSource struct {
	token string
	err   error
}

func (s stubTokenSource) GetToken(context.Context) (string, error) {
	return s.token, s.err
}

// newDeploymentsStub starts a plain net/http test server; fasthttp.Client can
// dial it directly since both speak HTTP/1.1 over TCP.
func newDeploymentsStub(t *testing.T, body string, status int) (*httptest.Server, *http.Request) {
	t.Helper()
	var captured *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

const deploymentsJSON = `{
  "resources": [
    {
      "id": "dep-1",
      "status": "RUNNING",
      "configurationName": "gpt-4-config",
      "deploymentUrl": "https://d.example/gpt4",
      "startTime": "2024-01-01T00:00:00Z",
      "details": {"resources": {"backendDetails": {"model": {"name": "gpt-4", "version": "1"}}}}
    },
    {
      "id": "dep-2",
      "status": "RUNNING",
      "configurationName": "claude-config",
      "deploymentUrl": "https://d.example/claude",
      "startTime": "2024-01-02T00:00:00Z",
      "details": {"resources": {"backend_details": {"model": {"name": "claude-sonnet-4", "version": "1"}}}}
    },
    {
      "id": "dep-3",
      "status": "STOPPED",
      "configurationName": "stopped-config",
      "deploymentUrl": "https://d.example/stopped",
      "startTime": "2024-01-03T00:00:00Z",
      "details": {"resources": {"backendDetails": {"model": {"name": "gpt-3.5", "version": "1"}}}}
    }
  ]
}`

func TestListDeployments_ParsesBothCasings(t *testing.T) {
	srv, _ := newDeploymentsStub(t, deploymentsJSON, http.StatusOK)
	c := New(srv.URL, stubTokenSource{token: "tok"})

	deployments, err := c.ListDeployments(context.Background(), "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deployments) != 3 {
		t.Fatalf("expected 3 deployments, got %d", len(deployments))
	}

	byID := map[string]Deployment{}
	for _, d := range deployments {
		byID[d.ID] = d
	}
	if byID["dep-1"].ModelName != "gpt-4" {
		t.Errorf("expected dep-1 model name gpt-4, got %s", byID["dep-1"].ModelName)
	}
	if byID["dep-2"].ModelName != "claude-sonnet-4" {
		t.Errorf("expected dep-2 (backend_details casing) model name claude-sonnet-4, got %s", byID["dep-2"].ModelName)
	}
	if byID["dep-3"].Status != "STOPPED" {
		t.Errorf("expected dep-3 status STOPPED, got %s", byID["dep-3"].Status)
	}
}

func TestListDeployments_Unauthorized(t *testing.T) {
	srv, _ := newDeploymentsStub(t, `{}`, http.StatusUnauthorized)
	c := New(srv.URL, stubTokenSource{token: "tok"})

	_, err := c.ListDeployments(context.Background(), "default")
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var aerr *Error
	if !asError(err, &aerr) || aerr.Kind != KindUnauthorized {
		t.Fatalf("expected KindUnauthorized, got %v", err)
	}
}

func TestListDeployments_UpstreamFailure(t *testing.T) {
	srv, _ := newDeploymentsStub(t, `boom`, http.StatusInternalServerError)
	c := New(srv.URL, stubTokenSource{token: "tok"})

	_, err := c.ListDeployments(context.Background(), "default")
	var aerr *Error
	if !asError(err, &aerr) || aerr.Kind != KindUpstream {
		t.Fatalf("expected KindUpstream, got %v", err)
	}
}

func TestListDeployments_Malformed(t *testing.T) {
	srv, _ := newDeploymentsStub(t, `not json`, http.StatusOK)
	c := New(srv.URL, stubTokenSource{token: "tok"})

	_, err := c.ListDeployments(context.Background(), "default")
	var aerr *Error
	if !asError(err, &aerr) || aerr.Kind != KindMalformed {
		t.Fatalf("expected KindMalformed, got %v", err)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"https://aicore.example":      "https://aicore.example/v2",
		"https://aicore.example/":     "https://aicore.example/v2",
		"https://aicore.example/v2":   "https://aicore.example/v2",
		"https://aicore.example/v2/":  "https://aicore.example/v2",
	}
	for in, want := range cases {
		if got := normalizeBaseURL(in); got != want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListResourceGroups(t *testing.T) {
	srv, _ := newDeploymentsStub(t, `{"resourceGroups":[{"resourceGroupId":"default"},{"resourceGroupId":"team-a"}]}`, http.StatusOK)
	c := New(srv.URL, stubTokenSource{token: "tok"})

	groups, err := c.ListResourceGroups(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 || groups[0] != "default" || groups[1] != "team-a" {
		t.Errorf("unexpected groups: %v", groups)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
