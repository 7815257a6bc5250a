package main

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
)

var requestCounter atomic.Int64

// handleDeploymentDispatch simulates the inference endpoint of one AI Core
// deployment. The path shape is
//
//	/v2/inference/deployments/{id}{suffix}
//
// where {suffix} distinguishes the wire format: "/chat/completions" (OpenAI),
// "/invoke" or "/invoke-with-response-stream" (Claude), ":generateContent"
// or ":streamGenerateContent" (Gemini) — matching exactly what
// internal/proxy/gateway.go's buildUpstreamURL appends.
func (s *state) handleDeploymentDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v2/inference/deployments/")
	id, suffix, ok := splitDeploymentPath(rest)
	if !ok {
		http.NotFound(w, r)
		return
	}

	dep, ok := s.findDeployment(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if s.consumeFirstAuthRejection(dep.ID) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"token expired"}`))
		return
	}

	applyLatency(s.cfg)
	reqN := requestCounter.Add(1)

	switch {
	case suffix == "/chat/completions":
		s.writeOpenAI(w, r, dep, reqN)
	case suffix == "/invoke":
		s.writeClaude(w, dep, reqN, false)
	case suffix == "/invoke-with-response-stream":
		s.writeClaude(w, dep, reqN, true)
	case suffix == ":generateContent":
		s.writeGemini(w, dep, reqN, false)
	case suffix == ":streamGenerateContent":
		s.writeGemini(w, dep, reqN, true)
	default:
		http.NotFound(w, r)
	}
}

// splitDeploymentPath separates the deployment ID from the family-specific
// suffix. OpenAI and Claude suffixes start with "/"; Gemini's starts with
// ":" and carries no path separator of its own.
func splitDeploymentPath(rest string) (id, suffix string, ok bool) {
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		return rest[:i], rest[i:], true
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i], rest[i:], true
	}
	return "", "", false
}

func (s *state) findDeployment(id string) (deploymentInfo, bool) {
	for _, d := range s.deployments {
		if d.ID == id {
			return d, true
		}
	}
	return deploymentInfo{}, false
}

func itoa32(n int) string { return strconv.Itoa(n) }
