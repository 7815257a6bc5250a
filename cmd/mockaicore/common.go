package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeWords is a pool of words used to build mock response text.
var fakeWords = []string{
	"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
	"SAP", "AI", "Core", "routes", "this", "request", "through", "a",
	"deployment", "and", "the", "gateway", "observes", "its", "token",
	"usage", "as", "the", "response", "streams", "back", "unchanged",
}

func fakeSentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	return strings.Join(words, " ") + "."
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func applyLatency(cfg mockConfig) {
	if cfg.latencyMS > 0 {
		time.Sleep(time.Duration(cfg.latencyMS) * time.Millisecond)
	}
}

// deploymentInfo describes one simulated AI Core deployment.
type deploymentInfo struct {
	ID                string
	ConfigurationName string
	ModelName         string
	Family            string // "openai", "claude", "gemini"
}

// state holds everything the mock handlers share: configuration, the fixed
// deployment catalogue, and per-deployment auth-rejection bookkeeping for
// MOCK_REJECT_FIRST_AUTH.
type state struct {
	cfg         mockConfig
	baseURL     string
	deployments []deploymentInfo

	mu       sync.Mutex
	rejected map[string]bool
}

func newState(cfg mockConfig, baseURL string) *state {
	return &state{
		cfg:     cfg,
		baseURL: baseURL,
		deployments: []deploymentInfo{
			{ID: "d-openai", ConfigurationName: "gpt-4-config", ModelName: "gpt-4", Family: "openai"},
			{ID: "d-claude", ConfigurationName: "claude-sonnet-config", ModelName: "claude-sonnet-4", Family: "claude"},
			{ID: "d-gemini", ConfigurationName: "gemini-pro-config", ModelName: "gemini-2.5-pro", Family: "gemini"},
		},
		rejected: make(map[string]bool),
	}
}

// consumeFirstAuthRejection reports true exactly once per deployment ID when
// MOCK_REJECT_FIRST_AUTH is enabled, simulating a stale bearer token on the
// first call so the gateway's retry-once-on-401 path can be exercised.
func (s *state) consumeFirstAuthRejection(deploymentID string) bool {
	if !s.cfg.rejectFirstAuth {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejected[deploymentID] {
		return false
	}
	s.rejected[deploymentID] = true
	return true
}

var tokenCounter atomic.Int64

func (s *state) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := tokenCounter.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "mock-uaa-token-" + itoa(n),
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
