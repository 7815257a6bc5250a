package main

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeGemini answers a deployment's :generateContent or
// :streamGenerateContent suffix with the Gemini wire format. Non-streaming
// and streaming share the same GenerateContentResponse shape; streaming is
// framed as a single-element JSON array, matching the teacher's mock and
// what internal/usage.GeminiObserver's trimBracketComma handles.
func (s *state) writeGemini(w http.ResponseWriter, dep deploymentInfo, reqN int64, stream bool) {
	id := fmt.Sprintf("gemini-mock%s", itoa32(int(reqN)))
	content := fakeSentence(s.cfg.streamWords)
	inTokens := 10
	outTokens := s.cfg.streamWords

	resp := map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]string{{"text": content}},
				},
				"finishReason": "STOP",
				"index":        0,
			},
		},
		"usageMetadata": map[string]int{
			"promptTokenCount":     inTokens,
			"candidatesTokenCount": outTokens,
			"totalTokenCount":      inTokens + outTokens,
		},
		"responseId":   id,
		"modelVersion": dep.ModelName,
	}

	if stream {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode([]any{resp})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
