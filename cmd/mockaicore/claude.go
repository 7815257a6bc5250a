package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// writeClaude answers a deployment's /invoke or /invoke-with-response-stream
// suffix with the Bedrock-invoke wire format AI Core's Claude deployments
// use. Unlike the direct Anthropic Messages API, the streamed message_stop
// event here carries an amazon-bedrock-invocationMetrics extension field —
// that is what internal/usage.ClaudeObserver reads token counts from.
func (s *state) writeClaude(w http.ResponseWriter, dep deploymentInfo, reqN int64, stream bool) {
	id := fmt.Sprintf("msg_mock%s", itoa32(int(reqN)))
	content := fakeSentence(s.cfg.streamWords)
	inTokens := 15
	outTokens := s.cfg.streamWords

	if stream {
		serveClaudeStream(w, id, dep.ModelName, content, inTokens, outTokens)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":            id,
		"type":          "message",
		"role":          "assistant",
		"model":         dep.ModelName,
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content": []map[string]string{
			{"type": "text", "text": content},
		},
		"usage": map[string]int{
			"input_tokens":  inTokens,
			"output_tokens": outTokens,
		},
	})
}

func serveClaudeStream(w http.ResponseWriter, id, model, content string, inTokens, outTokens int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	send := func(eventType string, data any) {
		b, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, b)
		if flusher != nil {
			flusher.Flush()
		}
	}

	send("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": id, "type": "message", "role": "assistant", "model": model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": inTokens, "output_tokens": 0},
		},
	})

	send("content_block_start", map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]string{"type": "text", "text": ""},
	})

	send("ping", map[string]string{"type": "ping"})

	for _, word := range strings.Fields(content) {
		send("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]string{"type": "text_delta", "text": word + " "},
		})
	}

	send("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})

	send("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]string{"stop_reason": "end_turn", "stop_sequence": ""},
		"usage": map[string]int{"output_tokens": outTokens},
	})

	// message_stop carries the Bedrock invocation-metrics extension that the
	// direct Anthropic API doesn't have; this is the only place usage is
	// actually reported for a Claude deployment.
	send("message_stop", map[string]any{
		"type": "message_stop",
		"amazon-bedrock-invocationMetrics": map[string]int{
			"inputTokenCount":  inTokens,
			"outputTokenCount": outTokens,
		},
	})
}
