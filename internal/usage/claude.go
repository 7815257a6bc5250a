package usage

import "encoding/json"

// claudeEvent is a hand-rolled partial decode of the Bedrock-invoke wire
// shape AI Core's Claude deployments use for SSE `message_stop` events. The
// official anthropics/anthropic-sdk-go targets the direct Anthropic API and
// does not model the `amazon-bedrock-invocationMetrics` extension field, so
// this Observer decodes only the handful of fields it needs by hand.
type claudeEvent struct {
	Type                           string `json:"type"`
	AmazonBedrockInvocationMetrics struct {
		InputTokenCount  int `json:"inputTokenCount"`
		OutputTokenCount int `json:"outputTokenCount"`
	} `json:"amazon-bedrock-invocationMetrics"`
}

// ClaudeObserver extracts token usage from a Claude Messages SSE stream's
// message_stop event (spec §4.6/S2).
type ClaudeObserver struct {
	scanner *lineScanner
	usage   Usage
}

// NewClaudeObserver constructs an Observer for the Claude family.
func NewClaudeObserver() *ClaudeObserver {
	o := &ClaudeObserver{}
	o.scanner = newLineScanner(o.onLine)
	return o
}

func (o *ClaudeObserver) Observe(chunk []byte) { o.scanner.write(chunk) }

func (o *ClaudeObserver) Usage() Usage { return o.usage }

// claudeMessage is the non-streaming Messages-invoke response shape, which
// reports usage inline as input_tokens/output_tokens rather than via the
// streamed message_stop event's Bedrock extension.
type claudeMessage struct {
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Flush drains whatever never ended in a newline: a final SSE line missing
// its trailing newline, or — since the Proxy Engine passes a non-streaming
// invoke response as one compacted JSON line with no SSE framing and no
// trailing newline — the entire body of a non-streaming Messages response.
func (o *ClaudeObserver) Flush() {
	rem := o.scanner.remainder()
	o.scanner.reset()
	if len(rem) == 0 {
		return
	}
	o.onLine(rem)
	if o.usage.Present {
		return
	}

	var resp claudeMessage
	if err := json.Unmarshal(rem, &resp); err != nil {
		return
	}
	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		return
	}
	o.usage = Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Present:      true,
	}
}

func (o *ClaudeObserver) onLine(line []byte) {
	payload, isData, isDone := ssePayload(line)
	if !isData || isDone || len(payload) == 0 {
		return
	}

	var ev claudeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	if ev.Type != "message_stop" {
		return
	}
	m := ev.AmazonBedrockInvocationMetrics
	if m.InputTokenCount == 0 && m.OutputTokenCount == 0 {
		return
	}
	o.usage = Usage{
		InputTokens:  m.InputTokenCount,
		OutputTokens: m.OutputTokenCount,
		Present:      true,
	}
}
