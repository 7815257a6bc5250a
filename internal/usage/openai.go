package usage

import (
	"encoding/json"

	openaiSDK "github.com/openai/openai-go/v3"
)

// OpenAIObserver extracts token usage from an OpenAI Chat Completions SSE
// stream (spec §4.6/S1). Each `data: {json}` line is decoded read-only into
// the SDK's ChatCompletionChunk purely to read .Usage — the SDK never
// builds a request here, the bytes are forwarded to the client unaltered by
// the Proxy Engine regardless of what this Observer does with them.
type OpenAIObserver struct {
	scanner *lineScanner
	usage   Usage
}

// NewOpenAIObserver constructs an Observer for the OpenAI family.
func NewOpenAIObserver() *OpenAIObserver {
	o := &OpenAIObserver{}
	o.scanner = newLineScanner(o.onLine)
	return o
}

func (o *OpenAIObserver) Observe(chunk []byte) { o.scanner.write(chunk) }

func (o *OpenAIObserver) Usage() Usage { return o.usage }

// Flush drains whatever never ended in a newline. That covers a final SSE
// chunk line missing its trailing newline, and — since the Proxy Engine
// passes a non-streaming response as one compacted JSON line with no SSE
// framing and no trailing newline — the entire body of a non-streaming Chat
// Completions response, decoded here as a plain (non-chunk) completion
// object.
func (o *OpenAIObserver) Flush() {
	rem := o.scanner.remainder()
	o.scanner.reset()
	if len(rem) == 0 {
		return
	}
	o.onLine(rem)
	if o.usage.Present {
		return
	}

	var resp openaiSDK.ChatCompletion
	if err := json.Unmarshal(rem, &resp); err != nil {
		return
	}
	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 {
		return
	}
	o.usage = Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Present:      true,
	}
}

func (o *OpenAIObserver) onLine(line []byte) {
	payload, isData, isDone := ssePayload(line)
	if !isData || isDone || len(payload) == 0 {
		return
	}

	var chunk openaiSDK.ChatCompletionChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		// Malformed or unrelated JSON on this line; never surfaced to the
		// client, which only sees the raw bytes forwarded by the tee.
		return
	}
	if chunk.Usage.PromptTokens == 0 && chunk.Usage.CompletionTokens == 0 {
		return
	}
	o.usage = Usage{
		InputTokens:  int(chunk.Usage.PromptTokens),
		OutputTokens: int(chunk.Usage.CompletionTokens),
		Present:      true,
	}
}
