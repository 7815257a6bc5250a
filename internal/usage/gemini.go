package usage

import (
	"encoding/json"

	"google.golang.org/genai"
)

// GeminiObserver extracts token usage from a Gemini generateContent stream,
// which may arrive as NDJSON (one JSON object per line) or as SSE `data:`
// frames depending on the endpoint (spec §4.6/S3). The last usageMetadata
// frame seen wins, since Gemini repeats cumulative usage on later chunks.
type GeminiObserver struct {
	scanner *lineScanner
	usage   Usage
}

// NewGeminiObserver constructs an Observer for the Gemini family.
func NewGeminiObserver() *GeminiObserver {
	o := &GeminiObserver{}
	o.scanner = newLineScanner(o.onLine)
	return o
}

func (o *GeminiObserver) Observe(chunk []byte) { o.scanner.write(chunk) }

func (o *GeminiObserver) Usage() Usage { return o.usage }

// Flush drains whatever never ended in a newline. onLine already accepts a
// bare (non-SSE-framed) JSON line, which is exactly what a non-streaming
// generateContent body is — no additional fallback decode needed here.
func (o *GeminiObserver) Flush() {
	rem := o.scanner.remainder()
	o.scanner.reset()
	if len(rem) == 0 {
		return
	}
	o.onLine(rem)
}

func (o *GeminiObserver) onLine(line []byte) {
	payload := line
	if p, isData, isDone := ssePayload(line); isData {
		if isDone {
			return
		}
		payload = p
	}
	payload = trimBracketComma(payload)
	if len(payload) == 0 {
		return
	}

	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return
	}
	if resp.UsageMetadata == nil {
		return
	}

	prompt := int(resp.UsageMetadata.PromptTokenCount)
	total := int(resp.UsageMetadata.TotalTokenCount)
	if prompt == 0 && total == 0 {
		return
	}
	o.usage = Usage{
		InputTokens:  prompt,
		OutputTokens: total - prompt,
		Present:      true,
	}
}

// trimBracketComma strips the leading "[" / "," / trailing "]" that
// NDJSON-as-a-streamed-JSON-array framing can carry (some Gemini deployments
// wrap frames in an outer array rather than newline-delimiting them).
func trimBracketComma(line []byte) []byte {
	trimmed := line
	for len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == ',' || trimmed[0] == ' ') {
		trimmed = trimmed[1:]
	}
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == ']' || trimmed[len(trimmed)-1] == ' ') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return trimmed
}
