// Package usage implements the Usage Observers: provider-specific parsers
// that inspect a streamed response body as it is tee'd to the client,
// extracting token counts without buffering more than one logical
// event/line (spec §4.6).
package usage

// Usage is what an Observer has extracted by the time the stream ends.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Present      bool
}

// Observer is fed every chunk of the upstream response body, in order, as it
// is forwarded to the client. It never returns an error — a parse failure
// on one line must never interrupt the pass-through of bytes to the
// client; at worst Usage.Present stays false.
//
// Observe alone only sees complete lines: a final line without a trailing
// newline (such as a non-streaming JSON body, which the Proxy Engine
// compacts to a single line before observing it) reaches the parser only
// through Flush, so callers must call Flush once the body has been fully
// observed, whether or not it was streamed, before reading Usage.
type Observer interface {
	Observe(chunk []byte)
	Flush()
	Usage() Usage
}

// lineScanner buffers bytes until a newline is seen and hands each complete
// line to onLine, tolerating chunk boundaries that split a line (including
// mid-JSON-value splits, since the eventual json.Unmarshal/gjson call only
// happens once the full line has arrived).
type lineScanner struct {
	buf    []byte
	onLine func(line []byte)
}

func newLineScanner(onLine func(line []byte)) *lineScanner {
	return &lineScanner{onLine: onLine}
}

func (s *lineScanner) write(chunk []byte) {
	s.buf = append(s.buf, chunk...)
	for {
		i := indexByte(s.buf, '\n')
		if i < 0 {
			return
		}
		line := s.buf[:i]
		line = trimCR(line)
		s.buf = s.buf[i+1:]
		s.onLine(line)
	}
}

// remainder returns whatever bytes never ended in a newline — the entire
// body, for a non-streaming response, or a final SSE line missing its
// trailing newline.
func (s *lineScanner) remainder() []byte {
	return trimCR(s.buf)
}

func (s *lineScanner) reset() {
	s.buf = nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

// ssePayload strips a leading "data: " (or "data:") prefix from an SSE
// line, returning the JSON payload and whether the line carried one at all
// (as opposed to a blank separator line or another SSE field like
// "event:"). It also reports whether the payload is the terminal sentinel.
func ssePayload(line []byte) (payload []byte, isData bool, isDone bool) {
	const prefix = "data:"
	if len(line) < len(prefix) || string(line[:len(prefix)]) != prefix {
		return nil, false, false
	}
	rest := line[len(prefix):]
	for len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}
	if string(rest) == "[DONE]" {
		return nil, true, true
	}
	return rest, true, false
}

// NoopObserver discards every chunk and always reports Present: false. The
// Proxy Engine uses it for any family other than the three with a Usage
// Observer, so it always has something to tee through.
type NoopObserver struct{}

func (NoopObserver) Observe([]byte) {}
func (NoopObserver) Flush()         {}
func (NoopObserver) Usage() Usage   { return Usage{} }
