package relay

import (
	"bytes"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// Parser extracts text deltas from a line-delimited `data:` event stream.
// Input may be split at any byte; incomplete lines stay buffered until the
// rest arrives.
type Parser struct {
	buf  []byte
	done bool
}

// Feed appends p to the buffer and returns the deltas of every line it
// completes. Nothing after the termination record is decoded.
func (p *Parser) Feed(data []byte) []string {
	if p.done {
		return nil
	}
	p.buf = append(p.buf, data...)
	var out []string
	for !p.done {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		if delta, ok := p.line(p.buf[:i]); ok {
			out = append(out, delta)
		}
		p.buf = p.buf[i+1:]
	}
	if len(p.buf) == 0 || p.done {
		p.buf = nil
	}
	return out
}

// Flush treats any buffered partial line as complete.
func (p *Parser) Flush() []string {
	if len(p.buf) == 0 || p.done {
		return nil
	}
	rest := p.buf
	p.buf = nil
	if delta, ok := p.line(rest); ok {
		return []string{delta}
	}
	return nil
}

// Done reports whether the termination record has been seen.
func (p *Parser) Done() bool { return p.done }

func (p *Parser) line(raw []byte) (string, bool) {
	line := bytes.TrimRight(raw, "\r")
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return "", false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return "", false
	}
	if string(payload) == doneMarker {
		p.done = true
		return "", false
	}
	var evt openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(payload, &evt); err != nil {
		return "", false
	}
	if len(evt.Choices) == 0 || evt.Choices[0].Delta.Content == "" {
		return "", false
	}
	return evt.Choices[0].Delta.Content, true
}
