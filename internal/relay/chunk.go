// Package relay turns upstream event streams and whole answers into one
// chunk protocol.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Chunk is one piece of answer text.
type Chunk struct {
	Content string `json:"content"`
}

// Stream yields chunks until it is closed. Every Stream produced by this
// package is closed exactly once.
type Stream <-chan Chunk

// Encode frames c as an event-stream record: `data: {"content":...}`
// followed by a blank line.
func Encode(c Chunk) []byte {
	payload, _ := json.Marshal(c)
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, '\n', '\n')
	return out
}

// WriteTo writes every chunk of s to w in event-stream framing, calling
// flush after each record. It stops early if a write fails.
func WriteTo(w io.Writer, s Stream, flush func()) error {
	for c := range s {
		if _, err := w.Write(Encode(c)); err != nil {
			go drain(s)
			return fmt.Errorf("relay: write: %w", err)
		}
		if flush != nil {
			flush()
		}
	}
	return nil
}

// Collect reads s to the end and returns the concatenated content.
func Collect(s Stream) string {
	var out []byte
	for c := range s {
		out = append(out, c.Content...)
	}
	return string(out)
}

func drain(s Stream) {
	for range s {
	}
}

// Single returns a stream of exactly one chunk.
func Single(text string) Stream {
	ch := make(chan Chunk, 1)
	ch <- Chunk{Content: text}
	close(ch)
	return ch
}

// Synthesize slices text into pieces of size runes and emits them with
// delay between pieces, so a whole answer reads like a generated one.
// Cancelling ctx stops the stream early.
func Synthesize(ctx context.Context, text string, size int, delay time.Duration) Stream {
	if size <= 0 {
		size = 4
	}
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		runes := []rune(text)
		for start := 0; start < len(runes); start += size {
			if start > 0 && delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			end := min(start+size, len(runes))
			select {
			case ch <- Chunk{Content: string(runes[start:end])}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
