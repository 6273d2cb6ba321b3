package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"
)

const upstream = "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"lo, wörld\"}}]}\r\n\r\n" +
	"data: {not json}\n\n" +
	": keep-alive\n\n" +
	"data: {\"choices\":[]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n" +
	"data: [DONE]\n\n"

var wantDeltas = []string{"Hel", "lo, wörld", "!"}

// scriptedReader returns parts in order, then err (io.EOF when nil).
type scriptedReader struct {
	mu     sync.Mutex
	parts  []string
	err    error
	closed bool
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.parts) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.parts[0])
	r.parts[0] = r.parts[0][n:]
	if r.parts[0] == "" {
		r.parts = r.parts[1:]
	}
	return n, nil
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// stallReader returns data once, then blocks until closed.
type stallReader struct {
	data   string
	sent   bool
	closed chan struct{}
	once   sync.Once
}

func newStallReader(data string) *stallReader {
	return &stallReader{data: data, closed: make(chan struct{})}
}

func (r *stallReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.data), nil
	}
	<-r.closed
	return 0, errors.New("read on closed body")
}

func (r *stallReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func collectChunks(t *testing.T, s Stream) []string {
	t.Helper()
	var got []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-s:
			if !ok {
				return got
			}
			got = append(got, c.Content)
		case <-timeout:
			t.Fatal("stream did not close")
			return got
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRelay_WholeBuffer(t *testing.T) {
	src := &scriptedReader{parts: []string{upstream}}
	got := collectChunks(t, Relay(context.Background(), src, Options{}))
	if !equalStrings(got, wantDeltas) {
		t.Errorf("chunks = %q, want %q", got, wantDeltas)
	}
	if !src.closed {
		t.Error("upstream body was not closed")
	}
}

func TestRelay_OneByteReads(t *testing.T) {
	src := io.NopCloser(iotest.OneByteReader(strings.NewReader(upstream)))
	got := collectChunks(t, Relay(context.Background(), src, Options{}))
	if !equalStrings(got, wantDeltas) {
		t.Errorf("chunks = %q, want %q", got, wantDeltas)
	}
}

func TestRelay_EverySplitPoint(t *testing.T) {
	for i := 1; i < len(upstream); i++ {
		src := &scriptedReader{parts: []string{upstream[:i], upstream[i:]}}
		got := collectChunks(t, Relay(context.Background(), src, Options{}))
		if !equalStrings(got, wantDeltas) {
			t.Fatalf("split at %d: chunks = %q, want %q", i, got, wantDeltas)
		}
	}
}

func TestRelay_ThreeWaySplits(t *testing.T) {
	for i := 1; i < len(upstream); i += 5 {
		for j := i + 1; j < len(upstream); j += 11 {
			src := &scriptedReader{parts: []string{upstream[:i], upstream[i:j], upstream[j:]}}
			got := collectChunks(t, Relay(context.Background(), src, Options{}))
			if !equalStrings(got, wantDeltas) {
				t.Fatalf("split at %d,%d: chunks = %q", i, j, got)
			}
		}
	}
}

func TestRelay_FlushesTrailingLineAtEOF(t *testing.T) {
	src := &scriptedReader{parts: []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}",
	}}
	got := collectChunks(t, Relay(context.Background(), src, Options{}))
	if !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("chunks = %q, want [a b]", got)
	}
}

func TestRelay_TruncatedTrailingLineDropped(t *testing.T) {
	src := &scriptedReader{parts: []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n",
		"data: {\"choices\":[{\"del",
	}}
	got := collectChunks(t, Relay(context.Background(), src, Options{}))
	if !equalStrings(got, []string{"a"}) {
		t.Errorf("chunks = %q, want [a]", got)
	}
}

func TestRelay_ReadErrorAfterTwoChunks(t *testing.T) {
	src := &scriptedReader{
		parts: []string{
			"data: {\"choices\":[{\"delta\":{\"content\":\"one\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"two\"}}]}\n\n",
		},
		err: errors.New("connection reset by peer"),
	}
	got := collectChunks(t, Relay(context.Background(), src, Options{Failure: "oops"}))
	want := []string{"one", "two", "oops"}
	if !equalStrings(got, want) {
		t.Errorf("chunks = %q, want %q", got, want)
	}
	if !src.closed {
		t.Error("upstream body was not closed")
	}
}

func TestRelay_DefaultFailureNotice(t *testing.T) {
	src := &scriptedReader{err: errors.New("boom")}
	got := collectChunks(t, Relay(context.Background(), src, Options{}))
	if !equalStrings(got, []string{FailureNotice}) {
		t.Errorf("chunks = %q, want only the failure notice", got)
	}
}

func TestRelay_IdleTimeout(t *testing.T) {
	src := newStallReader("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	got := collectChunks(t, Relay(context.Background(), src, Options{IdleTimeout: 20 * time.Millisecond, Failure: "timed out"}))
	want := []string{"partial", "timed out"}
	if !equalStrings(got, want) {
		t.Errorf("chunks = %q, want %q", got, want)
	}
	select {
	case <-src.closed:
	default:
		t.Error("stalled upstream was not closed")
	}
}

func TestRelay_ContextCancelClosesWithoutNotice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newStallReader("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
	s := Relay(ctx, src, Options{IdleTimeout: time.Minute})

	first := <-s
	if first.Content != "x" {
		t.Fatalf("first chunk = %q", first.Content)
	}
	cancel()
	rest := collectChunks(t, s)
	if len(rest) != 0 {
		t.Errorf("chunks after cancel = %q, want none", rest)
	}
}

func TestParser_DoneMarker(t *testing.T) {
	var p Parser
	p.Feed([]byte("data: [DONE]\n"))
	if !p.Done() {
		t.Error("expected Done after termination record")
	}
}

func TestParser_IgnoresLinesAfterDone(t *testing.T) {
	var p Parser
	got := p.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: [DONE]\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"partial"))
	if !equalStrings(got, []string{"ok"}) {
		t.Errorf("deltas = %q, want only the one before [DONE]", got)
	}
	if more := p.Feed([]byte("\"}}]}\n")); len(more) != 0 {
		t.Errorf("deltas after done = %q", more)
	}
	if rest := p.Flush(); len(rest) != 0 {
		t.Errorf("Flush after done = %q", rest)
	}
}

func TestRelay_StopsAtDoneWithTrailingBytes(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"extra\"}}]}\n\n"
	src := &scriptedReader{parts: []string{body}}
	got := collectChunks(t, Relay(context.Background(), src, Options{}))
	if !equalStrings(got, []string{"Hi"}) {
		t.Errorf("chunks = %q, want [Hi]", got)
	}
}
