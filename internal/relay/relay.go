package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/zulandar/concierge/internal/metrics"
)

// FailureNotice is the final chunk sent when an upstream stream breaks.
const FailureNotice = "\n\n[The answer was interrupted. Please try again in a moment.]"

// DefaultIdleTimeout bounds the wait for the next upstream read.
const DefaultIdleTimeout = 30 * time.Second

const readSize = 4096

// Options tunes Relay.
type Options struct {
	IdleTimeout time.Duration // 0 means DefaultIdleTimeout
	Failure     string        // final chunk on error; "" means FailureNotice
}

type readResult struct {
	data []byte
	err  error
}

// Relay reads an upstream event stream from src and re-emits its text
// deltas as chunks. If the upstream read fails or stays silent past the
// idle timeout, the chunks already decoded are followed by one failure
// chunk. src is always closed. Cancelling ctx closes the stream without a
// failure chunk.
func Relay(ctx context.Context, src io.ReadCloser, opts Options) Stream {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Failure == "" {
		opts.Failure = FailureNotice
	}

	out := make(chan Chunk)
	reads := make(chan readResult)
	stop := make(chan struct{})
	var closeOnce sync.Once
	closeSrc := func() { closeOnce.Do(func() { src.Close() }) }

	go func() {
		for {
			buf := make([]byte, readSize)
			n, err := src.Read(buf)
			select {
			case reads <- readResult{data: buf[:n], err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(out)
		defer closeSrc()
		defer close(stop)

		emit := func(deltas []string) bool {
			for _, d := range deltas {
				select {
				case out <- Chunk{Content: d}:
					metrics.RelayChunks.Inc()
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		fail := func(reason string, err error) {
			metrics.RelayFailures.WithLabelValues(reason).Inc()
			log.Printf("relay: upstream %s failure: %v", reason, err)
			select {
			case out <- Chunk{Content: opts.Failure}:
			case <-ctx.Done():
			}
		}

		var p Parser
		idle := time.NewTimer(opts.IdleTimeout)
		defer idle.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
				closeSrc()
				fail("idle", errors.New("no data within "+opts.IdleTimeout.String()))
				return
			case r := <-reads:
				idle.Stop()
				if len(r.data) > 0 && !emit(p.Feed(r.data)) {
					return
				}
				if r.err == nil {
					if p.Done() {
						return
					}
					idle.Reset(opts.IdleTimeout)
					continue
				}
				if errors.Is(r.err, io.EOF) {
					emit(p.Flush())
					return
				}
				fail("read", r.err)
				return
			}
		}
	}()
	return out
}
