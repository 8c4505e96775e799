package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"crashwatcher/internal/round"
)

// WebsocketOptions configure the websocket sample source.
type WebsocketOptions struct {
	URL string
	// StaleAfter is how old the last frame may be before Fetch reports an
	// absent sample.
	StaleAfter time.Duration
	// HandshakeTimeout bounds the dial.
	HandshakeTimeout time.Duration
	// ReconnectBackoff is the initial delay between reconnect attempts; it
	// doubles up to ten times itself.
	ReconnectBackoff time.Duration
}

func (o WebsocketOptions) withDefaults() WebsocketOptions {
	if o.StaleAfter <= 0 {
		o.StaleAfter = 2 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = 500 * time.Millisecond
	}
	return o
}

// multiplierFrame is the wire format pushed by the game feed.
type multiplierFrame struct {
	Multiplier *float64 `json:"multiplier"`
	Timestamp  int64    `json:"ts"`
}

// Websocket consumes a game feed pushing multiplier frames and exposes the
// most recent one to the polling pipeline. A missing or stale frame maps to
// an absent sample, which is exactly the crash signal the tracker expects.
type Websocket struct {
	opts   WebsocketOptions
	logger zerolog.Logger

	mu        sync.Mutex
	lastValue float64
	lastSeen  time.Time
	hasValue  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebsocket starts the background reader and returns the source.
func NewWebsocket(opts WebsocketOptions, logger zerolog.Logger) *Websocket {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Websocket{
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "feed_ws").Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.readLoop(ctx)
	return w
}

// Fetch returns the latest pushed multiplier, or an absent sample when no
// fresh frame exists.
func (w *Websocket) Fetch(ctx context.Context) (round.Sample, error) {
	now := time.Now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.hasValue || now.Sub(w.lastSeen) > w.opts.StaleAfter {
		return round.AbsentSample(now), nil
	}
	return round.NewSample(w.lastValue, now), nil
}

// Close stops the background reader.
func (w *Websocket) Close() error {
	w.cancel()
	<-w.done
	return nil
}

func (w *Websocket) readLoop(ctx context.Context) {
	defer close(w.done)

	backoff := w.opts.ReconnectBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := w.dial(ctx)
		if err != nil {
			w.logger.Warn().Err(err).Dur("backoff", backoff).Msg("feed dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 10*w.opts.ReconnectBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = w.opts.ReconnectBackoff
		w.logger.Info().Str("url", w.opts.URL).Msg("feed connected")
		w.consume(ctx, conn)
	}
}

func (w *Websocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: w.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.opts.URL, nil)
	return conn, err
}

func (w *Websocket) consume(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn().Err(err).Msg("feed read failed, reconnecting")
			}
			return
		}

		var frame multiplierFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			w.logger.Debug().Err(err).Msg("discarding malformed frame")
			continue
		}
		if frame.Multiplier == nil {
			// The feed pushes an explicit null on blank reads; the pipeline
			// will observe staleness and emit an absent sample.
			continue
		}

		w.mu.Lock()
		w.lastValue = *frame.Multiplier
		w.lastSeen = time.Now().UTC()
		w.hasValue = true
		w.mu.Unlock()
	}
}
