package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradeforge/boxbot/pkg/types"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 20 * time.Second
	wsReadLimit    = 1 << 20

	// maxRedialBackoff caps the exponential redial delay.
	maxRedialBackoff = 30 * time.Second
)

// WSFeed streams live closed bars over a WebSocket connection. It owns the
// connection lifecycle: dial, read pump, keepalive pings, and redial with
// exponential backoff. Consumers read decoded bars from Bars().
type WSFeed struct {
	url      string
	symbol   string
	interval string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	bars chan types.Bar
	errs chan error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSFeed creates a feed for one symbol/interval stream. Call Start to
// connect.
func NewWSFeed(url, symbol, interval string, logger *slog.Logger) *WSFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSFeed{
		url:      url,
		symbol:   symbol,
		interval: interval,
		logger:   logger,
		bars:     make(chan types.Bar, 256),
		errs:     make(chan error, 8),
	}
}

// Bars returns the channel of decoded closed bars. The channel is closed
// when the feed shuts down.
func (f *WSFeed) Bars() <-chan types.Bar { return f.bars }

// Errors returns async errors (decode failures, dropped connections).
func (f *WSFeed) Errors() <-chan error { return f.errs }

// Start dials the server and launches the pump goroutines. It returns after
// the first successful connection; subsequent disconnects redial internally
// until ctx is cancelled or Close is called.
func (f *WSFeed) Start(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})

	if err := f.dial(ctx); err != nil {
		f.cancel()
		return err
	}

	go f.run(ctx)
	return nil
}

// Close tears down the connection and stops all goroutines.
func (f *WSFeed) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
	if f.done != nil {
		<-f.done
	}
}

func (f *WSFeed) dial(ctx context.Context) error {
	f.logger.Info("Connecting to bar stream", "url", f.url, "symbol", f.symbol)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", f.url, err)
	}

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	if err := f.subscribe(conn); err != nil {
		conn.Close()
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.logger.Info("Bar stream connected", "symbol", f.symbol, "interval", f.interval)
	return nil
}

type subscribeMsg struct {
	Action   string `json:"action"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

func (f *WSFeed) subscribe(conn *websocket.Conn) error {
	msg := subscribeMsg{Action: "subscribe", Symbol: f.symbol, Interval: f.interval}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	return nil
}

// run reads messages until the connection drops, then redials with backoff.
// It exits when ctx is cancelled.
func (f *WSFeed) run(ctx context.Context) {
	defer close(f.done)
	defer close(f.bars)

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()

	go f.pingLoop(ctx, pinger)

	backoff := time.Second
	for {
		err := f.readPump(ctx)
		if ctx.Err() != nil {
			return
		}
		f.reportErr(fmt.Errorf("bar stream dropped: %w", err))

		for {
			f.logger.Warn("Reconnecting to bar stream", "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := f.dial(ctx); err == nil {
				backoff = time.Second
				break
			}
			backoff = min(backoff*2, maxRedialBackoff)
		}
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			f.mu.Unlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
			}
		}
	}
}

// barMessage is the wire shape of a closed-bar event.
type barMessage struct {
	Type string     `json:"type"`
	Bar  barPayload `json:"bar"`
}

func (f *WSFeed) readPump(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msg barMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.reportErr(fmt.Errorf("decoding bar message: %w", err))
			continue
		}
		if msg.Type != "bar" {
			continue
		}

		bar, err := msg.Bar.toBar()
		if err != nil {
			f.reportErr(fmt.Errorf("bad bar payload: %w", err))
			continue
		}

		select {
		case f.bars <- bar:
		default:
			f.logger.Warn("Bar channel full, dropping bar", "timestamp", bar.Timestamp)
		}
	}
}

func (f *WSFeed) reportErr(err error) {
	select {
	case f.errs <- err:
	default:
	}
}
