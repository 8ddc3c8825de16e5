package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"linkmon/internal/models"
)

// WSProber holds one websocket open across cycles. Each cycle sends a
// liveness payload plus a protocol-level ping and requires the pong within
// the pong timeout; any failure drops the connection so the next cycle
// re-establishes it.
type WSProber struct {
	node     string
	link     models.Link
	url      string
	dialer   *websocket.Dialer
	pongWait time.Duration

	conn   *websocket.Conn
	pongCh chan struct{}
}

// NewWSProber probes the websocket endpoint at url (ws://host:port).
func NewWSProber(node string, link models.Link, url string, openTimeout, pongTimeout time.Duration) *WSProber {
	return &WSProber{
		node:     node,
		link:     link,
		url:      url,
		dialer:   &websocket.Dialer{HandshakeTimeout: openTimeout},
		pongWait: pongTimeout,
	}
}

// Link implements Prober.
func (p *WSProber) Link() models.Link { return p.link }

// Cycle reconnects if needed, then performs one ping/pong exchange.
func (p *WSProber) Cycle(ctx context.Context) error {
	if p.conn == nil {
		if err := p.connect(ctx); err != nil {
			return err
		}
	}
	if err := p.ping(); err != nil {
		p.drop()
		return err
	}
	return nil
}

func (p *WSProber) connect(ctx context.Context) error {
	conn, resp, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ws dial: %w (http %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("ws dial: %w", err)
	}

	pongCh := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	// Pong frames are only delivered while a read is in flight, so every
	// connection gets a read pump that discards inbound data. It exits when
	// the connection is closed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	p.conn = conn
	p.pongCh = pongCh
	return nil
}

func (p *WSProber) ping() error {
	// Discard a pong left over from an earlier cycle.
	select {
	case <-p.pongCh:
	default:
	}

	deadline := time.Now().Add(p.pongWait)
	payload := fmt.Sprintf("ping from %s at %s", p.node, time.Now().UTC().Format(time.RFC3339Nano))
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return err
	}
	if err := p.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-p.pongCh:
		return nil
	case <-timer.C:
		return errors.New("pong timed out")
	}
}

func (p *WSProber) drop() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close implements Prober.
func (p *WSProber) Close() {
	p.drop()
}
