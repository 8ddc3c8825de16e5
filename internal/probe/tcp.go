package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"linkmon/internal/models"
)

// TCPProber holds one raw stream open across cycles. Each cycle writes a
// newline-terminated line and requires the exact same bytes echoed back
// within the echo timeout; a mismatch counts the same as a timeout.
type TCPProber struct {
	node           string
	link           models.Link
	addr           string
	connectTimeout time.Duration
	echoTimeout    time.Duration

	conn   net.Conn
	reader *bufio.Reader
}

// NewTCPProber probes the echo listener at addr (host:port).
func NewTCPProber(node string, link models.Link, addr string, connectTimeout, echoTimeout time.Duration) *TCPProber {
	return &TCPProber{
		node:           node,
		link:           link,
		addr:           addr,
		connectTimeout: connectTimeout,
		echoTimeout:    echoTimeout,
	}
}

// Link implements Prober.
func (p *TCPProber) Link() models.Link { return p.link }

// Cycle reconnects if needed, then performs one echo exchange.
func (p *TCPProber) Cycle(ctx context.Context) error {
	if p.conn == nil {
		conn, err := net.DialTimeout("tcp", p.addr, p.connectTimeout)
		if err != nil {
			return err
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
		}
		p.conn = conn
		p.reader = bufio.NewReader(conn)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line := fmt.Sprintf("ping from %s at %s\n", p.node, time.Now().UTC().Format(time.RFC3339Nano))
	deadline := time.Now().Add(p.echoTimeout)
	if err := p.conn.SetDeadline(deadline); err != nil {
		p.drop()
		return err
	}
	if _, err := p.conn.Write([]byte(line)); err != nil {
		p.drop()
		return err
	}
	echo, err := p.reader.ReadString('\n')
	if err != nil {
		p.drop()
		return err
	}
	if echo != line {
		p.drop()
		return errors.New("tcp echo mismatch")
	}
	return nil
}

func (p *TCPProber) drop() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
		p.reader = nil
	}
}

// Close implements Prober.
func (p *TCPProber) Close() {
	p.drop()
}
