package rcon

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Source RCON packet types (Minecraft speaks the Source dialect)
const (
	packetTypeLogin    = 3
	packetTypeCommand  = 2
	packetTypeResponse = 0
)

const (
	minPacketSize = 10
	maxPacketSize = 4096
)

var (
	// ErrNotConnected is returned when an operation needs an
	// authenticated session and there is none.
	ErrNotConnected = errors.New("not connected to RCON server")
	// ErrAuthFailed is returned when the server rejects the password.
	ErrAuthFailed = errors.New("RCON authentication failed")
)

// Client is a single authenticated RCON connection to a Minecraft server.
// Methods are safe for concurrent use; commands are serialized and paced so
// a burst of console input cannot overrun the server's RCON thread.
type Client struct {
	mu        sync.Mutex
	addr      string
	password  string
	conn      net.Conn
	requestID int32
	authed    bool

	limiter     *rate.Limiter
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

// NewClient creates a client for the given endpoint. No connection is made
// until Connect.
func NewClient(host string, port int, password string) *Client {
	return &Client{
		addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		password:  password,
		requestID: 1,
		// Minecraft's RCON thread mishandles back-to-back packets; one
		// command per 50ms matches what servers reliably keep up with.
		limiter:     rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		dialTimeout: 3 * time.Second,
		ioTimeout:   10 * time.Second,
	}
}

// Connect dials the server and authenticates. Calling it on an already
// connected client reconnects from scratch.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to RCON at %s: %w", c.addr, err)
	}
	c.conn = conn

	if err := c.authenticateLocked(); err != nil {
		c.closeLocked()
		return err
	}
	c.authed = true
	return nil
}

// Connected reports whether the client holds an authenticated session.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.authed
}

// Close shuts the connection down. Safe to call when already closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

// Run sends a console command and returns the server's response payload.
func (c *Client) Run(ctx context.Context, command string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.authed {
		return "", ErrNotConnected
	}

	id := c.nextIDLocked()
	if err := c.writePacketLocked(id, packetTypeCommand, command); err != nil {
		c.markBrokenLocked()
		return "", err
	}

	pkt, err := c.readPacketLocked()
	if err != nil {
		c.markBrokenLocked()
		return "", err
	}

	if pkt.requestID != id {
		// Servers occasionally interleave an empty keep-alive frame;
		// the real response follows it.
		if strings.TrimSpace(pkt.payload) == "" {
			pkt, err = c.readPacketLocked()
			if err != nil {
				c.markBrokenLocked()
				return "", err
			}
		}
		if pkt.requestID != id {
			c.markBrokenLocked()
			return "", fmt.Errorf("unexpected RCON response id %d (want %d)", pkt.requestID, id)
		}
	}

	return pkt.payload, nil
}

type packet struct {
	requestID  int32
	packetType int32
	payload    string
}

// authenticateLocked performs the login exchange. The server answers a bad
// password with request id -1.
func (c *Client) authenticateLocked() error {
	id := c.nextIDLocked()
	if err := c.writePacketLocked(id, packetTypeLogin, c.password); err != nil {
		return err
	}

	resp, err := c.readPacketLocked()
	if err != nil {
		return err
	}
	if resp.requestID == -1 || resp.requestID != id {
		return ErrAuthFailed
	}
	return nil
}

func (c *Client) writePacketLocked(id, packetType int32, payload string) error {
	// size covers id + type + payload + two NUL terminators
	size := int32(4 + 4 + len(payload) + 2)
	buf := make([]byte, 0, 4+size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(packetType))
	buf = append(buf, payload...)
	buf = append(buf, 0, 0)

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("failed to send RCON packet: %w", err)
	}
	return nil
}

func (c *Client) readPacketLocked() (packet, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return packet{}, err
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(c.conn, sizeBuf[:]); err != nil {
		return packet{}, fmt.Errorf("failed to read RCON packet size: %w", err)
	}
	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < minPacketSize || size > maxPacketSize {
		return packet{}, fmt.Errorf("invalid RCON packet size %d", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return packet{}, fmt.Errorf("failed to read RCON packet body: %w", err)
	}

	payload := body[8:]
	for len(payload) > 0 && payload[len(payload)-1] == 0 {
		payload = payload[:len(payload)-1]
	}

	return packet{
		requestID:  int32(binary.LittleEndian.Uint32(body[0:4])),
		packetType: int32(binary.LittleEndian.Uint32(body[4:8])),
		payload:    string(payload),
	}, nil
}

func (c *Client) nextIDLocked() int32 {
	id := c.requestID
	c.requestID++
	return id
}

func (c *Client) markBrokenLocked() {
	c.authed = false
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.authed = false
}
