// Package cache implements the ephemeral cache adapter (spec's
// REDIS_URL) used by the Containment Agent to de-duplicate fault
// admission by fault ID (a SETNX with a short TTL); the Action Executor
// does not use it. No repository in the retrieval pack
// imports a Redis client library; platformbuilds-mirador-rca's own
// cache adapter hand-rolls the RESP protocol over a raw TCP connection,
// so this package follows the same approach rather than reaching for an
// unverified dependency.
package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	recist "github.com/recist/recist/internal/model"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache: key not found")

// Client is a minimal RESP client speaking the subset of the Redis
// protocol the pipeline needs: SET/GET/SETNX/DEL with a millisecond TTL.
type Client struct {
	addr        string
	password    string
	db          int
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

// New parses a redis://[:password@]host:port/db URL, matching the shape
// of REDIS_URL in the external interface contract.
func New(rawURL string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &recist.BackendUnavailable{Backend: "redis", Op: "New", Err: err}
	}
	c := &Client{
		addr:        u.Host,
		dialTimeout: 2 * time.Second,
		ioTimeout:   500 * time.Millisecond,
	}
	if u.User != nil {
		c.password, _ = u.User.Password()
	}
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		if db, err := strconv.Atoi(path); err == nil {
			c.db = db
		}
	}
	return c, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := c.withConn(ctx, func(conn *respConn) error {
		if err := conn.write("GET", key); err != nil {
			return err
		}
		reply, err := conn.read()
		if err != nil {
			return err
		}
		if reply.isNil {
			return ErrMiss
		}
		payload = reply.bulk
		return nil
	})
	return payload, err
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.withConn(ctx, func(conn *respConn) error {
		args := []string{"SET", key, string(value)}
		if ttl > 0 {
			args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
		}
		if err := conn.write(args...); err != nil {
			return err
		}
		_, err := conn.read()
		return err
	})
}

// SetNX stores value only if the key is absent, used for idempotency
// keys: the first writer for a given key wins.
func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var acquired bool
	err := c.withConn(ctx, func(conn *respConn) error {
		args := []string{"SET", key, string(value), "NX"}
		if ttl > 0 {
			args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
		}
		if err := conn.write(args...); err != nil {
			return err
		}
		reply, err := conn.read()
		if err != nil {
			return err
		}
		acquired = !reply.isNil
		return nil
	})
	return acquired, err
}

func (c *Client) Del(ctx context.Context, key string) error {
	return c.withConn(ctx, func(conn *respConn) error {
		if err := conn.write("DEL", key); err != nil {
			return err
		}
		_, err := conn.read()
		return err
	})
}

func (c *Client) withConn(ctx context.Context, fn func(*respConn) error) error {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return &recist.BackendUnavailable{Backend: "redis", Op: "dial", Err: err}
	}
	conn := &respConn{conn: nc, r: bufio.NewReader(nc), timeout: c.ioTimeout}
	defer nc.Close()

	if c.password != "" {
		if err := conn.write("AUTH", c.password); err != nil {
			return &recist.BackendUnavailable{Backend: "redis", Op: "auth", Err: err}
		}
		if _, err := conn.read(); err != nil {
			return &recist.BackendUnavailable{Backend: "redis", Op: "auth", Err: err}
		}
	}
	if c.db != 0 {
		if err := conn.write("SELECT", strconv.Itoa(c.db)); err != nil {
			return &recist.BackendUnavailable{Backend: "redis", Op: "select", Err: err}
		}
		if _, err := conn.read(); err != nil {
			return &recist.BackendUnavailable{Backend: "redis", Op: "select", Err: err}
		}
	}

	if err := fn(conn); err != nil {
		if isTimeout(err) {
			return &recist.BackendTimeout{Backend: "redis", Op: "command", Err: err}
		}
		if errors.Is(err, ErrMiss) {
			return err
		}
		return &recist.BackendUnavailable{Backend: "redis", Op: "command", Err: err}
	}
	return nil
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

// respConn wraps one TCP connection with the minimal RESP framing this
// client needs.
type respConn struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

type reply struct {
	bulk  []byte
	isNil bool
}

func (c *respConn) write(parts ...string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d\r\n", len(parts))
	for _, p := range parts {
		fmt.Fprintf(&sb, "$%d\r\n%s\r\n", len(p), p)
	}
	_, err := c.conn.Write([]byte(sb.String()))
	return err
}

func (c *respConn) read() (reply, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	prefix, err := c.r.ReadByte()
	if err != nil {
		return reply{}, err
	}
	line, err := c.readLine()
	if err != nil {
		return reply{}, err
	}
	switch prefix {
	case '+', ':':
		return reply{bulk: line}, nil
	case '-':
		return reply{}, errors.New(string(line))
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return reply{}, err
		}
		if size == -1 {
			return reply{isNil: true}, nil
		}
		buf := make([]byte, size+2) // payload + trailing CRLF
		if _, err := readFull(c.r, buf); err != nil {
			return reply{}, err
		}
		return reply{bulk: buf[:size]}, nil
	default:
		return reply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
