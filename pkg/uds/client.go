package uds

import (
	"net"
	"time"

	"main/pkg/exception"
)

const unixNetwork = "unix"

// Client dials Unix domain sockets using a precomputed address.
type Client struct {
	addr net.UnixAddr

	// Timeout bounds Dial. Zero means no limit.
	Timeout time.Duration
}

// NewClient creates a client for the provided socket path.
func NewClient(path string) (*Client, error) {
	if path == "" {
		return nil, exception.ErrEmptyPathUDS
	}
	return &Client{addr: net.UnixAddr{Name: path, Net: unixNetwork}}, nil
}

// Path returns the configured socket path.
func (c *Client) Path() string {
	if c == nil {
		return ""
	}
	return c.addr.Name
}

// Dial opens a Unix domain socket connection.
func (c *Client) Dial() (net.Conn, error) {
	if c == nil {
		return nil, exception.ErrNilClientUDS
	}
	d := net.Dialer{Timeout: c.Timeout}
	return d.Dial(unixNetwork, c.addr.Name)
}
