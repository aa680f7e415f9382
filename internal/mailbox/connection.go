package mailbox

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/client"
)

// dialTimeout bounds the TCP connect to the IMAP server.
const dialTimeout = 5 * time.Second

// connectIMAP dials and authenticates one IMAP connection for a mailbox
// config. secure=false is used for plaintext test servers.
func connectIMAP(host string, port int, secure bool, username, password string) (*client.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: dialTimeout}

	var c *client.Client
	var err error
	if secure {
		c, err = client.DialWithDialerTLS(dialer, addr, nil)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if err := c.Login(username, password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	return c, nil
}
