package apns_test

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-legacy/internal/testutil/tlstest"
	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
)

// testPKI is a CA plus a client identity it issued.
type testPKI struct {
	authority *tlstest.Authority
	creds     *apns.Credentials
	dir       string
	certFile  string
	keyFile   string
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()
	authority := tlstest.NewAuthority(t, dir)
	cert, certFile, keyFile := authority.IssueClientCert(t, dir, "push-client")
	return &testPKI{
		authority: authority,
		creds:     &apns.Credentials{Certificate: cert, RootCAs: authority.Pool()},
		dir:       dir,
		certFile:  certFile,
		keyFile:   keyFile,
	}
}

// readFrame reads one notification frame and returns its items by id.
func readFrame(r io.Reader) (map[byte][]byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	if header[0] != apns.CommandNotification {
		return nil, fmt.Errorf("unexpected command %d", header[0])
	}
	body := make([]byte, binary.BigEndian.Uint32(header[1:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	items := make(map[byte][]byte)
	for len(body) > 0 {
		if len(body) < 3 {
			return nil, fmt.Errorf("truncated item header")
		}
		id, size := body[0], int(binary.BigEndian.Uint16(body[1:3]))
		if len(body) < 3+size {
			return nil, fmt.Errorf("truncated item %d", id)
		}
		items[id] = body[3 : 3+size]
		body = body[3+size:]
	}
	return items, nil
}

// acceptingGateway reads each frame onto frames and closes without replying.
func acceptingGateway(frames chan<- map[byte][]byte) func(*tls.Conn) {
	return func(conn *tls.Conn) {
		items, err := readFrame(conn)
		if err != nil {
			return
		}
		frames <- items
	}
}

// silentGateway reads a frame then holds the connection open until the
// client goes away.
func silentGateway(conn *tls.Conn) {
	if _, err := readFrame(conn); err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, conn)
}

// rejectingGateway answers every frame with status, echoing its id.
func rejectingGateway(status byte) func(*tls.Conn) {
	return func(conn *tls.Conn) {
		items, err := readFrame(conn)
		if err != nil {
			return
		}
		reply := append([]byte{apns.CommandErrorResponse, status}, items[apns.ItemNotificationID]...)
		_, _ = conn.Write(reply)
	}
}

// closedAddr returns an address nothing is listening on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}
