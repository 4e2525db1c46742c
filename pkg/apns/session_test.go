package apns_test

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-legacy/internal/testutil/tlstest"
	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
)

func testFrame(t *testing.T, id uint32) apns.Frame {
	t.Helper()
	b, err := apns.EncodeFrame(allOnesToken(), []byte(`{"aps":{"alert":"hi"}}`), id, time.Unix(1700000000, 0), apns.PriorityHigh)
	require.NoError(t, err)
	return apns.Frame{ID: id, Bytes: b}
}

func TestSession_SendAccepted(t *testing.T) {
	pki := newTestPKI(t)
	frames := make(chan map[byte][]byte, 1)
	srv := pki.authority.Serve(t, acceptingGateway(frames))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := apns.Dial(ctx, srv.Addr, pki.creds, apns.SessionOptions{DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, apns.StateConnected, session.State())

	id, err := session.Send(testFrame(t, 77))
	require.NoError(t, err)
	assert.Equal(t, uint32(77), id)
	assert.Equal(t, apns.StateClosed, session.State())

	select {
	case items := <-frames:
		assert.Equal(t, allOnesToken().String(), apns.DeviceToken(items[apns.ItemDeviceToken]).String())
		assert.Equal(t, []byte(`{"aps":{"alert":"hi"}}`), items[apns.ItemPayload])
		assert.Equal(t, []byte{0, 0, 0, 77}, items[apns.ItemNotificationID])
		assert.Equal(t, []byte{0x0A}, items[apns.ItemPriority])
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never received the frame")
	}
}

func TestSession_SilentGatewayIsSuccessAfterProbeWindow(t *testing.T) {
	pki := newTestPKI(t)
	srv := pki.authority.Serve(t, silentGateway)

	window := 50 * time.Millisecond
	session, err := apns.Dial(context.Background(), srv.Addr, pki.creds, apns.SessionOptions{ProbeWindow: window})
	require.NoError(t, err)

	start := time.Now()
	id, err := session.Send(testFrame(t, 5))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, uint32(5), id)
	assert.GreaterOrEqual(t, elapsed, window)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSession_SendRejected(t *testing.T) {
	pki := newTestPKI(t)
	srv := pki.authority.Serve(t, rejectingGateway(byte(apns.StatusInvalidToken)))

	session, err := apns.Dial(context.Background(), srv.Addr, pki.creds, apns.SessionOptions{ProbeWindow: time.Second})
	require.NoError(t, err)

	id, err := session.Send(testFrame(t, 7))
	require.Error(t, err)
	assert.Zero(t, id)

	var gwErr *apns.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, apns.StatusInvalidToken, gwErr.Status)
	assert.Equal(t, uint32(7), gwErr.NotificationID)
	assert.NotErrorIs(t, err, apns.ErrInvalidToken)
	assert.Equal(t, apns.StateClosed, session.State())
}

func TestSession_NoErrorsReplyIsSuccess(t *testing.T) {
	pki := newTestPKI(t)
	srv := pki.authority.Serve(t, rejectingGateway(byte(apns.StatusNoErrors)))

	session, err := apns.Dial(context.Background(), srv.Addr, pki.creds, apns.SessionOptions{ProbeWindow: time.Second})
	require.NoError(t, err)

	id, err := session.Send(testFrame(t, 9))
	require.NoError(t, err)
	assert.Equal(t, uint32(9), id)
}

func TestSession_ShortReplyIsSuccess(t *testing.T) {
	pki := newTestPKI(t)
	srv := pki.authority.Serve(t, func(conn *tls.Conn) {
		if _, err := readFrame(conn); err != nil {
			return
		}
		_, _ = conn.Write([]byte{apns.CommandErrorResponse, byte(apns.StatusInvalidToken), 0})
	})

	session, err := apns.Dial(context.Background(), srv.Addr, pki.creds, apns.SessionOptions{ProbeWindow: time.Second})
	require.NoError(t, err)

	id, err := session.Send(testFrame(t, 4))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), id)
	assert.Equal(t, apns.StateClosed, session.State())
}

func TestSession_UndocumentedStatusIsUnknown(t *testing.T) {
	pki := newTestPKI(t)
	srv := pki.authority.Serve(t, rejectingGateway(42))

	session, err := apns.Dial(context.Background(), srv.Addr, pki.creds, apns.SessionOptions{ProbeWindow: time.Second})
	require.NoError(t, err)

	_, err = session.Send(testFrame(t, 11))
	var gwErr *apns.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, apns.StatusUnknown, gwErr.Status)
	assert.Equal(t, uint32(11), gwErr.NotificationID)
	assert.False(t, apns.IsTokenError(err))
}

func TestSession_ConnectFailures(t *testing.T) {
	pki := newTestPKI(t)

	t.Run("Nothing listening", func(t *testing.T) {
		session := apns.NewSession(apns.SessionOptions{DialTimeout: time.Second})
		err := session.Connect(context.Background(), closedAddr(t), pki.creds)
		assert.ErrorIs(t, err, apns.ErrConnectFailed)
		assert.Equal(t, apns.StateDisconnected, session.State())
	})

	t.Run("Malformed address", func(t *testing.T) {
		_, err := apns.Dial(context.Background(), "no-port", pki.creds, apns.SessionOptions{})
		assert.ErrorIs(t, err, apns.ErrConnectFailed)
	})

	t.Run("Gateway certificate not trusted", func(t *testing.T) {
		srv := pki.authority.Serve(t, silentGateway)
		stranger := tlstest.NewAuthority(t, t.TempDir())
		creds := &apns.Credentials{Certificate: pki.creds.Certificate, RootCAs: stranger.Pool()}

		session := apns.NewSession(apns.SessionOptions{DialTimeout: 2 * time.Second})
		err := session.Connect(context.Background(), srv.Addr, creds)
		assert.ErrorIs(t, err, apns.ErrHandshakeFailed)
		assert.Equal(t, apns.StateDisconnected, session.State())
	})

	t.Run("Client certificate not trusted by gateway", func(t *testing.T) {
		srv := pki.authority.Serve(t, silentGateway)
		stranger := tlstest.NewAuthority(t, t.TempDir())
		cert, _, _ := stranger.IssueClientCert(t, t.TempDir(), "stranger")
		creds := &apns.Credentials{Certificate: cert, RootCAs: pki.authority.Pool()}

		session := apns.NewSession(apns.SessionOptions{DialTimeout: 2 * time.Second})
		err := session.Connect(context.Background(), srv.Addr, creds)
		assert.ErrorIs(t, err, apns.ErrHandshakeFailed)
		assert.Equal(t, apns.StateDisconnected, session.State())

		_, err = apns.OpenFeedback(context.Background(), srv.Addr, creds, apns.SessionOptions{DialTimeout: 2 * time.Second})
		assert.ErrorIs(t, err, apns.ErrHandshakeFailed)
	})

	t.Run("No credentials", func(t *testing.T) {
		_, err := apns.Dial(context.Background(), "127.0.0.1:2195", nil, apns.SessionOptions{})
		assert.ErrorIs(t, err, apns.ErrHandshakeFailed)
	})
}

func TestSession_StateMachine(t *testing.T) {
	pki := newTestPKI(t)
	frames := make(chan map[byte][]byte, 1)
	srv := pki.authority.Serve(t, acceptingGateway(frames))

	session := apns.NewSession(apns.SessionOptions{})
	assert.Equal(t, apns.StateDisconnected, session.State())

	_, err := session.Send(testFrame(t, 1))
	assert.ErrorIs(t, err, apns.ErrSessionState)

	require.NoError(t, session.Connect(context.Background(), srv.Addr, pki.creds))
	assert.Equal(t, apns.StateConnected, session.State())

	err = session.Connect(context.Background(), srv.Addr, pki.creds)
	assert.ErrorIs(t, err, apns.ErrSessionState)

	require.NoError(t, session.Close())
	assert.Equal(t, apns.StateClosed, session.State())
	require.NoError(t, session.Close())

	_, err = session.Send(testFrame(t, 1))
	assert.ErrorIs(t, err, apns.ErrSessionState)
	err = session.Connect(context.Background(), srv.Addr, pki.creds)
	assert.ErrorIs(t, err, apns.ErrSessionState)

	assert.Equal(t, "closed", apns.StateClosed.String())
}
