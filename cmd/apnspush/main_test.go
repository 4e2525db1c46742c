package main

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-apns-legacy/internal/testutil/tlstest"
	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
)

const tokenHex = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

// pki writes a CA and a client identity into a temp dir and returns the
// flags that select them.
func pki(t *testing.T) (*tlstest.Authority, []string) {
	t.Helper()
	dir := t.TempDir()
	authority := tlstest.NewAuthority(t, dir)
	_, certFile, keyFile := authority.IssueClientCert(t, dir, "apnspush-test")
	return authority, []string{"--cert", certFile, "--key", keyFile, "--ca", authority.CAFile()}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd(t *testing.T) {
	cmd := rootCmd()
	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"send", "feedback"}, names)
}

func TestSendCmd(t *testing.T) {
	t.Run("delivers to every token", func(t *testing.T) {
		authority, creds := pki(t)
		frames := make(chan []byte, 2)
		srv := authority.Serve(t, func(conn *tls.Conn) {
			var header [5]byte
			if _, err := io.ReadFull(conn, header[:]); err != nil {
				return
			}
			body := make([]byte, binary.BigEndian.Uint32(header[1:]))
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
			frames <- body
		})

		args := append([]string{"send", "--gateway", srv.Addr, "--alert", "hi", "--badge", "3", "--priority", "low"}, creds...)
		out, err := run(t, append(args, tokenHex, strings.ToUpper(tokenHex))...)
		require.NoError(t, err)

		assert.Equal(t, 2, strings.Count(out, "sent "))
		for range 2 {
			body := <-frames
			// token item first, then the payload item
			assert.Equal(t, tokenHex, hex.EncodeToString(body[3:35]))
			size := int(binary.BigEndian.Uint16(body[36:38]))
			assert.JSONEq(t, `{"aps":{"alert":"hi","badge":3}}`, string(body[38:38+size]))
			assert.Equal(t, []byte{apns.ItemPriority, 0, 1, byte(apns.PriorityLow)}, body[len(body)-4:])
		}
	})

	t.Run("payload from file", func(t *testing.T) {
		authority, creds := pki(t)
		srv := authority.Serve(t, func(conn *tls.Conn) { _, _ = io.Copy(io.Discard, conn) })
		file := filepath.Join(t.TempDir(), "push.json")
		require.NoError(t, os.WriteFile(file, []byte(`{"aps":{"alert":"from file"}}`), 0o600))

		args := append([]string{"send", "--gateway", srv.Addr, "--file", file}, creds...)
		_, err := run(t, append(args, tokenHex)...)
		require.NoError(t, err)
	})

	t.Run("stops on a rejected token", func(t *testing.T) {
		authority, creds := pki(t)
		srv := authority.Serve(t, func(conn *tls.Conn) {
			var header [5]byte
			if _, err := io.ReadFull(conn, header[:]); err != nil {
				return
			}
			body := make([]byte, binary.BigEndian.Uint32(header[1:]))
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
			// notification id follows the token and payload items
			size := int(binary.BigEndian.Uint16(body[36:38]))
			id := body[38+size+3 : 38+size+7]
			_, _ = conn.Write(append([]byte{apns.CommandErrorResponse, byte(apns.StatusInvalidToken)}, id...))
		})

		args := append([]string{"send", "--gateway", srv.Addr}, creds...)
		out, err := run(t, append(args, tokenHex, tokenHex)...)
		require.Error(t, err)
		assert.True(t, apns.IsTokenError(err))
		assert.Empty(t, out)
		assert.Equal(t, 1, srv.Accepted())
	})

	failures := map[string][]string{
		"no tokens":        {"send"},
		"no credentials":   {"send", tokenHex},
		"invalid token":    {"send", "--cert", "x.crt", "--key", "x.key", tokenHex, "not-a-token"},
		"unknown priority": {"send", "--priority", "urgent", tokenHex},
		"nothing to send":  {"send", "--alert", "", tokenHex},
		"bad payload file": {"send", "--file", "/does/not/exist.json", tokenHex},
		"zero expiry":      {"send", "--expiry", "0s", tokenHex},
	}
	for name, args := range failures {
		t.Run("fails with "+name, func(t *testing.T) {
			t.Setenv("APNS_CERT_FILE", "")
			t.Setenv("APNS_P12_FILE", "")
			_, err := run(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestFeedbackCmd(t *testing.T) {
	authority, creds := pki(t)
	token, err := apns.ParseDeviceToken(tokenHex)
	require.NoError(t, err)
	srv := authority.Serve(t, func(conn *tls.Conn) {
		record := make([]byte, 0, 38)
		record = binary.BigEndian.AppendUint32(record, 1700000000)
		record = binary.BigEndian.AppendUint16(record, 32)
		record = append(record, token[:]...)
		_, _ = conn.Write(record)
	})

	args := append([]string{"feedback", "--feedback-addr", srv.Addr, "--timeout", "5s"}, creds...)
	out, err := run(t, args...)
	require.NoError(t, err)

	stamp := time.Unix(1700000000, 0).UTC().Format(time.RFC3339)
	assert.Equal(t, stamp+" "+tokenHex+"\n", out)
}
