// SPDX-License-Identifier: GPL-3.0-or-later

package fabricnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCEchoThenShutdown(t *testing.T) {
	ctx := context.Background()

	server, err := NewRPCServer(ctx, NewConfig(), "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	const fnEcho = 1
	server.Register(fnEcho, func(arg []byte) []byte {
		out := make([]byte, len(arg))
		copy(out, arg)
		return out
	})

	serverDone := make(chan error, 1)
	go func() { serverDone <- server.Start(context.Background()) }()

	client, err := NewRPCClient(ctx, NewConfig(), string(server.LocalAddress()))
	require.NoError(t, err)
	defer client.Close()

	cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := client.CallRemote(cctx, fnEcho, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(reply))

	require.NoError(t, client.Shutdown(cctx))

	select {
	case err := <-serverDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRPCRegisterReservedIDPanics(t *testing.T) {
	server, err := NewRPCServer(context.Background(), NewConfig(), "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	assert.Panics(t, func() {
		server.Register(0, func(arg []byte) []byte { return arg })
	})
}

func TestRPCRegisterDuplicatePanics(t *testing.T) {
	server, err := NewRPCServer(context.Background(), NewConfig(), "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	server.Register(5, func(arg []byte) []byte { return arg })
	assert.Panics(t, func() {
		server.Register(5, func(arg []byte) []byte { return arg })
	})
}

func TestRPCRequestReplyWireFormat(t *testing.T) {
	req := make([]byte, 64)
	n := encodeRPCRequest(req, []byte("127.0.0.1:1234"), 7, []byte("argdata"))

	addr, header, arg, err := decodeRPCRequest(req[:n])
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", string(addr))
	assert.Equal(t, uint64(7), header.fnID)
	assert.Equal(t, "argdata", string(arg))

	reply := make([]byte, 32)
	n = encodeRPCReply(reply, []byte("result"))
	got, err := decodeRPCReply(reply[:n])
	require.NoError(t, err)
	assert.Equal(t, "result", string(got))
}
