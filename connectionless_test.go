// SPDX-License-Identifier: GPL-3.0-or-later

package fabricnet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionlessHandshakeAndExchange(t *testing.T) {
	ctx := context.Background()

	server, err := NewConnectionlessServer(ctx, NewConfig(), "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := NewConnectionlessClient(ctx, NewConfig(), string(server.LocalAddress()))
	require.NoError(t, err)
	defer client.Close()

	var wg sync.WaitGroup
	var serverHandle string
	var acceptErr, connectErr error
	wg.Add(2)

	go func() {
		defer wg.Done()
		buf := make([]byte, DefaultBufferSize)
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		serverHandle, acceptErr = server.Accept(cctx, buf)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		buf := make([]byte, DefaultBufferSize)
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		connectErr = client.Connect(cctx, buf)
	}()
	wg.Wait()

	require.NoError(t, acceptErr)
	require.NoError(t, connectErr)
	assert.NotEmpty(t, serverHandle)

	cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var appErr error
	recvBuf := make([]byte, DefaultBufferSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		appErr = server.Recv(cctx, serverHandle, recvBuf)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, client.Send(cctx, client.serverHandle, []byte("ping")))
	wg.Wait()
	require.NoError(t, appErr)
	assert.Equal(t, "ping", string(recvBuf[:4]))
}
