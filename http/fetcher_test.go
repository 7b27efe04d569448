package http_test

import (
	"bytes"
	"context"
	"errors"
	nethttp "net/http"
	"net"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bundlehttp "github.com/meigma/bundle/http"
	"github.com/meigma/bundle/internal/bundletype"
)

func TestFetcherGet(t *testing.T) {
	t.Parallel()

	var gotUA, gotToken string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotToken = r.Header.Get("X-Token")
		_, _ = w.Write([]byte("hello world"))
	}))
	t.Cleanup(server.Close)

	f := bundlehttp.NewFetcher(
		bundlehttp.WithUserAgent("bundle-test/1"),
		bundlehttp.WithHeader("X-Token", "secret"),
	)
	data, err := f.Get(context.Background(), server.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "bundle-test/1", gotUA)
	assert.Equal(t, "secret", gotToken)
}

func TestFetcherStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	_, err := bundlehttp.NewFetcher().Get(context.Background(), server.URL+"/missing")
	require.Error(t, err)

	var se *bundlehttp.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, nethttp.StatusNotFound, se.StatusCode)
}

func TestFetcherMaxBytes(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("x"), 64)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		// Stream without Content-Length so the limit is enforced on read.
		w.(nethttp.Flusher).Flush()
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	_, err := bundlehttp.NewFetcher(bundlehttp.WithMaxBytes(10)).Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrSizeOverflow)

	data, err := bundlehttp.NewFetcher(bundlehttp.WithMaxBytes(64)).Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, data, 64)
}

func TestFetcherContextCanceled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		_, _ = w.Write([]byte("unreachable"))
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bundlehttp.NewFetcher().Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetcherReusesConnectionAfterRejectedResponse(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("x"), 512)
	var conns atomic.Int32
	server := httptest.NewUnstartedServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.URL.Path == "/missing" {
			nethttp.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	server.Config.ConnState = func(_ net.Conn, state nethttp.ConnState) {
		if state == nethttp.StateNew {
			conns.Add(1)
		}
	}
	server.Start()
	t.Cleanup(server.Close)

	transport := &nethttp.Transport{}
	t.Cleanup(transport.CloseIdleConnections)
	f := bundlehttp.NewFetcher(
		bundlehttp.WithClient(&nethttp.Client{Transport: transport}),
		bundlehttp.WithMaxBytes(16),
	)

	for range 3 {
		_, err := f.Get(context.Background(), server.URL+"/missing")
		var se *bundlehttp.StatusError
		require.ErrorAs(t, err, &se)

		_, err = f.Get(context.Background(), server.URL+"/large")
		require.ErrorIs(t, err, bundlehttp.ErrResponseTooLarge)
	}
	assert.Equal(t, int32(1), conns.Load(), "unread bodies must be drained so the connection is reused")
}
