package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/simple-storage-server/storage"
	"github.com/stevemurr/simple-storage-server/store"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, appName, entry["service"])
}

func TestLoadConfigAppliesLogFlags(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")

	cfg, err := loadConfig(&CLIConfig{LogLevel: "debug", LogFormat: "text"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	_, err = loadConfig(&CLIConfig{LogLevel: "verbose"})
	assert.ErrorContains(t, err, "invalid log level")
}

func TestRunClean(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()
	s := storage.New(backend, nil)
	require.NoError(t, s.Create(ctx, "app", "k1", map[string]any{"v": 1}))
	require.NoError(t, s.Create(ctx, "app", "k2", map[string]any{"v": 2}))

	require.NoError(t, runClean(ctx, backend, s, slog.Default()))
	assert.Equal(t, 0, backend.Len())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, time.Second, slog.Default()) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
