//go:build integration
// +build integration

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stevemurr/simple-storage-server/store"
)

// startContainer starts image and returns the container and host:port of exposed.
func startContainer(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, exposed string) (testcontainers.Container, string) {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, exposed)
	require.NoError(t, err)

	return container, fmt.Sprintf("%s:%s", host, port.Port())
}

func TestIntegration_MongoStore(t *testing.T) {
	ctx := context.Background()
	container, addr := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}, "27017")
	defer container.Terminate(ctx)

	s, err := store.NewMongoStore(ctx, store.MongoArgs{URI: "mongodb://" + addr + "/storage-test"})
	require.NoError(t, err)
	defer s.Close()

	runStoreTests(t, s)
}

func TestIntegration_RedisStore(t *testing.T) {
	ctx := context.Background()
	container, addr := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")
	defer container.Terminate(ctx)

	s, err := store.NewRedisStore(ctx, store.RedisArgs{Addr: addr})
	require.NoError(t, err)
	defer s.Close()

	runStoreTests(t, s)
}

func TestIntegration_NatsStore(t *testing.T) {
	ctx := context.Background()
	container, addr := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Server is ready"),
	}, "4222")
	defer container.Terminate(ctx)

	s, err := store.NewNatsStore(ctx, store.NatsArgs{URL: "nats://" + addr, Bucket: "documents_test"})
	require.NoError(t, err)
	defer s.Close()

	runStoreTests(t, s)
}

func TestIntegration_ReconnectingMongo(t *testing.T) {
	ctx := context.Background()
	container, addr := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}, "27017")
	defer container.Terminate(ctx)

	s, err := store.New(store.Config{
		Backend:       "mongo",
		MongoURI:      "mongodb://" + addr + "/reconnect-test",
		RetryInterval: 100 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	require.NoError(t, s.(*store.Reconnecting).Wait(waitCtx))

	runStoreTests(t, s)
}
