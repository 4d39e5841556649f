package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer starts an in-process JetStream-enabled NATS server.
func startTestServer(t *testing.T) (*server.Server, nats.JetStreamContext) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	js, err := natsConnection.JetStream()
	require.NoError(t, err)

	return natsServer, js
}

func TestStore_UploadDownload(t *testing.T) {
	t.Parallel()

	_, js := startTestServer(t)

	store, err := objectstore.New(js, "test-bucket")
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", store.Bucket())

	ctx := context.Background()
	uploadData := []byte("hello world, this is a test")

	require.NoError(t, store.Upload(ctx, "my-test-object", uploadData))

	downloadData, err := store.Download(ctx, "my-test-object")
	require.NoError(t, err)
	assert.Equal(t, uploadData, downloadData)

	require.NoError(t, store.UploadAudio(ctx, "tts_x.mp3", "audio/mpeg", []byte("mp3")))

	audio, err := store.Download(ctx, "tts_x.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), audio)
}

func TestStore_MissingKeyIsNotFound(t *testing.T) {
	t.Parallel()

	_, js := startTestServer(t)

	store, err := objectstore.New(js, "empty-bucket")
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "absent")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	_, js := startTestServer(t)

	first, err := objectstore.New(js, "shared")
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "k", []byte("v")))

	second, err := objectstore.New(js, "shared")
	require.NoError(t, err)

	data, err := second.Download(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}
