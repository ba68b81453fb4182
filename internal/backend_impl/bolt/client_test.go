package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/internal/backend_impl/backendtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestClient(t *testing.T) {
	defer goleak.VerifyNone(t)

	backendtest.Run(t, func(t *testing.T) backend.Client {
		client, err := NewClient(t.TempDir())
		require.NoError(t, err)

		return client
	})
}

func TestClient_Reopen(t *testing.T) {
	dir := t.TempDir()

	client, err := NewClient(dir)
	require.NoError(t, err)
	require.Equal(t, backend.Descending, client.Order())

	_, err = client.Table(backend.TableMailboxes).Increment(context.Background(), []byte("mbox"), "mbox", "uid", 3)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	client, err = NewClient(dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	row, err := client.Table(backend.TableMailboxes).Get(context.Background(), []byte("mbox"), "mbox")
	require.NoError(t, err)

	uid, err := row.Int("uid")
	require.NoError(t, err)
	require.Equal(t, int64(3), uid)
}

func TestBuilder_Delete(t *testing.T) {
	dir := t.TempDir()

	client, err := NewBuilder().New(dir)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	require.NoError(t, NewBuilder().Delete(dir))
	require.NoFileExists(t, filepath.Join(dir, fileName))
}
