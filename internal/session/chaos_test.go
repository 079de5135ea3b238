package session

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func feed(t *testing.T, frames ...string) Transport {
	t.Helper()
	local, remote := Pipe()
	for _, f := range frames {
		require.NoError(t, remote.Write(t.Context(), []byte(f)))
	}
	return &drainThenClose{Transport: local}
}

// drainThenClose reports the transport closed once no frame is buffered.
type drainThenClose struct {
	Transport
}

func (d *drainThenClose) Read(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	b, err := d.Transport.Read(ctx)
	if err != nil {
		return nil, ErrTransportClosed
	}
	return b, nil
}

func readAll(t *testing.T, tr Transport) []string {
	t.Helper()
	var out []string
	for {
		b, err := tr.Read(t.Context())
		if err != nil {
			return out
		}
		out = append(out, string(b))
	}
}

func TestChaosDropAll(t *testing.T) {
	c, err := NewChaosTransport(feed(t, "a", "b", "c"), ChaosConfig{Seed: 1, DropRate: 1})
	require.NoError(t, err)
	require.Empty(t, readAll(t, c))
}

func TestChaosDuplicateAll(t *testing.T) {
	c, err := NewChaosTransport(feed(t, "a", "b"), ChaosConfig{Seed: 1, DuplicateRate: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "a", "b", "b"}, readAll(t, c))
}

func TestChaosReorderKeepsEveryFrame(t *testing.T) {
	c, err := NewChaosTransport(feed(t, "a", "b", "c", "d", "e"), ChaosConfig{Seed: 7, ReorderWindow: 3})
	require.NoError(t, err)
	got := readAll(t, c)
	sort.Strings(got)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
}

func TestChaosConfigValidate(t *testing.T) {
	require.Error(t, ChaosConfig{DropRate: 2}.Validate())
	require.Error(t, ChaosConfig{DuplicateRate: -1}.Validate())
	require.Error(t, ChaosConfig{ReorderWindow: -1}.Validate())
	require.NoError(t, ChaosConfig{}.Validate())
	require.False(t, ChaosConfig{ReorderWindow: 1}.Enabled())
}
