package testnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipeDeliversDatagram(t *testing.T) {
	a, b := NewPipe("a", "b", 1)
	defer a.Close()
	defer b.Close()

	n, err := a.WriteTo([]byte("hi"), b.LocalAddr())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	buf := make([]byte, 16)
	n, from, err := b.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(buf[:n]))
	require.Equal(t, a.LocalAddr().String(), from.String())
}

func TestPipeReadDeadline(t *testing.T) {
	a, b := NewPipe("a", "b", 1)
	defer a.Close()
	defer b.Close()

	require.NoError(t, b.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	buf := make([]byte, 16)
	_, _, err := b.ReadFrom(buf)
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}

func TestPipeCloseUnblocksRead(t *testing.T) {
	a, b := NewPipe("a", "b", 1)
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, _, err := b.ReadFrom(buf)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadFrom did not unblock after Close")
	}
}

func TestPipeLossDropsPackets(t *testing.T) {
	a, b := NewPipe("a", "b", 42)
	defer a.Close()
	defer b.Close()
	a.Loss = 1

	_, err := a.WriteTo([]byte("dropped"), b.LocalAddr())
	require.NoError(t, err)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	buf := make([]byte, 16)
	_, _, err = b.ReadFrom(buf)
	require.Error(t, err)
}
