package unixsocket

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Dashbloxx/Asterisk/internal/sched"
	"github.com/Dashbloxx/Asterisk/internal/vmm"
	"github.com/Dashbloxx/Asterisk/kernel"
	"github.com/Dashbloxx/Asterisk/vfs"
)

func newSubsystem(t *testing.T) *kernel.Subsystem {
	t.Helper()
	return kernel.New(vmm.New(1<<20), sched.New(), logrus.New())
}

func TestBindRejectsEmptyAddrAndDoubleName(t *testing.T) {
	ty := New(newSubsystem(t))
	s := ty.NewSocket()

	assert.ErrorIs(t, s.Bind(""), vfs.ErrInvalid)
	require.NoError(t, s.Bind("/tmp/a"))
	assert.ErrorIs(t, s.Bind("/tmp/b"), vfs.ErrAlreadyBound)
}

func TestBindNameCollisionIsAddressInUse(t *testing.T) {
	ty := New(newSubsystem(t))
	a := ty.NewSocket()
	b := ty.NewSocket()
	require.NoError(t, a.Bind("/tmp/dup"))
	assert.ErrorIs(t, b.Bind("/tmp/dup"), vfs.ErrAddressInUse)
}

func TestConnectToUnknownNameIsNotFound(t *testing.T) {
	ty := New(newSubsystem(t))
	c := ty.NewSocket()
	assert.ErrorIs(t, c.Connect("/nope"), vfs.ErrNotFound)
}

func TestConnectToBoundButNotListeningIsNotFound(t *testing.T) {
	ty := New(newSubsystem(t))
	listener := ty.NewSocket()
	require.NoError(t, listener.Bind("/tmp/s"))
	c := ty.NewSocket()
	assert.ErrorIs(t, c.Connect("/tmp/s"), vfs.ErrNotFound)
}

func acceptOnePair(t *testing.T, ty *Type, addr string) (*Socket, *Socket) {
	t.Helper()
	listener := ty.NewSocket()
	require.NoError(t, listener.Bind(addr))
	require.NoError(t, listener.Listen(1))

	var g errgroup.Group
	var serverEnd *Socket
	g.Go(func() error {
		var err error
		serverEnd, err = listener.Accept()
		return err
	})

	client := ty.NewSocket()
	g.Go(func() error { return client.Connect(addr) })

	require.NoError(t, g.Wait())
	require.NotNil(t, serverEnd)
	return serverEnd, client
}

func TestAcceptBlocksUntilConnectThenPairsBothEnds(t *testing.T) {
	ty := New(newSubsystem(t))
	server, client := acceptOnePair(t, ty, "/tmp/pair")
	assert.Same(t, client, server.connection)
	assert.Same(t, server, client.connection)
}

func TestSendThenRecvDeliversBytesInOrder(t *testing.T) {
	ty := New(newSubsystem(t))
	server, client := acceptOnePair(t, ty, "/tmp/order")

	n, err := client.Send([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n2, err := client.Send([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, 6, n2)

	buf := make([]byte, 32)
	n3, err := server.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n3]))
}

func TestRecvBlocksUntilSendArrives(t *testing.T) {
	ty := New(newSubsystem(t))
	server, client := acceptOnePair(t, ty, "/tmp/block")

	var g errgroup.Group
	buf := make([]byte, 16)
	var n int
	g.Go(func() error {
		var err error
		n, err = server.Recv(buf)
		return err
	})

	time.Sleep(20 * time.Millisecond) // give Recv a chance to block first
	_, err := client.Send([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	assert.Equal(t, "hi", string(buf[:n]))
}

func TestSendBlocksWhenFifoFullThenPartialDrains(t *testing.T) {
	ty := New(newSubsystem(t))
	server, client := acceptOnePair(t, ty, "/tmp/full")

	big := make([]byte, fifoCapacity)
	n, err := client.Send(big)
	require.NoError(t, err)
	assert.Equal(t, fifoCapacity, n)

	var g errgroup.Group
	var n2 int
	g.Go(func() error {
		var err error
		n2, err = client.Send([]byte("more"))
		return err
	})

	time.Sleep(20 * time.Millisecond)
	out := make([]byte, fifoCapacity)
	drained, err := server.Recv(out)
	require.NoError(t, err)
	assert.Equal(t, fifoCapacity, drained)

	require.NoError(t, g.Wait())
	assert.Equal(t, 4, n2)
}

func TestCloseMakesPeerObserveEOFAndSendFailsIOError(t *testing.T) {
	ty := New(newSubsystem(t))
	server, client := acceptOnePair(t, ty, "/tmp/close")

	require.NoError(t, client.CloseSocket())

	buf := make([]byte, 16)
	n, err := server.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = server.Send([]byte("x"))
	assert.ErrorIs(t, err, vfs.ErrIO)
}

func TestReadTestReadyReflectsQueueDataAndDisconnect(t *testing.T) {
	ty := New(newSubsystem(t))
	listener := ty.NewSocket()
	require.NoError(t, listener.Bind("/tmp/ready"))
	require.NoError(t, listener.Listen(1))
	assert.False(t, listener.ReadTestReady(listener.Node()))

	client := ty.NewSocket()
	var g errgroup.Group
	g.Go(func() error { return client.Connect("/tmp/ready") })
	time.Sleep(20 * time.Millisecond)
	assert.True(t, listener.ReadTestReady(listener.Node()))

	server, err := listener.Accept()
	require.NoError(t, err)
	require.NoError(t, g.Wait())

	assert.False(t, server.ReadTestReady(server.Node()))
	_, err = client.Send([]byte("x"))
	require.NoError(t, err)
	assert.True(t, server.ReadTestReady(server.Node()))

	require.NoError(t, client.CloseSocket())
	buf := make([]byte, 16)
	_, err = server.Recv(buf)
	require.NoError(t, err)
	assert.True(t, server.ReadTestReady(server.Node()))
}

func TestVfsReaderWriterCloserWireThroughFileHandle(t *testing.T) {
	ty := New(newSubsystem(t))
	server, client := acceptOnePair(t, ty, "/tmp/vfs")

	fClient := &vfs.FileHandle{Node: client.Node()}
	fServer := &vfs.FileHandle{Node: server.Node()}

	n, err := client.Write(fClient, []byte("via vfs"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	buf := make([]byte, 16)
	n2, err := server.Read(fServer, buf)
	require.NoError(t, err)
	assert.Equal(t, "via vfs", string(buf[:n2]))

	require.NoError(t, server.Close(fServer))
}
