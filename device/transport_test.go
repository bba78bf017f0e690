package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calvinmclean/stringdriver/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	mtx      sync.Mutex
	written  [][]byte
	reads    [][]byte
	readErr  error
	writeErr error
	resets   int
	closed   bool
}

var _ Port = &fakePort{}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.readErr != nil {
		err := p.readErr
		p.readErr = nil
		return 0, err
	}
	if len(p.reads) == 0 {
		return 0, nil
	}
	n := copy(b, p.reads[0])
	p.reads = p.reads[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Drain() error { return nil }

func (p *fakePort) ResetInputBuffer() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.resets++
	p.reads = nil
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) SetDTR(bool) error                  { return nil }
func (p *fakePort) SetRTS(bool) error                  { return nil }

func (p *fakePort) Close() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) queue(chunks ...[]byte) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.reads = append(p.reads, chunks...)
}

type recordingEvictor struct {
	paths []string
}

func (e *recordingEvictor) Evict(path string) ([]int, error) {
	e.paths = append(e.paths, path)
	return []int{1234}, nil
}

func testConfig() Config {
	cfg := DefaultConfig("/dev/ttyTEST")
	cfg.SettleDelay = time.Millisecond
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	return cfg
}

func connected(t *testing.T) (*Transport, *fakePort) {
	t.Helper()
	port := &fakePort{}
	tr := New(testConfig(),
		WithEvictor(NoEviction()),
		WithOpenFunc(func(string, int) (Port, error) { return port, nil }),
	)
	require.NoError(t, tr.Connect(context.Background()))
	return tr, port
}

func TestConnect(t *testing.T) {
	t.Run("EvictsBeforeOpening", func(t *testing.T) {
		evictor := &recordingEvictor{}
		var openedPath string
		tr := New(testConfig(),
			WithEvictor(evictor),
			WithOpenFunc(func(path string, baud int) (Port, error) {
				openedPath = path
				assert.Equal(t, 115200, baud)
				return &fakePort{}, nil
			}),
		)

		assert.Equal(t, StateDisconnected, tr.State())
		require.NoError(t, tr.Connect(context.Background()))
		assert.Equal(t, StateConnected, tr.State())
		assert.Equal(t, []string{"/dev/ttyTEST"}, evictor.paths)
		assert.Equal(t, "/dev/ttyTEST", openedPath)
	})

	t.Run("OpenFailureIsExclusivityError", func(t *testing.T) {
		tr := New(testConfig(),
			WithEvictor(NoEviction()),
			WithOpenFunc(func(string, int) (Port, error) { return nil, errors.New("resource busy") }),
		)

		err := tr.Connect(context.Background())
		assert.ErrorIs(t, err, ErrExclusive)
		assert.Equal(t, StateDisconnected, tr.State())
	})

	t.Run("CancelledDuringSettle", func(t *testing.T) {
		port := &fakePort{}
		cfg := testConfig()
		cfg.SettleDelay = time.Hour
		tr := New(cfg,
			WithEvictor(NoEviction()),
			WithOpenFunc(func(string, int) (Port, error) { return port, nil }),
		)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := tr.Connect(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, port.closed)
		assert.Equal(t, StateDisconnected, tr.State())
	})

	t.Run("ReconnectClosesPrevious", func(t *testing.T) {
		tr, first := connected(t)

		second := &fakePort{}
		tr.open = func(string, int) (Port, error) { return second, nil }
		require.NoError(t, tr.Connect(context.Background()))

		assert.True(t, first.closed)
		require.NoError(t, tr.Write([]byte("1;")))
		assert.Len(t, second.written, 1)
	})
}

func TestNotConnected(t *testing.T) {
	tr := New(testConfig())

	assert.ErrorIs(t, tr.Write([]byte("1;")), ErrNotConnected)
	assert.ErrorIs(t, tr.ClearInput(), ErrNotConnected)
	_, err := tr.ReadUntilTerminator(0)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, tr.Close())
}

func TestWrite(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		tr, port := connected(t)

		frame := protocol.Encode(3, 1, 10)
		require.NoError(t, tr.Write(frame))
		assert.Equal(t, [][]byte{frame}, port.written)
	})

	t.Run("FailureDisconnects", func(t *testing.T) {
		tr, port := connected(t)
		port.writeErr = errors.New("device unplugged")

		err := tr.Write([]byte("1;"))
		assert.Error(t, err)
		assert.True(t, port.closed)
		assert.Equal(t, StateDisconnected, tr.State())
		assert.ErrorIs(t, tr.Write([]byte("1;")), ErrNotConnected)
	})
}

func TestReadUntilTerminator(t *testing.T) {
	t.Run("AssemblesChunks", func(t *testing.T) {
		tr, port := connected(t)
		reply := protocol.EncodePositions(1, []int32{5, -5})
		port.queue(reply[:2], nil, reply[2:])

		frame, err := tr.ReadUntilTerminator(0)
		require.NoError(t, err)
		assert.Equal(t, reply, frame)
	})

	t.Run("EscapedTerminatorIsPayload", func(t *testing.T) {
		tr, port := connected(t)
		reply := protocol.EncodePositions(1, []int32{';'})
		port.queue(reply)

		frame, err := tr.ReadUntilTerminator(0)
		require.NoError(t, err)
		assert.Equal(t, reply, frame)
	})

	t.Run("StopsAtFirstFrame", func(t *testing.T) {
		tr, port := connected(t)
		port.queue([]byte("1,ab;2,cd;"))

		frame, err := tr.ReadUntilTerminator(0)
		require.NoError(t, err)
		assert.Equal(t, []byte("1,ab;"), frame)
	})

	t.Run("TimeoutReturnsPartial", func(t *testing.T) {
		tr, port := connected(t)
		port.queue([]byte("1,ab"))

		frame, err := tr.ReadUntilTerminator(20 * time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, []byte("1,ab"), frame)
		assert.Equal(t, StateConnected, tr.State())
	})

	t.Run("TimeoutErrorsAreRetried", func(t *testing.T) {
		tr, port := connected(t)
		port.readErr = errors.New("read timed out")
		port.queue([]byte("1,ab;"))

		frame, err := tr.ReadUntilTerminator(0)
		require.NoError(t, err)
		assert.Equal(t, []byte("1,ab;"), frame)
	})

	t.Run("OtherErrorsDisconnect", func(t *testing.T) {
		tr, port := connected(t)
		port.readErr = errors.New("input/output error")

		_, err := tr.ReadUntilTerminator(0)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrTimeout)
		assert.Equal(t, StateDisconnected, tr.State())
	})
}

func TestClearInput(t *testing.T) {
	tr, port := connected(t)
	port.queue([]byte("stale;"))

	require.NoError(t, tr.ClearInput())

	_, err := tr.ReadUntilTerminator(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestKillAllSkipsSelf(t *testing.T) {
	killed, err := killAll([]int{42}, 42)
	assert.NoError(t, err)
	assert.Empty(t, killed)
}

func TestParsePIDs(t *testing.T) {
	assert.Equal(t, []int{12, 345}, parsePIDs("12\n345\nabc\n-1\n"))
	assert.Empty(t, parsePIDs(""))
}
