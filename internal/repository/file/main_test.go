package filerepo

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
)

var (
	write = []byte("hello world")
	width = uint64(DefaultLenWidth + len(write))
)

func openTestStore(t *testing.T, opts ...Option) (*FileStorage, string) {
	t.Helper()

	name := filepath.Join(t.TempDir(), "0.store")
	s, err := Open(name, opts...)
	require.NoError(t, err)

	return s, name
}

func TestStoreAppendRead(t *testing.T) {
	s, name := openTestStore(t)

	testAppend(t, s)
	testRead(t, s)
	testReadAt(t, s)

	require.NoError(t, s.Close())

	// resume from the existing file
	s, err := Open(name)
	require.NoError(t, err)
	defer s.Close()

	testRead(t, s)
}

func testAppend(t *testing.T, s *FileStorage) {
	t.Helper()
	for i := uint64(1); i < 4; i++ {
		n, pos, err := s.Append(write)
		require.NoError(t, err)
		require.Equal(t, width, n)
		require.Equal(t, width*i, pos+n)
	}
}

func testRead(t *testing.T, s *FileStorage) {
	t.Helper()
	var pos uint64
	for i := uint64(1); i < 4; i++ {
		read, err := s.Read(pos)
		require.NoError(t, err)
		require.Equal(t, write, read)
		pos += width
	}
}

func testReadAt(t *testing.T, s *FileStorage) {
	t.Helper()
	for i, off := uint64(1), int64(0); i < 4; i++ {
		b := make([]byte, DefaultLenWidth)
		n, err := s.ReadAt(b, off)
		require.NoError(t, err)
		require.Equal(t, DefaultLenWidth, n)
		off += int64(n)

		size := DecodeLen(b)
		b = make([]byte, size)
		n, err = s.ReadAt(b, off)
		require.NoError(t, err)
		require.Equal(t, write, b)
		require.Equal(t, int(size), n)
		off += int64(n)
	}
}

func TestStoreExample(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	_, pos1, err := s.Append([]byte("Hello World 1"))
	require.NoError(t, err)
	_, pos2, err := s.Append([]byte("Hello World 2"))
	require.NoError(t, err)

	require.Equal(t, uint64(0), pos1)
	require.Equal(t, uint64(21), pos2)

	// read in reverse order
	b, err := s.Read(pos2)
	require.NoError(t, err)
	require.Equal(t, "Hello World 2", string(b))

	b, err = s.Read(pos1)
	require.NoError(t, err)
	require.Equal(t, "Hello World 1", string(b))

	buf := make([]byte, 13)
	n, err := s.ReadAt(buf, 8)
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, "Hello World 1", string(buf))
}

func TestStoreLenWidth4(t *testing.T) {
	s, name := openTestStore(t, WithLenWidth(LenWidth4))

	_, pos1, err := s.Append([]byte("Hello World 1"))
	require.NoError(t, err)
	_, pos2, err := s.Append([]byte("Hello World 2"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), pos1)
	require.Equal(t, uint64(17), pos2)
	require.Equal(t, LenWidth4, s.LenWidth())
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 13}, raw[:4])
	require.Len(t, raw, 34)

	s, err = Open(name, WithLenWidth(LenWidth4))
	require.NoError(t, err)
	defer s.Close()

	b, err := s.Read(pos2)
	require.NoError(t, err)
	require.Equal(t, "Hello World 2", string(b))
}

func TestStoreEmptyRecord(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	n, pos, err := s.Append(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(DefaultLenWidth), n)

	_, next, err := s.Append(write)
	require.NoError(t, err)
	require.Equal(t, pos+uint64(DefaultLenWidth), next)

	b, err := s.Read(pos)
	require.NoError(t, err)
	require.Empty(t, b)

	b, err = s.Read(next)
	require.NoError(t, err)
	require.Equal(t, write, b)
}

func TestStoreRoundTripRandom(t *testing.T) {
	s, _ := openTestStore(t, WithBufferSize(64))
	defer s.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	records := make(map[uint64][]byte)
	var prev uint64
	var prevLen int
	for i := 0; i < 200; i++ {
		d := make([]byte, rng.Intn(512))
		rng.Read(d)

		_, pos, err := s.Append(d)
		require.NoError(t, err)
		if i > 0 {
			require.Equal(t, prev+uint64(DefaultLenWidth+prevLen), pos)
		}
		prev, prevLen = pos, len(d)
		records[pos] = d
	}

	for pos, want := range records {
		got, err := s.Read(pos)
		require.NoError(t, err)
		require.True(t, bytes.Equal(want, got), "record at %d", pos)
	}
}

func TestStoreReopenContinues(t *testing.T) {
	s, name := openTestStore(t)

	_, pos1, err := s.Append([]byte("Hello World 1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(name)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, uint64(21), s.Size())

	b, err := s.Read(pos1)
	require.NoError(t, err)
	require.Equal(t, "Hello World 1", string(b))

	_, pos2, err := s.Append([]byte("Hello World 2"))
	require.NoError(t, err)
	require.Equal(t, uint64(21), pos2)

	b, err = s.Read(pos1)
	require.NoError(t, err)
	require.Equal(t, "Hello World 1", string(b))

	b, err = s.Read(pos2)
	require.NoError(t, err)
	require.Equal(t, "Hello World 2", string(b))
}

func TestStoreNewWithoutAppendFlag(t *testing.T) {
	s, name := openTestStore(t)

	_, pos1, err := s.Append([]byte("Hello World 1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.OpenFile(name, os.O_RDWR, 0644)
	require.NoError(t, err)

	s, err = New(f)
	require.NoError(t, err)
	defer s.Close()

	_, pos2, err := s.Append([]byte("Hello World 2"))
	require.NoError(t, err)
	require.Equal(t, uint64(21), pos2)
	require.Equal(t, uint64(42), s.Size())

	b, err := s.Read(pos1)
	require.NoError(t, err)
	require.Equal(t, "Hello World 1", string(b))

	b, err = s.Read(pos2)
	require.NoError(t, err)
	require.Equal(t, "Hello World 2", string(b))
}

func TestStoreClose(t *testing.T) {
	s, name := openTestStore(t)

	_, _, err := s.Append(write)
	require.NoError(t, err)

	// buffered, not yet in the file
	fi, err := os.Stat(name)
	require.NoError(t, err)
	require.Equal(t, int64(0), fi.Size())

	require.NoError(t, s.Close())

	fi, err = os.Stat(name)
	require.NoError(t, err)
	require.Equal(t, int64(width), fi.Size())

	require.ErrorIs(t, s.Close(), ErrClosed)

	_, _, err = s.Append(write)
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Read(0)
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Sync(), ErrClosed)
}

func TestStoreSync(t *testing.T) {
	s, name := openTestStore(t)
	defer s.Close()

	_, _, err := s.Append(write)
	require.NoError(t, err)
	require.NoError(t, s.Sync())

	raw, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, write, raw[DefaultLenWidth:])
}

func TestStoreInvalidPosition(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	_, _, err := s.Append(write)
	require.NoError(t, err)

	var posErr *InvalidPositionError
	_, err = s.Read(width)
	require.ErrorAs(t, err, &posErr)
	require.Equal(t, width, posErr.Size)

	_, err = s.Read(width - 1)
	require.ErrorAs(t, err, &posErr)

	_, err = s.ReadAt(make([]byte, 1), -1)
	require.ErrorAs(t, err, &posErr)

	// past the end is io.EOF, like any io.ReaderAt
	n, err := s.ReadAt(make([]byte, 4), int64(width)-2)
	require.Equal(t, 2, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestStoreCorruptRecord(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	_, _, err := s.Append([]byte("Hello World 1"))
	require.NoError(t, err)

	// position 1 is inside the first header and decodes to a huge length
	var corrupt *CorruptRecordError
	_, err = s.Read(1)
	require.ErrorAs(t, err, &corrupt)
	require.Equal(t, uint64(1), corrupt.Pos)
	require.Equal(t, uint64(21), corrupt.Size)
	require.Greater(t, corrupt.Length, corrupt.Size)
}

func TestStoreTruncatedFile(t *testing.T) {
	s, name := openTestStore(t)

	_, pos, err := s.Append(write)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, os.Truncate(name, int64(width)-3))

	s, err = Open(name)
	require.NoError(t, err)
	defer s.Close()

	var corrupt *CorruptRecordError
	_, err = s.Read(pos)
	require.ErrorAs(t, err, &corrupt)
}

func TestStoreTruncatedWhileOpen(t *testing.T) {
	s, name := openTestStore(t)
	defer s.Close()

	_, pos, err := s.Append(write)
	require.NoError(t, err)
	require.NoError(t, s.Sync())

	// size still claims the whole record
	require.NoError(t, os.Truncate(name, int64(width)-3))

	b, err := s.Read(pos)
	require.Nil(t, b)

	var readErr *ReadFailedError
	require.ErrorAs(t, err, &readErr)
	require.Equal(t, pos+DefaultLenWidth, readErr.Pos)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, codes.DataLoss, Status(err).Code())
}

func TestStoreWriteFailed(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "0.store"))
	require.NoError(t, err)

	s, err := New(f, WithBufferSize(16))
	require.NoError(t, err)

	// close the file behind the store's back
	require.NoError(t, f.Close())

	_, _, err = s.Append(bytes.Repeat([]byte("x"), 64))
	var writeErr *WriteFailedError
	require.ErrorAs(t, err, &writeErr)
	require.Equal(t, uint64(0), writeErr.Pos)
	require.Equal(t, uint64(0), s.Size())

	require.Error(t, s.Close())
	require.ErrorIs(t, s.Close(), ErrClosed)
}

func TestStoreInvalidLenWidth(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "0.store"), WithLenWidth(2))
	require.ErrorIs(t, err, ErrInvalidLenWidth)
}

func TestEncodeLen(t *testing.T) {
	b := make([]byte, LenWidth4)
	require.ErrorIs(t, EncodeLen(b, 1<<32), ErrRecordTooLarge)
	require.NoError(t, EncodeLen(b, 1<<32-1))
	require.Equal(t, uint64(1<<32-1), DecodeLen(b))

	b = make([]byte, LenWidth8)
	require.NoError(t, EncodeLen(b, 21))
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 21}, b)
	require.Equal(t, uint64(21), DecodeLen(b))

	require.ErrorIs(t, EncodeLen(make([]byte, 3), 1), ErrInvalidLenWidth)
}

func TestStoreConcurrentReaders(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	var positions []uint64
	for i := 0; i < 100; i++ {
		_, pos, err := s.Append([]byte(fmt.Sprintf("record-%d", i)))
		require.NoError(t, err)
		positions = append(positions, pos)
	}

	var g errgroup.Group
	for r := 0; r < 16; r++ {
		r := r
		g.Go(func() error {
			for i := range positions {
				i := (i + r) % len(positions)
				b, err := s.Read(positions[i])
				if err != nil {
					return err
				}
				if want := fmt.Sprintf("record-%d", i); string(b) != want {
					return fmt.Errorf("read %q at %d, want %q", b, positions[i], want)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestStoreReadersRaceAppender(t *testing.T) {
	s, _ := openTestStore(t, WithBufferSize(32))
	defer s.Close()

	var (
		mu        sync.Mutex
		committed = make(map[uint64]string)
		done      = make(chan struct{})
	)

	var g errgroup.Group
	g.Go(func() error {
		defer close(done)
		for i := 0; i < 500; i++ {
			d := fmt.Sprintf("payload-%d-%s", i, bytes.Repeat([]byte("z"), i%40))
			_, pos, err := s.Append([]byte(d))
			if err != nil {
				return err
			}
			mu.Lock()
			committed[pos] = d
			mu.Unlock()
		}
		return nil
	})

	for r := 0; r < 8; r++ {
		g.Go(func() error {
			for {
				select {
				case <-done:
					return nil
				default:
				}

				mu.Lock()
				snapshot := make(map[uint64]string, len(committed))
				for pos, d := range committed {
					snapshot[pos] = d
				}
				mu.Unlock()

				for pos, want := range snapshot {
					b, err := s.Read(pos)
					if err != nil {
						return errors.Wrapf(err, "read %d", pos)
					}
					if string(b) != want {
						return fmt.Errorf("torn record at %d: %q", pos, b)
					}
				}
			}
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, uint64(500), s.Stats().Appends)
}

func TestStoreStats(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	for i := 0; i < 3; i++ {
		_, _, err := s.Append(write)
		require.NoError(t, err)
	}
	_, err := s.Read(width)
	require.NoError(t, err)

	stats := s.Stats()
	require.Equal(t, uint64(3), stats.Appends)
	require.Equal(t, 3*width, stats.BytesWritten)
	require.Equal(t, uint64(1), stats.Reads)
	require.Equal(t, width, stats.BytesRead)
	require.Equal(t, 3*width, stats.Size)

	// raw reads count as well
	n, err := s.ReadAt(make([]byte, 5), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	stats = s.Stats()
	require.Equal(t, uint64(2), stats.Reads)
	require.Equal(t, width+5, stats.BytesRead)
}

func TestStoreReader(t *testing.T) {
	s, name := openTestStore(t)
	defer s.Close()

	for i := 0; i < 3; i++ {
		_, _, err := s.Append(write)
		require.NoError(t, err)
	}

	got, err := io.ReadAll(s.Reader())
	require.NoError(t, err)

	raw, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, raw, got)
	require.Len(t, got, int(3*width))
}

func TestStoreMetrics(t *testing.T) {
	inm := metrics.NewInmemSink(time.Hour, time.Hour)
	cfg := metrics.DefaultConfig("golog")
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	m, err := metrics.New(cfg, inm)
	require.NoError(t, err)

	s, _ := openTestStore(t, WithMetrics(m))
	defer s.Close()

	for i := 0; i < 2; i++ {
		_, _, err := s.Append(write)
		require.NoError(t, err)
	}
	_, err = s.Read(0)
	require.NoError(t, err)
	_, err = s.ReadAt(make([]byte, 4), 0)
	require.NoError(t, err)

	data := inm.Data()
	require.NotEmpty(t, data)
	interval := data[len(data)-1]

	records, ok := interval.Counters["golog.store.append.records"]
	require.True(t, ok)
	require.Equal(t, 2, records.Count)

	written, ok := interval.Counters["golog.store.append.bytes"]
	require.True(t, ok)
	require.Equal(t, float64(2*width), written.Sum)

	_, ok = interval.Samples["golog.store.read"]
	require.True(t, ok)
	_, ok = interval.Samples["golog.store.readat"]
	require.True(t, ok)

	read, ok := interval.Counters["golog.store.read.bytes"]
	require.True(t, ok)
	require.Equal(t, 2, read.Count)
	require.Equal(t, float64(width+4), read.Sum)
}
