package filerepo

import (
	"bufio"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/pkg/errors"
)

// FileStorage stores length-prefixed records in a single file.
//
// Appends go to an in-memory buffer and become visible in the file on
// the next read, Sync or Close. Appends, Sync and Close are exclusive;
// Read and ReadAt run concurrently with each other.
type FileStorage struct {
	file *os.File

	mu sync.RWMutex
	// guards buf.Flush between concurrent readers
	flushMu sync.Mutex
	buf     *bufio.Writer

	// next append position, ahead of the file until a flush
	size     uint64
	lenWidth uint64
	closed   bool

	logger  *log.Logger
	metrics *metrics.Metrics

	appends      atomic.Uint64
	bytesWritten atomic.Uint64
	reads        atomic.Uint64
	bytesRead    atomic.Uint64
}

// Stats is a snapshot of the store counters
type Stats struct {
	Appends      uint64
	BytesWritten uint64
	Reads        uint64
	BytesRead    uint64
	Size         uint64
}

// Open opens or creates the store file at name.
// Appends continue at the current end of the file.
func Open(name string, opts ...Option) (*FileStorage, error) {
	f, err := os.OpenFile(
		name,
		os.O_RDWR|os.O_CREATE|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", name)
	}

	s, err := New(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

// New creates a store on top of an open file.
// The store owns f from now on and closes it in Close.
func New(f *os.File, opts ...Option) (*FileStorage, error) {
	o := newOptions(opts...)
	if !ValidLenWidth(o.lenWidth) {
		return nil, ErrInvalidLenWidth
	}

	// appends must land at size even when f was opened without O_APPEND
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrapf(err, "seek store %s", f.Name())
	}

	s := &FileStorage{
		file:     f,
		buf:      bufio.NewWriterSize(f, o.bufferSize),
		size:     uint64(end),
		lenWidth: uint64(o.lenWidth),
		logger:   o.logger,
		metrics:  o.metrics,
	}

	s.logger.Printf(
		"[DEBUG] golog: opened store %s (size %d, len width %d)",
		f.Name(), s.size, s.lenWidth,
	)

	return s, nil
}

// Append writes a record and returns the number of bytes it takes in the
// file (header included) and its position.
// On failure size is not advanced, but bytes may already have reached the
// file and the buffered writer stays failed.
func (self *FileStorage) Append(p []byte) (n uint64, pos uint64, err error) {
	defer self.measureSince([]string{"store", "append"}, time.Now())

	self.mu.Lock()
	defer self.mu.Unlock()

	if self.closed {
		return 0, 0, ErrClosed
	}

	pos = self.size

	// encode the length of the record
	var header [LenWidth8]byte
	h := header[:self.lenWidth]
	if err = EncodeLen(h, uint64(len(p))); err != nil {
		return 0, 0, err
	}

	// write the length, then the record
	if _, err = self.buf.Write(h); err != nil {
		return 0, 0, self.writeFailed(pos, err)
	}
	if _, err = self.buf.Write(p); err != nil {
		return 0, 0, self.writeFailed(pos, err)
	}

	n = self.lenWidth + uint64(len(p))
	self.size += n

	self.appends.Add(1)
	self.bytesWritten.Add(n)
	self.incrCounter([]string{"store", "append", "records"}, 1)
	self.incrCounter([]string{"store", "append", "bytes"}, float32(n))

	return n, pos, nil
}

// Read returns the record whose length header starts at pos
func (self *FileStorage) Read(pos uint64) ([]byte, error) {
	defer self.measureSince([]string{"store", "read"}, time.Now())

	self.mu.RLock()
	defer self.mu.RUnlock()

	if self.closed {
		return nil, ErrClosed
	}

	// make prior appends visible to the file
	if err := self.flush(); err != nil {
		return nil, err
	}

	if pos > self.size || self.size-pos < self.lenWidth {
		return nil, &InvalidPositionError{Offset: int64(pos), Size: self.size}
	}

	// read the length of the record
	var header [LenWidth8]byte
	h := header[:self.lenWidth]
	if _, err := self.file.ReadAt(h, int64(pos)); err != nil {
		return nil, &ReadFailedError{Pos: pos, Err: err}
	}

	// the length must fit in what is left of the file
	l := DecodeLen(h)
	if l > self.size-pos-self.lenWidth {
		return nil, &CorruptRecordError{Pos: pos, Length: l, Size: self.size}
	}

	// read the record
	body := make([]byte, l)
	if _, err := self.file.ReadAt(body, int64(pos+self.lenWidth)); err != nil {
		return nil, &ReadFailedError{Pos: pos + self.lenWidth, Err: err}
	}

	self.reads.Add(1)
	self.bytesRead.Add(self.lenWidth + l)
	self.incrCounter([]string{"store", "read", "bytes"}, float32(self.lenWidth+l))

	return body, nil
}

// ReadAt reads len(p) raw bytes starting at off, ignoring record framing.
// It implements io.ReaderAt: fewer bytes are returned only together with
// io.EOF at the end of the store.
func (self *FileStorage) ReadAt(p []byte, off int64) (int, error) {
	defer self.measureSince([]string{"store", "readat"}, time.Now())

	self.mu.RLock()
	defer self.mu.RUnlock()

	if self.closed {
		return 0, ErrClosed
	}

	if off < 0 {
		return 0, &InvalidPositionError{Offset: off, Size: self.size}
	}

	if err := self.flush(); err != nil {
		return 0, err
	}

	n, err := self.file.ReadAt(p, off)
	self.reads.Add(1)
	self.bytesRead.Add(uint64(n))
	self.incrCounter([]string{"store", "read", "bytes"}, float32(n))
	if err != nil && err != io.EOF {
		return n, &ReadFailedError{Pos: uint64(off), Err: err}
	}

	return n, err
}

// Sync flushes buffered appends and commits the file to stable storage
func (self *FileStorage) Sync() error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.closed {
		return ErrClosed
	}

	if err := self.flush(); err != nil {
		return err
	}

	if err := self.file.Sync(); err != nil {
		return self.writeFailed(self.size, err)
	}

	return nil
}

// Close flushes buffered appends and closes the file.
// The store is closed even when the flush fails; calling Close again
// returns ErrClosed.
func (self *FileStorage) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.closed {
		return ErrClosed
	}
	self.closed = true

	flushErr := self.flush()

	var syncErr error
	if flushErr == nil {
		syncErr = self.file.Sync()
	}

	closeErr := self.file.Close()

	self.logger.Printf(
		"[DEBUG] golog: closed store %s (size %d)",
		self.file.Name(), self.size,
	)

	switch {
	case flushErr != nil:
		return flushErr
	case syncErr != nil:
		return self.writeFailed(self.size, syncErr)
	case closeErr != nil:
		return errors.Wrapf(closeErr, "close store %s", self.file.Name())
	}

	return nil
}

// Size returns the position of the next append
func (self *FileStorage) Size() uint64 {
	self.mu.RLock()
	defer self.mu.RUnlock()

	return self.size
}

// Name returns the name of the store file
func (self *FileStorage) Name() string {
	return self.file.Name()
}

// LenWidth returns the width of the record length header
func (self *FileStorage) LenWidth() int {
	return int(self.lenWidth)
}

// Stats returns the store counters. Reads and BytesRead count both Read
// and ReadAt calls.
func (self *FileStorage) Stats() Stats {
	self.mu.RLock()
	defer self.mu.RUnlock()

	return Stats{
		Appends:      self.appends.Load(),
		BytesWritten: self.bytesWritten.Load(),
		Reads:        self.reads.Load(),
		BytesRead:    self.bytesRead.Load(),
		Size:         self.size,
	}
}

// Reader returns an io.Reader over the whole store, from the first byte
func (self *FileStorage) Reader() io.Reader {
	return &OriginReader{self, 0}
}

// flush writes the append buffer to the file.
// The caller holds mu, in either mode.
func (self *FileStorage) flush() error {
	self.flushMu.Lock()
	defer self.flushMu.Unlock()

	if self.buf.Buffered() == 0 {
		return nil
	}

	defer self.measureSince([]string{"store", "flush"}, time.Now())

	pos := self.size - uint64(self.buf.Buffered())
	if err := self.buf.Flush(); err != nil {
		return self.writeFailed(pos, err)
	}

	return nil
}

func (self *FileStorage) writeFailed(pos uint64, err error) error {
	self.logger.Printf(
		"[ERROR] golog: store %s write at %d: %v",
		self.file.Name(), pos, err,
	)
	return &WriteFailedError{Pos: pos, Err: err}
}

func (self *FileStorage) measureSince(key []string, start time.Time) {
	if self.metrics != nil {
		self.metrics.MeasureSince(key, start)
	}
}

func (self *FileStorage) incrCounter(key []string, val float32) {
	if self.metrics != nil {
		self.metrics.IncrCounter(key, val)
	}
}

// OriginReader is an io.Reader to read the whole store
type OriginReader struct {
	*FileStorage
	off int64
}

// Read function implements the io.Reader interface
// for the OriginReader
func (self *OriginReader) Read(p []byte) (int, error) {
	n, err := self.ReadAt(p, self.off)
	self.off += int64(n)

	return n, err
}
