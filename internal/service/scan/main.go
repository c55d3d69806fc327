package scan

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/tysonmote/gommap"

	filerepo "golog/internal/repository/file"
)

var (
	ErrTornRecord = errors.New("torn record")
)

// Record is a record found in a store file
type Record struct {
	// position of the length header
	Pos uint64
	// payload, valid until the Scanner is closed
	Data []byte
}

// TornError reports trailing bytes that do not form a complete record
type TornError struct {
	Pos  uint64
	Size uint64
}

func (self *TornError) Error() string {
	return fmt.Sprintf("torn record at position %d (file size %d)", self.Pos, self.Size)
}

func (self *TornError) Unwrap() error { return ErrTornRecord }

// Scanner walks the records of a store file through a read-only mmap.
// It never modifies the file.
type Scanner struct {
	*os.File
	mmap  gommap.MMap
	width uint64
	size  uint64

	pos uint64
	rec Record
	err error
}

// Open maps the store file at name, written with the given length width
func Open(name string, width int) (*Scanner, error) {
	if !filerepo.ValidLenWidth(width) {
		return nil, filerepo.ErrInvalidLenWidth
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &Scanner{
		File:  f,
		width: uint64(width),
		size:  uint64(fi.Size()),
	}

	// an empty file can't be mapped
	if s.size == 0 {
		return s, nil
	}

	s.mmap, err = gommap.Map(
		s.Fd(),
		gommap.PROT_READ,
		gommap.MAP_SHARED,
	)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "mmap %s", name)
	}

	return s, nil
}

// Next advances to the next record.
// It returns false at the end of the file or on a torn record, see Err.
func (self *Scanner) Next() bool {
	if self.err != nil || self.pos >= self.size {
		return false
	}

	// not enough bytes left for a header
	if self.size-self.pos < self.width {
		self.err = &TornError{Pos: self.pos, Size: self.size}
		return false
	}

	l := filerepo.DecodeLen(self.mmap[self.pos : self.pos+self.width])
	start := self.pos + self.width
	if l > self.size-start {
		self.err = &TornError{Pos: self.pos, Size: self.size}
		return false
	}

	self.rec = Record{
		Pos:  self.pos,
		Data: self.mmap[start : start+l],
	}
	self.pos = start + l

	return true
}

// Record returns the current record
func (self *Scanner) Record() Record {
	return self.rec
}

func (self *Scanner) Err() error {
	return self.err
}

// Count walks the remaining records and returns how many were found and
// the end of the last complete one.
func (self *Scanner) Count() (records int, end uint64, err error) {
	for self.Next() {
		records++
	}
	return records, self.pos, self.err
}

// Size returns the size of the mapped file
func (self *Scanner) Size() uint64 {
	return self.size
}

// Close unmaps and closes the file
func (self *Scanner) Close() error {
	if self.mmap != nil {
		if err := self.mmap.UnsafeUnmap(); err != nil {
			self.File.Close()
			return err
		}
		self.mmap = nil
	}
	return self.File.Close()
}
