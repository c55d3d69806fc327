package filerepo

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrClosed          = errors.New("store is closed")
	ErrInvalidLenWidth = errors.New("length width must be 4 or 8 bytes")
	ErrRecordTooLarge  = errors.New("record length does not fit the length header")
)

// WriteFailedError is returned when appended bytes could not be written
// or flushed to the file. Pos is the position of the first byte that was
// not persisted.
type WriteFailedError struct {
	Pos uint64
	Err error
}

func (self *WriteFailedError) Error() string {
	return fmt.Sprintf("write failed at position %d: %v", self.Pos, self.Err)
}

func (self *WriteFailedError) Unwrap() error { return self.Err }
func (self *WriteFailedError) Cause() error  { return self.Err }

func (self *WriteFailedError) GRPCStatus() *status.Status {
	return newStatus(
		codes.Internal,
		self.Error(),
		"The record could not be written to the store.",
	)
}

// ReadFailedError is returned when the file could not be read at Pos,
// including short reads of a record.
type ReadFailedError struct {
	Pos uint64
	Err error
}

func (self *ReadFailedError) Error() string {
	return fmt.Sprintf("read failed at position %d: %v", self.Pos, self.Err)
}

func (self *ReadFailedError) Unwrap() error { return self.Err }
func (self *ReadFailedError) Cause() error  { return self.Err }

func (self *ReadFailedError) GRPCStatus() *status.Status {
	code := codes.Internal
	if errors.Is(self.Err, io.EOF) || errors.Is(self.Err, io.ErrUnexpectedEOF) {
		code = codes.DataLoss
	}
	return newStatus(code, self.Error(), "The record could not be read from the store.")
}

// InvalidPositionError is returned for offsets outside of the store
type InvalidPositionError struct {
	Offset int64
	Size   uint64
}

func (self *InvalidPositionError) Error() string {
	return fmt.Sprintf("position %d is outside the store (size %d)", self.Offset, self.Size)
}

func (self *InvalidPositionError) GRPCStatus() *status.Status {
	return newStatus(
		codes.OutOfRange,
		self.Error(),
		"The requested position is outside the store's range.",
	)
}

// CorruptRecordError is returned when the length header at Pos declares
// more bytes than the store holds, usually because Pos is not a record
// boundary or the tail of the file is torn.
type CorruptRecordError struct {
	Pos    uint64
	Length uint64
	Size   uint64
}

func (self *CorruptRecordError) Error() string {
	return fmt.Sprintf(
		"corrupt record at position %d: length %d overruns store size %d",
		self.Pos, self.Length, self.Size,
	)
}

func (self *CorruptRecordError) GRPCStatus() *status.Status {
	return newStatus(
		codes.DataLoss,
		self.Error(),
		"The record header does not describe a record in the store.",
	)
}

// Status converts an error returned by the store into a gRPC status.
func Status(err error) *status.Status {
	if err == nil {
		return nil
	}

	var st interface{ GRPCStatus() *status.Status }
	if errors.As(err, &st) {
		return st.GRPCStatus()
	}

	switch {
	case errors.Is(err, ErrClosed):
		return newStatus(codes.FailedPrecondition, err.Error(), "The store is closed.")
	case errors.Is(err, ErrInvalidLenWidth), errors.Is(err, ErrRecordTooLarge):
		return newStatus(codes.InvalidArgument, err.Error(), "The request is not valid for this store.")
	}
	return status.New(codes.Unknown, err.Error())
}

func newStatus(code codes.Code, msg, localized string) *status.Status {
	st := status.New(code, msg)

	d := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: localized,
	}

	std, err := st.WithDetails(d)
	if err != nil {
		return st
	}

	return std
}
