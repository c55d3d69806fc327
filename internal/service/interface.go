package service

import (
	filerepo "golog/internal/repository/file"
	"golog/internal/service/scan"
)

// Store is the record store consumed by the segment layer
type Store interface {
	Append([]byte) (uint64, uint64, error)
	Read(uint64) ([]byte, error)
	ReadAt([]byte, int64) (int, error)
	Close() error
}

// Scanner walks the records of a store file
type Scanner interface {
	Next() bool
	Record() scan.Record
	Err() error
	Close() error
}

var (
	_ Store   = (*filerepo.FileStorage)(nil)
	_ Scanner = (*scan.Scanner)(nil)
)
