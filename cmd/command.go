package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"golog/internal/service"
	"golog/internal/service/scan"
)

// AppendCommand appends its arguments as records
type AppendCommand struct {
	Meta
}

func (self *AppendCommand) Help() string {
	return self.help(`
Usage: golog append [options] DATA...

  Appends every DATA argument as one record and prints its position.
`)
}

func (self *AppendCommand) Synopsis() string {
	return "Append records to a store"
}

func (self *AppendCommand) Run(args []string) int {
	fs := self.FlagSet("append")
	if err := fs.Parse(args); err != nil {
		self.Ui.Error(self.Help())
		return 1
	}
	if fs.NArg() == 0 {
		self.Ui.Error("At least one record is required")
		return 1
	}

	s, err := self.openStore(true)
	if err != nil {
		self.Ui.Error(err.Error())
		return 1
	}

	var store service.Store = s
	for _, data := range fs.Args() {
		_, pos, err := store.Append([]byte(data))
		if err != nil {
			store.Close()
			self.Ui.Error(fmt.Sprintf("Failed to append record: %v", err))
			return 1
		}
		self.Ui.Output(strconv.FormatUint(pos, 10))
	}

	if err := store.Close(); err != nil {
		self.Ui.Error(fmt.Sprintf("Failed to close store: %v", err))
		return 1
	}

	return 0
}

// ReadCommand prints the record at a position
type ReadCommand struct {
	Meta
}

func (self *ReadCommand) Help() string {
	return self.help(`
Usage: golog read [options] POS

  Prints the record whose length header starts at POS.
`)
}

func (self *ReadCommand) Synopsis() string {
	return "Read a record by position"
}

func (self *ReadCommand) Run(args []string) int {
	fs := self.FlagSet("read")
	if err := fs.Parse(args); err != nil {
		self.Ui.Error(self.Help())
		return 1
	}
	if fs.NArg() != 1 {
		self.Ui.Error("Exactly one position is required")
		return 1
	}

	pos, err := strconv.ParseUint(fs.Arg(0), 10, 64)
	if err != nil {
		self.Ui.Error(fmt.Sprintf("Invalid position %q", fs.Arg(0)))
		return 1
	}

	s, err := self.openStore(false)
	if err != nil {
		self.Ui.Error(err.Error())
		return 1
	}
	defer s.Close()

	record, err := s.Read(pos)
	if err != nil {
		self.Ui.Error(fmt.Sprintf("Failed to read record: %v", err))
		return 1
	}

	self.Ui.Output(string(record))
	return 0
}

// ReadAtCommand prints raw bytes of a store
type ReadAtCommand struct {
	Meta
}

func (self *ReadAtCommand) Help() string {
	return self.help(`
Usage: golog readat [options] -off=N -n=LEN

  Prints up to LEN raw bytes starting at byte N, ignoring record
  boundaries.

  -off=N          Byte offset to start at.
  -n=LEN          Number of bytes to read.
`)
}

func (self *ReadAtCommand) Synopsis() string {
	return "Read raw bytes from a store"
}

func (self *ReadAtCommand) Run(args []string) int {
	var off int64
	var n int

	fs := self.FlagSet("readat")
	fs.Int64Var(&off, "off", 0, "offset")
	fs.IntVar(&n, "n", 0, "length")
	if err := fs.Parse(args); err != nil {
		self.Ui.Error(self.Help())
		return 1
	}
	if n <= 0 {
		self.Ui.Error("-n must be positive")
		return 1
	}

	s, err := self.openStore(false)
	if err != nil {
		self.Ui.Error(err.Error())
		return 1
	}
	defer s.Close()

	buf := make([]byte, n)
	read, err := s.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		self.Ui.Error(fmt.Sprintf("Failed to read: %v", err))
		return 1
	}

	self.Ui.Output(string(buf[:read]))
	return 0
}

// DumpCommand lists the records of a store file
type DumpCommand struct {
	Meta
}

func (self *DumpCommand) Help() string {
	return self.help(`
Usage: golog dump [options]

  Lists position and length of every record in the store file and
  reports trailing bytes that do not form a complete record.

  -data           Also print each record.
  -raw            Print a hex dump of the whole file instead.
`)
}

func (self *DumpCommand) Synopsis() string {
	return "List the records of a store"
}

func (self *DumpCommand) Run(args []string) int {
	var data, raw bool

	fs := self.FlagSet("dump")
	fs.BoolVar(&data, "data", false, "print records")
	fs.BoolVar(&raw, "raw", false, "hex dump")
	if err := fs.Parse(args); err != nil {
		self.Ui.Error(self.Help())
		return 1
	}

	if raw {
		return self.hexDump()
	}

	width, err := self.lenWidth()
	if err != nil {
		self.Ui.Error(err.Error())
		return 1
	}

	s, err := scan.Open(self.file, width)
	if err != nil {
		self.Ui.Error(fmt.Sprintf("Failed to open store: %v", err))
		return 1
	}
	defer s.Close()

	var scanner service.Scanner = s
	for scanner.Next() {
		rec := scanner.Record()
		line := fmt.Sprintf("%d\t%s", rec.Pos, humanize.IBytes(uint64(len(rec.Data))))
		if data {
			line += "\t" + strings.ToValidUTF8(string(rec.Data), "?")
		}
		self.Ui.Output(line)
	}

	if err := scanner.Err(); err != nil {
		self.Ui.Error(err.Error())
		return 2
	}

	return 0
}

func (self *DumpCommand) hexDump() int {
	s, err := self.openStore(false)
	if err != nil {
		self.Ui.Error(err.Error())
		return 1
	}
	defer s.Close()

	b, err := io.ReadAll(s.Reader())
	if err != nil {
		self.Ui.Error(fmt.Sprintf("Failed to read store: %v", err))
		return 1
	}

	self.Ui.Output(strings.TrimSuffix(hex.Dump(b), "\n"))
	return 0
}

// StatsCommand prints a summary of a store file
type StatsCommand struct {
	Meta
}

func (self *StatsCommand) Help() string {
	return self.help(`
Usage: golog stats [options]

  Prints the size and the number of records of a store file.
`)
}

func (self *StatsCommand) Synopsis() string {
	return "Summarize a store"
}

func (self *StatsCommand) Run(args []string) int {
	fs := self.FlagSet("stats")
	if err := fs.Parse(args); err != nil {
		self.Ui.Error(self.Help())
		return 1
	}

	width, err := self.lenWidth()
	if err != nil {
		self.Ui.Error(err.Error())
		return 1
	}

	s, err := scan.Open(self.file, width)
	if err != nil {
		self.Ui.Error(fmt.Sprintf("Failed to open store: %v", err))
		return 1
	}
	defer s.Close()

	records, end, err := s.Count()
	self.Ui.Output(fmt.Sprintf("size:    %s (%d bytes)", humanize.IBytes(s.Size()), s.Size()))
	self.Ui.Output(fmt.Sprintf("records: %d", records))
	if err != nil {
		self.Ui.Output(fmt.Sprintf("torn:    %d bytes after %d", s.Size()-end, end))
		return 2
	}

	return 0
}
