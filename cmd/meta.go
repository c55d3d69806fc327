package main

import (
	"flag"
	"io"
	"log"
	"os"
	"strings"

	"github.com/mitchellh/cli"
	"github.com/pkg/errors"

	filerepo "golog/internal/repository/file"
	"golog/internal/service/config"
	logger "golog/internal/service/log"
)

const metaHelp = `
Common options:

  -file=path      Store file to operate on. Required.
  -config=path    TOML configuration file. Defaults to golog.toml
                  under $CONFIG_PATH or the home directory.
  -width=n        Record length header width, 4 or 8. Overrides
                  the configuration.
  -level=level    Log level: DEBUG, INFO, WARN or ERROR.
`

// Meta holds the options shared by every command
type Meta struct {
	Ui cli.Ui

	file       string
	configPath string
	width      int
	level      string
}

func (self *Meta) FlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&self.file, "file", "", "store file")
	fs.StringVar(&self.configPath, "config", "", "config file")
	fs.IntVar(&self.width, "width", 0, "length header width")
	fs.StringVar(&self.level, "level", "", "log level")
	fs.SetOutput(io.Discard)
	return fs
}

func (self *Meta) config() (*config.Config, error) {
	var (
		c   *config.Config
		err error
	)
	if self.configPath != "" {
		c, err = config.Load(self.configPath)
	} else {
		c, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if self.width != 0 {
		c.Store.LenWidth = self.width
	}
	if self.level != "" {
		c.Log.Level = self.level
	}

	return c, c.Validate()
}

func (self *Meta) logger(c *config.Config) (*log.Logger, error) {
	return logger.New(os.Stderr, c.Log.Level)
}

// openStore opens the store named by -file, creating it for writers.
// Readers get an error for a file that does not exist.
func (self *Meta) openStore(create bool) (*filerepo.FileStorage, error) {
	if self.file == "" {
		return nil, errors.New("-file is required")
	}

	if !create {
		if _, err := os.Stat(self.file); err != nil {
			return nil, errors.Wrap(err, "store")
		}
	}

	c, err := self.config()
	if err != nil {
		return nil, err
	}

	opts, err := c.StoreOptions()
	if err != nil {
		return nil, err
	}

	l, err := self.logger(c)
	if err != nil {
		return nil, err
	}

	return filerepo.Open(self.file, append(opts, filerepo.WithLogger(l))...)
}

func (self *Meta) lenWidth() (int, error) {
	if self.file == "" {
		return 0, errors.New("-file is required")
	}

	c, err := self.config()
	if err != nil {
		return 0, err
	}

	return c.Store.LenWidth, nil
}

func (self *Meta) help(usage string) string {
	return strings.TrimSpace(usage + "\n" + metaHelp)
}
