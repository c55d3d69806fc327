package config

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	filerepo "golog/internal/repository/file"
)

// Config is the configuration of a store and its logging
type Config struct {
	Store Store `toml:"store"`
	Log   Log   `toml:"log"`
}

// Store configures how store files are opened
type Store struct {
	// width of the record length header, 4 or 8
	LenWidth int `toml:"len_width"`
	// append buffer size, e.g. "4KiB" or "65536"
	BufferSize string `toml:"buffer_size"`
}

type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load reads a TOML configuration file.
// Settings missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := &Config{}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	c.setDefaults()

	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}

	return c, nil
}

// LoadDefault loads ConfigFile, falling back to Default when it does not exist
func LoadDefault() (*Config, error) {
	c, err := Load(ConfigFile)
	if os.IsNotExist(errors.Cause(err)) {
		return Default(), nil
	}
	return c, err
}

func (self *Config) setDefaults() {
	if self.Store.LenWidth == 0 {
		self.Store.LenWidth = filerepo.DefaultLenWidth
	}
	if self.Store.BufferSize == "" {
		self.Store.BufferSize = humanize.IBytes(filerepo.DefaultBufferSize)
	}
	if self.Log.Level == "" {
		self.Log.Level = "WARN"
	}
}

func (self *Config) Validate() error {
	if !filerepo.ValidLenWidth(self.Store.LenWidth) {
		return filerepo.ErrInvalidLenWidth
	}
	if _, err := self.bufferSize(); err != nil {
		return err
	}
	return nil
}

// StoreOptions converts the store section into store options
func (self *Config) StoreOptions() ([]filerepo.Option, error) {
	if err := self.Validate(); err != nil {
		return nil, err
	}

	n, err := self.bufferSize()
	if err != nil {
		return nil, err
	}

	return []filerepo.Option{
		filerepo.WithLenWidth(self.Store.LenWidth),
		filerepo.WithBufferSize(n),
	}, nil
}

func (self *Config) bufferSize() (int, error) {
	n, err := humanize.ParseBytes(self.Store.BufferSize)
	if err != nil {
		return 0, errors.Wrapf(err, "buffer size %q", self.Store.BufferSize)
	}
	if n == 0 || n > 1<<30 {
		return 0, errors.Errorf("buffer size %q out of range", self.Store.BufferSize)
	}
	return int(n), nil
}
