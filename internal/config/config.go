// Package config defines the narrow configuration surface the
// listener consumes and the ways it gets filled in: CLI flags
// (always win) and an optional YAML file underneath them, for PXE
// appliances that boot from a fixed image and don't want
// command-line flags at all.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pxeboot/tftpd/internal/wire"
)

// Config is everything the listener needs to start serving.
type Config struct {
	Root                    string `yaml:"root"`
	ListenAddr              string `yaml:"listen"`
	MetricsAddr             string `yaml:"metrics"`
	Verbose                 bool   `yaml:"verbose"`
	BlksizeCeiling          int    `yaml:"blksizeCeiling"`
	RetryBudget             int    `yaml:"retryBudget"`
	SendFinalErrorOnTimeout bool   `yaml:"sendFinalErrorOnTimeout"`
}

// Default returns the configuration a bare `tftpd ROOT` invocation uses.
func Default() Config {
	return Config{
		ListenAddr:              "127.0.0.1:69",
		BlksizeCeiling:          wire.MaxBlksize,
		RetryBudget:             5,
		SendFinalErrorOnTimeout: true,
	}
}

// LoadFile merges path's YAML contents into cfg. Fields absent from
// the file keep whatever value cfg already carried.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return errors.Wrapf(err, "config: parse %s", path)
	}
	return nil
}

// Validate rejects a Config the listener could not safely start with.
func (c Config) Validate() error {
	if c.Root == "" {
		return errors.New("config: ROOT directory is required")
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return errors.Wrapf(err, "config: ROOT %q", c.Root)
	}
	if !info.IsDir() {
		return errors.Errorf("config: ROOT %q is not a directory", c.Root)
	}
	if c.ListenAddr == "" {
		return errors.New("config: listen address is required")
	}
	if c.BlksizeCeiling < wire.MinBlksize || c.BlksizeCeiling > wire.MaxBlksize {
		return errors.Errorf("config: blksize ceiling %d out of range [%d, %d]", c.BlksizeCeiling, wire.MinBlksize, wire.MaxBlksize)
	}
	if c.RetryBudget < 1 {
		return errors.New("config: retry budget must be at least 1")
	}
	return nil
}
