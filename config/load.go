package config

import (
	"bytes"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// FromFile loads the config from a TOML file, layering it over the defaults.
// A missing file yields the defaults.
func FromFile(path string) (*Storefront, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return DefaultStorefront(), nil
	}
	if err != nil {
		return nil, xerrors.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	return FromReader(f)
}

// FromReader loads the config from a reader over the defaults.
func FromReader(r io.Reader) (*Storefront, error) {
	cfg := DefaultStorefront()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, xerrors.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Dump serializes the config to TOML.
func Dump(cfg *Storefront) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}
