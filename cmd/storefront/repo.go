package main

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/config"
)

const configFilename = "config.toml"

// repoDir expands and creates the repo directory.
func repoDir(cctx *cli.Context) (string, error) {
	dir, err := homedir.Expand(cctx.String("repo"))
	if err != nil {
		return "", xerrors.Errorf("expanding repo path: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", xerrors.Errorf("creating repo directory %s: %w", dir, err)
	}
	return dir, nil
}

// loadConfig reads the repo config, falling back to defaults when the file
// does not exist.
func loadConfig(cctx *cli.Context) (string, *config.Storefront, error) {
	dir, err := repoDir(cctx)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.FromFile(filepath.Join(dir, configFilename))
	if err != nil {
		return "", nil, err
	}
	return dir, cfg, nil
}

// repoPath resolves a possibly-relative config path against the repo
// directory.
func repoPath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
