package submission

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// DirObjectStore serves object bytes from a local directory laid out as
// <root>/<bucket>/<key>.
type DirObjectStore struct {
	root string
}

func NewDirObjectStore(root string) (*DirObjectStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, xerrors.Errorf("creating object store root %s: %w", root, err)
	}
	return &DirObjectStore{root: root}, nil
}

func (s *DirObjectStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	p := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, xerrors.Errorf("reading object %s/%s: %w", bucket, key, err)
	}
	return b, nil
}
