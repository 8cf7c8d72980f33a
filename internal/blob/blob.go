// Package blob stores attachment payloads on the local filesystem under
// content-addressed keys.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

const tmpDir = "tmp"

var ErrInvalidKey = errors.New("invalid blob key")

// domainKey separates blob hashes from any other BLAKE3 use. Changing it
// invalidates every stored key.
var domainKey = [32]byte{
	'p', 'a', 'i', 'r', 'c', 'h', 'a', 't', '.', 'b', 'l', 'o', 'b',
}

// Object describes a stored payload.
type Object struct {
	Key  string
	URL  string
	Size int64
}

// Store keeps blobs at <root>/<k[0:2]>/<k[2:4]>/<k>. Identical payloads
// share one file.
type Store struct {
	root    string
	baseURL string
}

// NewStore creates the directory layout under root. URLs returned by Put are
// baseURL + "/" + key.
func NewStore(root, baseURL string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating blob directory %s: %w", dir, err)
		}
	}
	return &Store{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Key returns the content address of data.
func Key(data []byte) string {
	h, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("blob: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidKey reports whether key has the shape produced by Key.
func ValidKey(key string) bool {
	if len(key) != 64 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

// Put writes data and returns its key and URL. Writing content that is
// already stored is a no-op.
func (s *Store) Put(ctx context.Context, data []byte) (*Object, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot store empty blob")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := Key(data)
	obj := &Object{Key: key, URL: s.URL(key), Size: int64(len(data))}

	finalPath := s.path(key)
	if _, err := os.Stat(finalPath); err == nil {
		return obj, nil
	}

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "blob-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp blob file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("writing blob data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("closing blob file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating blob shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("renaming blob to %s: %w", finalPath, err)
	}

	success = true
	return obj, nil
}

// Path returns the file holding key, or ErrInvalidKey / os.ErrNotExist.
func (s *Store) Path(key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	p := s.path(key)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

func (s *Store) Delete(key string) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob %s: %w", key, err)
	}
	return nil
}

func (s *Store) URL(key string) string {
	return s.baseURL + "/" + key
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, key[:2], key[2:4], key)
}
