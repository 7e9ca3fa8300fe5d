package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileName is the descriptor file looked up in each directory.
const FileName = ".tasktrack.yaml"

// ErrNotFound means no descriptor exists in the directory or any ancestor.
var ErrNotFound = errors.New("no descriptor found")

// ParseError reports a descriptor that exists but cannot be used.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("descriptor %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Found is a located and parsed descriptor.
type Found struct {
	Dir         string // directory holding the descriptor; sessions are keyed by it
	Path        string
	Descriptor  *Descriptor
	Fingerprint string // sha256 of the raw file
}

// Canonical makes path absolute and resolves symlinks when the path exists.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// Find searches start and each ancestor for FileName. It returns ErrNotFound
// when the filesystem root is reached without a match, and a *ParseError when
// a descriptor is found but cannot be read or parsed.
func Find(start string) (*Found, error) {
	dir, err := Canonical(start)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", start, err)
	}

	for {
		candidate := filepath.Join(dir, FileName)
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return Load(candidate)
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return nil, &ParseError{Path: candidate, Err: err}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNotFound
		}
		dir = parent
	}
}

// Load reads and parses the descriptor at path.
func Load(path string) (*Found, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	d, err := Parse(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	sum := sha256.Sum256(data)
	return &Found{
		Dir:         filepath.Dir(path),
		Path:        path,
		Descriptor:  d,
		Fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}
