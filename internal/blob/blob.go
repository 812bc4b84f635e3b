// Package blob stores finished files: in a local directory, an S3 bucket or
// memory. Open picks the driver from a destination string.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iblconvert/alyx2nwb/internal"
)

// Driver names a storage backend
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// ErrNotFound is returned by Get for a key that does not exist
var ErrNotFound = errors.New("blob not found")

// Info describes a stored object
type Info struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is a flat key space of objects. Put replaces an existing object.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (Info, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Destination is a parsed output location
type Destination struct {
	Driver Driver
	// Root is the directory, or the bucket for s3
	Root string
	// Prefix is prepended to every key
	Prefix string
}

// ParseDestination reads "s3://bucket/prefix", "mem://" or a local path
func ParseDestination(dest string) (Destination, error) {
	switch {
	case strings.HasPrefix(dest, "s3://"):
		u, err := url.Parse(dest)
		if err != nil {
			return Destination{}, fmt.Errorf("parsing %s: %w", dest, err)
		}
		if u.Host == "" {
			return Destination{}, fmt.Errorf("%s: no bucket", dest)
		}
		return Destination{Driver: DriverS3, Root: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	case strings.HasPrefix(dest, "mem://"):
		return Destination{Driver: DriverMemory, Prefix: strings.Trim(strings.TrimPrefix(dest, "mem://"), "/")}, nil
	case dest == "":
		return Destination{Driver: DriverFilesystem, Root: "."}, nil
	}
	return Destination{Driver: DriverFilesystem, Root: filepath.Clean(strings.TrimPrefix(dest, "file://"))}, nil
}

// Remote reports whether files must be uploaded after they are written
func (d Destination) Remote() bool { return d.Driver != DriverFilesystem }

// Key joins the destination prefix and a file name
func (d Destination) Key(name string) string {
	if d.Prefix == "" {
		return name
	}
	return d.Prefix + "/" + name
}

// Open returns the store for a destination. S3 settings come from cfg.
func Open(ctx context.Context, dest string, cfg internal.S3Config) (Store, Destination, error) {
	d, err := ParseDestination(dest)
	if err != nil {
		return nil, Destination{}, &internal.ConfigError{Field: "output.dir", Err: err}
	}
	var s Store
	switch d.Driver {
	case DriverS3:
		s, err = NewS3(ctx, S3Options{Bucket: d.Root, Region: cfg.Region, Endpoint: cfg.Endpoint, PathStyle: cfg.PathStyle})
	case DriverMemory:
		s = NewMemory()
	default:
		s, err = NewFS(d.Root)
	}
	if err != nil {
		return nil, Destination{}, &internal.StorageError{Path: dest, Op: "open", Err: err}
	}
	return s, d, nil
}

// Upload copies a local file into the store under key
func Upload(ctx context.Context, s Store, key, path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, &internal.StorageError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()
	info, err := s.Put(ctx, key, f)
	if err != nil {
		return Info{}, &internal.StorageError{Path: key, Op: "put", Err: err}
	}
	return info, nil
}

func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}
