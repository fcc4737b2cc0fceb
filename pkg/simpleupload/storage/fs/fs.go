package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Backend is a filesystem implementation of the simpleupload.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	baseDir string
	shard   ShardPolicy
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string      // Base directory for storing files
	Shard   ShardPolicy // Optional directory sharding for committed files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.Shard.IndexFile == "" {
		config.Shard.IndexFile = DefaultIndexFile
	}
	if !simpleupload.ValidBaseName(config.Shard.IndexFile) {
		return nil, fmt.Errorf("invalid shard index file name %q", config.Shard.IndexFile)
	}

	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &Backend{
		baseDir: baseDir,
		shard:   config.Shard,
	}, nil
}

// BaseDir returns the absolute base directory
func (b *Backend) BaseDir() string {
	return b.baseDir
}

// resolve maps a slash separated object path below baseDir.
func (b *Backend) resolve(op, objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" {
		return "", &simpleupload.StorageError{Backend: "fs", Key: objectPath, Op: op, Err: errors.New("empty object path")}
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(clean)), nil
}

// Has reports whether a regular file exists at path
func (b *Backend) Has(ctx context.Context, objectPath string) (bool, error) {
	filePath, err := b.resolve("has", objectPath)
	if err != nil {
		return false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	info, err := os.Stat(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, &simpleupload.StorageError{Backend: "fs", Key: objectPath, Op: "has", Err: err}
	}
	return info.Mode().IsRegular(), nil
}

// Write streams content to the filesystem. The file is written next to its
// target and renamed into place so readers never observe a partial object.
// The lock is only held while the temp file is created and renamed. The
// content type is kept in a sidecar file read back by Stat.
func (b *Backend) Write(ctx context.Context, objectPath string, reader io.Reader, meta simpleupload.WriteMeta) error {
	filePath, err := b.resolve("write", objectPath)
	if err != nil {
		return err
	}

	b.mu.Lock()
	tmp, err := createTemp(filePath)
	b.mu.Unlock()
	if err != nil {
		return &simpleupload.StorageError{Backend: "fs", Key: objectPath, Op: "write", Err: err}
	}

	err = fill(tmp, reader)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = os.Rename(tmp.Name(), filePath)
	}
	if err == nil {
		err = writeContentType(filePath, meta.ContentType)
	}
	if err != nil {
		os.Remove(tmp.Name())
		b.cleanupEmptyDirectories(filepath.Dir(filePath))
		return &simpleupload.StorageError{Backend: "fs", Key: objectPath, Op: "write", Err: err}
	}
	return nil
}

// Read opens the file at path
func (b *Backend) Read(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	filePath, err := b.resolve("read", objectPath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, simpleupload.ErrObjectNotFound
	} else if err != nil {
		return nil, &simpleupload.StorageError{Backend: "fs", Key: objectPath, Op: "read", Err: err}
	}
	return file, nil
}

// Delete deletes content from the filesystem
func (b *Backend) Delete(ctx context.Context, objectPath string) error {
	filePath, err := b.resolve("delete", objectPath)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(filePath); errors.Is(err, os.ErrNotExist) {
		return simpleupload.ErrObjectNotFound
	} else if err != nil {
		return &simpleupload.StorageError{Backend: "fs", Key: objectPath, Op: "delete", Err: err}
	}
	os.Remove(metaPath(filePath))

	// Clean up empty directories
	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// List returns the files whose slash separated path starts with prefix
func (b *Backend) List(ctx context.Context, prefix string) ([]simpleupload.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var entries []simpleupload.Entry
	err := filepath.WalkDir(b.baseDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || d.Name() == b.shard.IndexFile || internalName(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, simpleupload.Entry{Path: rel, Size: info.Size(), UpdatedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, &simpleupload.StorageError{Backend: "fs", Key: prefix, Op: "list", Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Stat retrieves metadata for a file. The content type is the one given to
// Write, or sniffed from the stored bytes when none was given.
func (b *Backend) Stat(ctx context.Context, objectPath string) (*simpleupload.ObjectMeta, error) {
	filePath, err := b.resolve("stat", objectPath)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	info, err := os.Stat(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, simpleupload.ErrObjectNotFound
	} else if err != nil {
		return nil, &simpleupload.StorageError{Backend: "fs", Key: objectPath, Op: "stat", Err: err}
	}
	if info.IsDir() {
		return nil, simpleupload.ErrObjectNotFound
	}

	contentType := readContentType(filePath)
	if contentType == "" {
		contentType = "application/octet-stream"
		if mtype, err := mimetype.DetectFile(filePath); err == nil {
			contentType = mtype.String()
		}
	}

	return &simpleupload.ObjectMeta{
		Path:        objectPath,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	// Don't remove the base directory
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	// Check if directory is empty
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

const (
	tempPrefix = ".upload-"
	metaPrefix = ".meta-"
)

// internalName reports whether name is a temp or sidecar file rather than an
// object.
func internalName(name string) bool {
	return strings.HasPrefix(name, tempPrefix) || strings.HasPrefix(name, metaPrefix)
}

func metaPath(filePath string) string {
	return filepath.Join(filepath.Dir(filePath), metaPrefix+filepath.Base(filePath))
}

func writeContentType(filePath, contentType string) error {
	if contentType == "" {
		if err := os.Remove(metaPath(filePath)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeAtomic(metaPath(filePath), strings.NewReader(contentType))
}

func readContentType(filePath string) string {
	data, err := os.ReadFile(metaPath(filePath))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func createTemp(filePath string) (*os.File, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return tmp, nil
}

// fill copies reader into tmp and closes it.
func fill(tmp *os.File, reader io.Reader) error {
	_, err := io.Copy(tmp, reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644)
	}
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func writeAtomic(filePath string, reader io.Reader) error {
	tmp, err := createTemp(filePath)
	if err != nil {
		return err
	}
	err = fill(tmp, reader)
	if err == nil {
		err = os.Rename(tmp.Name(), filePath)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
