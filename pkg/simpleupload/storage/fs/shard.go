package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DefaultIndexFile holds the current shard number of an attribute root.
const DefaultIndexFile = ".dirindex"

// ShardPolicy spreads committed files over numbered subdirectories so that no
// directory holds more than MaxFilesPerDir originals. Zero disables sharding.
type ShardPolicy struct {
	MaxFilesPerDir int
	IndexFile      string
}

var shardMu sync.Mutex

// Shard returns the shard directory new files under root should go to. The
// counter in root's index file is advanced once the current shard is full.
// It returns "" when sharding is disabled.
func (b *Backend) Shard(ctx context.Context, root string) (string, error) {
	if b.shard.MaxFilesPerDir <= 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rootDir := b.baseDir
	if r := strings.Trim(root, "/"); r != "" {
		var err error
		if rootDir, err = b.resolve("shard", r); err != nil {
			return "", err
		}
	}
	indexPath := filepath.Join(rootDir, b.shard.IndexFile)

	shardMu.Lock()
	defer shardMu.Unlock()

	index, err := readIndex(indexPath)
	if err != nil {
		return "", err
	}

	count, err := countFiles(filepath.Join(rootDir, strconv.Itoa(index)))
	if err != nil {
		return "", err
	}
	if count >= b.shard.MaxFilesPerDir {
		index++
		if err := writeAtomic(indexPath, strings.NewReader(strconv.Itoa(index))); err != nil {
			return "", fmt.Errorf("failed to advance shard index: %w", err)
		}
	} else if count == 0 {
		if _, statErr := os.Stat(indexPath); errors.Is(statErr, os.ErrNotExist) {
			if err := writeAtomic(indexPath, strings.NewReader(strconv.Itoa(index))); err != nil {
				return "", fmt.Errorf("failed to create shard index: %w", err)
			}
		}
	}
	return strconv.Itoa(index), nil
}

func readIndex(indexPath string) (int, error) {
	data, err := os.ReadFile(indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to read shard index: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0, nil
	}
	index, err := strconv.Atoi(string(data))
	if err != nil || index < 0 {
		return 0, fmt.Errorf("corrupt shard index %q", data)
	}
	return index, nil
}

func countFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && !internalName(e.Name()) {
			n++
		}
	}
	return n, nil
}
