package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrNoShards indicates a root that holds no shard archives.
var ErrNoShards = errors.New("dataset: no shards under root")

var shardPattern = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// DiscoverShards walks root for shard archives and returns them sorted by
// path. Hidden directories are not descended into.
func DiscoverShards(root string) ([]string, error) {
	var shards []string
	walk := func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && path != root && strings.HasPrefix(d.Name(), "."):
			return filepath.SkipDir
		case !d.IsDir() && shardPattern.MatchString(d.Name()):
			shards = append(shards, path)
		}
		return nil
	}
	if err := filepath.WalkDir(root, walk); err != nil {
		return nil, fmt.Errorf("dataset: scan %s: %w", root, err)
	}
	sort.Strings(shards)
	return shards, nil
}

// DiscoverByRoot scans each distinct root and keys the shards by root. Every
// root must contribute at least one shard.
func DiscoverByRoot(roots []string) (map[string][]string, error) {
	byRoot := make(map[string][]string, len(roots))
	for _, root := range roots {
		root = filepath.Clean(root)
		if _, seen := byRoot[root]; seen {
			return nil, fmt.Errorf("dataset: root %s listed twice", root)
		}
		shards, err := DiscoverShards(root)
		if err != nil {
			return nil, err
		}
		if len(shards) == 0 {
			return nil, fmt.Errorf("%w %s", ErrNoShards, root)
		}
		byRoot[root] = shards
	}
	return byRoot, nil
}
