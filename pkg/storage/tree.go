package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"kiln/pkg/models"
)

// TreeEntry is one file in a tree manifest. Paths are relative to the tree
// root and use forward slashes.
type TreeEntry struct {
	Path   string        `json:"path"`
	Digest models.Digest `json:"digest"`
	Mode   os.FileMode   `json:"mode"`
}

// A tree is stored in the CAS as a JSON manifest of sorted entries; the
// tree's digest is the digest of that manifest. The empty digest is the
// empty tree.

// WriteTree harvests the given relative paths from dir into the store and
// returns the digest of the resulting tree manifest. A missing path is
// reported so the executor can surface an output-declaration mismatch.
func WriteTree(ctx context.Context, store ContentStore, dir string, paths []string) (models.Digest, error) {
	if len(paths) == 0 {
		return models.EmptyDigest, nil
	}

	entries := make([]TreeEntry, 0, len(paths))
	for _, p := range paths {
		abs := filepath.Join(dir, filepath.FromSlash(p))
		info, err := os.Stat(abs)
		if err != nil {
			return models.Digest{}, fmt.Errorf("declared output %q: %w", p, err)
		}
		if info.IsDir() {
			sub, err := collectDir(dir, p)
			if err != nil {
				return models.Digest{}, err
			}
			for _, sp := range sub {
				entry, err := storeFile(ctx, store, dir, sp)
				if err != nil {
					return models.Digest{}, err
				}
				entries = append(entries, entry)
			}
			continue
		}
		entry, err := storeFile(ctx, store, dir, p)
		if err != nil {
			return models.Digest{}, err
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	manifest, err := json.Marshal(entries)
	if err != nil {
		return models.Digest{}, fmt.Errorf("failed to encode tree manifest: %w", err)
	}
	return store.Put(ctx, manifest)
}

func collectDir(root, rel string) ([]string, error) {
	var out []string
	base := filepath.Join(root, filepath.FromSlash(rel))
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk output dir %q: %w", rel, err)
	}
	return out, nil
}

func storeFile(ctx context.Context, store ContentStore, root, rel string) (TreeEntry, error) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	data, err := os.ReadFile(abs)
	if err != nil {
		return TreeEntry{}, fmt.Errorf("failed to read output %q: %w", rel, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return TreeEntry{}, fmt.Errorf("failed to stat output %q: %w", rel, err)
	}
	d, err := store.Put(ctx, data)
	if err != nil {
		return TreeEntry{}, fmt.Errorf("failed to store output %q: %w", rel, err)
	}
	return TreeEntry{Path: rel, Digest: d, Mode: info.Mode().Perm()}, nil
}

// ReadTree loads and decodes a tree manifest. The empty digest decodes to an
// empty tree.
func ReadTree(ctx context.Context, store ContentStore, d models.Digest) ([]TreeEntry, error) {
	if d == models.EmptyDigest || d.IsZero() {
		return nil, nil
	}
	manifest, err := store.Load(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to load tree manifest %s: %w", d, err)
	}
	var entries []TreeEntry
	if err := json.Unmarshal(manifest, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode tree manifest %s: %w", d, err)
	}
	return entries, nil
}

// MaterializeTree writes the files of a tree into dir, creating parent
// directories as needed.
func MaterializeTree(ctx context.Context, store ContentStore, d models.Digest, dir string) error {
	entries, err := ReadTree(ctx, store, d)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		data, err := store.Load(ctx, entry.Digest)
		if err != nil {
			return fmt.Errorf("failed to load input %q: %w", entry.Path, err)
		}
		abs := filepath.Join(dir, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return fmt.Errorf("failed to create input dir for %q: %w", entry.Path, err)
		}
		mode := entry.Mode
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(abs, data, mode); err != nil {
			return fmt.Errorf("failed to write input %q: %w", entry.Path, err)
		}
	}
	return nil
}
