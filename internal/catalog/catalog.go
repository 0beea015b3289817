// Package catalog exposes the on-disk sound library: audio files in the
// sounds directory root plus one level of subfolders. The catalog is
// stateless; every call rescans the directory, so clips added while the
// process runs (DM uploads, party mode cycles) are visible immediately.
package catalog

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrClipNotFound is returned when a requested clip does not exist on disk.
var ErrClipNotFound = errors.New("catalog: clip not found")

// allowedExtensions is the audio container allow-list. Anything else in the
// sounds directory is ignored.
var allowedExtensions = []string{".mp3", ".wav"}

// Item is one playable clip.
type Item struct {
	// FileName is the bare file name including extension.
	FileName string `json:"fileName"`

	// Name is the file name without extension, used for display and search.
	Name string `json:"name"`

	// Folder is the subfolder the clip lives in; "" for root clips.
	Folder string `json:"folder"`

	// RelativePath is the forward-slash path below the sounds directory.
	// It doubles as the clip's play-count key.
	RelativePath string `json:"relativePath"`
}

// Folder summarises one subfolder of the sounds directory.
type Folder struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Catalog lists and resolves clips below a base directory.
// Catalog is safe for concurrent use; it holds no mutable state.
type Catalog struct {
	dir string
}

// New creates a Catalog rooted at dir, creating the directory if needed.
func New(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create sounds dir %q: %w", dir, err)
	}
	return &Catalog{dir: dir}, nil
}

// Dir returns the base sounds directory.
func (c *Catalog) Dir() string { return c.dir }

// IsAllowed reports whether name carries one of the allowed audio extensions.
func IsAllowed(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Items returns every clip in the root and in one level of subfolders,
// sorted by display name, together with the folder summary.
func (c *Catalog) Items() ([]Item, []Folder, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: read %q: %w", c.dir, err)
	}

	var items []Item
	var folders []Folder

	for _, e := range entries {
		switch {
		case e.Type().IsRegular() && IsAllowed(e.Name()):
			items = append(items, itemFor("", e.Name()))
		case e.IsDir():
			sub, err := os.ReadDir(filepath.Join(c.dir, e.Name()))
			if err != nil {
				continue
			}
			count := 0
			for _, f := range sub {
				if f.Type().IsRegular() && IsAllowed(f.Name()) {
					items = append(items, itemFor(e.Name(), f.Name()))
					count++
				}
			}
			folders = append(folders, Folder{Key: e.Name(), Name: e.Name(), Count: count})
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].RelativePath < items[j].RelativePath
	})
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })

	return items, folders, nil
}

func itemFor(folder, fileName string) Item {
	name := strings.TrimSuffix(fileName, path.Ext(fileName))
	rel := fileName
	if folder != "" {
		rel = folder + "/" + fileName
	}
	return Item{FileName: fileName, Name: name, Folder: folder, RelativePath: rel}
}

// Recent returns up to n items ordered newest first by file modification time.
func (c *Catalog) Recent(n int) ([]Item, error) {
	items, _, err := c.Items()
	if err != nil {
		return nil, err
	}

	type withTime struct {
		Item
		mtime int64
	}
	timed := make([]withTime, 0, len(items))
	for _, it := range items {
		fi, err := os.Stat(c.AbsPath(it.RelativePath))
		if err != nil {
			continue
		}
		timed = append(timed, withTime{Item: it, mtime: fi.ModTime().UnixNano()})
	}
	sort.Slice(timed, func(i, j int) bool { return timed[i].mtime > timed[j].mtime })

	if n > len(timed) {
		n = len(timed)
	}
	out := make([]Item, n)
	for i := 0; i < n; i++ {
		out[i] = timed[i].Item
	}
	return out, nil
}

// AbsPath converts a forward-slash relative path into an absolute file path
// below the sounds directory.
func (c *Catalog) AbsPath(relativePath string) string {
	return filepath.Join(c.dir, filepath.FromSlash(relativePath))
}

// Exists reports whether the clip at relativePath is a regular file on disk.
func (c *Catalog) Exists(relativePath string) bool {
	fi, err := os.Stat(c.AbsPath(relativePath))
	return err == nil && fi.Mode().IsRegular()
}

// ResolveName finds a clip by bare file name, checking the root first and
// then each subfolder. It returns the clip's relative path.
func (c *Catalog) ResolveName(fileName string) (string, error) {
	if !IsAllowed(fileName) {
		return "", fmt.Errorf("%w: %q has no allowed extension", ErrClipNotFound, fileName)
	}
	if c.Exists(fileName) {
		return fileName, nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return "", fmt.Errorf("catalog: read %q: %w", c.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rel := e.Name() + "/" + fileName
		if c.Exists(rel) {
			return rel, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrClipNotFound, fileName)
}

// ResolveSound finds a clip by its display name (no extension), preferring
// .mp3 over .wav, searching folder when given. Returns the relative path.
func (c *Catalog) ResolveSound(soundName, folder string) (string, error) {
	for _, ext := range allowedExtensions {
		rel := soundName + ext
		if folder != "" {
			rel = folder + "/" + soundName + ext
		}
		if c.Exists(rel) {
			return rel, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrClipNotFound, soundName)
}

// Random picks one clip uniformly at random from the full catalog. It
// returns [ErrClipNotFound] when the catalog is empty.
func (c *Catalog) Random(rng *rand.Rand) (Item, error) {
	items, _, err := c.Items()
	if err != nil {
		return Item{}, err
	}
	if len(items) == 0 {
		return Item{}, fmt.Errorf("%w: catalog is empty", ErrClipNotFound)
	}
	return items[rng.Intn(len(items))], nil
}
