// Package diskcache is the content-addressed file store shared by raster
// and elevation layers: a layer identifies itself by {KindName,
// ContentHash}, and every tile it ever fetches lands at a deterministic
// path under the cache's base directory, so a second session with the same
// layer configuration reuses the first session's files without any index
// lookup.
package diskcache

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/MeKo-Tech/planetcore/internal/encode"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
)

// Status reports what Get found on disk.
type Status int

const (
	// FileMissing means no file exists at the derived path yet.
	FileMissing Status = iota
	// FileOK means a file exists and can be read.
	FileOK
	// BadName means layerKey or tileKey produced an unusable path.
	BadName
)

// Key identifies a layer's private subtree of the cache.
type Key struct {
	KindName    string
	ContentHash string
}

func (k Key) dirName() string {
	return fmt.Sprintf("%s_%s", k.KindName, k.ContentHash)
}

// Cache is a content-addressed file store rooted at BaseDir, with disk I/O
// serialized through two mutexes so concurrent job goroutines never
// interleave a partial write with a read of the same file — mirroring the
// teacher's mbtiles.Writer pattern of a single mutex guarding all batched
// I/O, split here into a reader/writer pair since reads vastly outnumber
// writes in steady state.
type Cache struct {
	BaseDir string

	readerMu sync.Mutex
	writerMu sync.Mutex
	pathMu   sync.Mutex

	index *metadataIndex // nil when the sqlite accelerant is unavailable
}

// Open creates a Cache rooted at baseDir, creating the directory if needed.
// The sqlite metadata index is opened best-effort: if it fails, the cache
// still works, just without the lastFailureAt fast path (Stats falls back to
// a directory walk and reports no failure records).
func Open(baseDir string) (*Cache, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("diskcache: create base dir: %w", err)
	}
	c := &Cache{BaseDir: baseDir}
	idx, err := openMetadataIndex(filepath.Join(baseDir, "index.sqlite"))
	if err == nil {
		c.index = idx
	}
	return c, nil
}

// Close releases the metadata index handle, if one is open.
func (c *Cache) Close() error {
	if c.index != nil {
		return c.index.Close()
	}
	return nil
}

// levelFolders turns a level into decimal-digit subfolders, e.g. level 12
// becomes "1/2", so no directory ever holds more than ten siblings.
func levelFolders(level int) string {
	s := strconv.Itoa(level)
	parts := make([]string, 0, len(s))
	for _, r := range s {
		parts = append(parts, string(r))
	}
	return filepath.Join(parts...)
}

// Path derives the deterministic file path for a (layer, tile, size, ext)
// tuple without touching disk. It never fails for well-formed inputs; Get
// reports BadName when layerKey.KindName is empty, since an empty kind
// would alias every layer onto the same subtree.
func (c *Cache) Path(layerKey Key, tileKey extents.TileKey, width, height int, ext string) (string, bool) {
	if layerKey.KindName == "" {
		return "", false
	}
	name := fmt.Sprintf("%s_%dx%d.%s", tileKey.Extents.String(), width, height, ext)
	return filepath.Join(c.BaseDir, layerKey.dirName(), levelFolders(tileKey.Level), name), true
}

// Get resolves the path for (layerKey, tileKey, w, h, ext) and reports
// whether a file currently exists there.
func (c *Cache) Get(layerKey Key, tileKey extents.TileKey, width, height int, ext string) (string, Status) {
	path, ok := c.Path(layerKey, tileKey, width, height, ext)
	if !ok {
		return "", BadName
	}

	c.pathMu.Lock()
	_, err := os.Stat(path)
	c.pathMu.Unlock()

	if err != nil {
		return path, FileMissing
	}
	return path, FileOK
}

// ReadImage decodes the file at path using reg, chosen by the path's
// extension. A truncated or corrupt file is treated as a cache miss: it
// returns (nil, nil), not an error the caller must special-case, matching
// the teacher's tolerant-reader posture in internal/texture/loader.go.
func (c *Cache) ReadImage(path string, reg *encode.Registry) (image.Image, error) {
	codec, ok := reg.For(filepath.Ext(path))
	if !ok {
		return nil, encode.ErrUnsupportedFormat(filepath.Ext(path))
	}

	c.readerMu.Lock()
	data, err := os.ReadFile(path)
	c.readerMu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}

	img, err := codec.Decode(data)
	if err != nil {
		return nil, nil
	}
	return img, nil
}

// WriteImage encodes img with codec and atomically installs it at path
// (write to a temp file in the same directory, then rename), so a reader
// racing a writer for the same path never observes a partial file.
func (c *Cache) WriteImage(path string, img image.Image, codec encode.Codec) error {
	data, err := codec.Encode(img)
	if err != nil {
		return fmt.Errorf("diskcache: encode: %w", err)
	}

	dir := filepath.Dir(path)

	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("diskcache: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("diskcache: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("diskcache: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("diskcache: close temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("diskcache: rename: %w", err)
	}

	if c.index != nil {
		c.index.recordWrite(layerKeyFromPath(c.BaseDir, path), path)
	}
	return nil
}

// DeleteCache recursively removes a layer's entire subtree, e.g. when a
// layer's content hash changes and its old cached tiles are orphaned.
func (c *Cache) DeleteCache(layerKey Key) error {
	dir := filepath.Join(c.BaseDir, layerKey.dirName())

	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("diskcache: delete %s: %w", dir, err)
	}
	if c.index != nil {
		c.index.deleteLayer(layerKey.dirName())
	}
	return nil
}

// RecordFailure notes a fetch failure for (layerKey, tileKey) in the
// metadata index, so a future Get can consult LastFailure and skip
// re-requesting within a cooldown window. A no-op if the index is
// unavailable — failures simply get retried more eagerly.
func (c *Cache) RecordFailure(layerKey Key, tileKey extents.TileKey) {
	if c.index == nil {
		return
	}
	c.index.recordFailure(layerKey.dirName(), tileKey.String())
}

// LastFailure returns the most recent recorded failure time for (layerKey,
// tileKey), and whether the index had any record at all.
func (c *Cache) LastFailure(layerKey Key, tileKey extents.TileKey) (unixSeconds int64, ok bool) {
	if c.index == nil {
		return 0, false
	}
	return c.index.lastFailure(layerKey.dirName(), tileKey.String())
}

// Stats summarizes one layer's cache footprint.
type Stats struct {
	WrittenFiles   int
	FailureRecords int
}

// Stats answers "how many files has this layer written, and how many
// persistent failures does it have" without a directory walk, when the
// index is available; falls back to a directory walk otherwise.
func (c *Cache) Stats(layerKey Key) (Stats, error) {
	if c.index != nil {
		written, failed, err := c.index.stats(layerKey.dirName())
		if err == nil {
			return Stats{WrittenFiles: written, FailureRecords: failed}, nil
		}
	}

	var count int
	dir := filepath.Join(c.BaseDir, layerKey.dirName())
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{WrittenFiles: count}, nil
}

func layerKeyFromPath(baseDir, path string) string {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return ""
	}
	if idx := indexOfSeparator(rel); idx >= 0 {
		return rel[:idx]
	}
	return rel
}

func indexOfSeparator(s string) int {
	for i, r := range s {
		if r == filepath.Separator {
			return i
		}
	}
	return -1
}
