package raster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
)

// NetworkSource fetches tiles from a URL template (WMS/ArcGIS/XYZ-style),
// substituting {z}/{x}/{y} or {minlon}/{minlat}/{maxlon}/{maxlat} tokens.
type NetworkSource struct {
	URLTemplate string
	Client      *http.Client
}

// NewNetworkSource builds a NetworkSource using the package default HTTP
// client unless one is supplied.
func NewNetworkSource(urlTemplate string, client *http.Client) *NetworkSource {
	if client == nil {
		client = httpClient
	}
	return &NetworkSource{URLTemplate: urlTemplate, Client: client}
}

func (s *NetworkSource) buildURL(tileKey extents.TileKey, width, height int) string {
	u := s.URLTemplate
	repl := strings.NewReplacer(
		"{z}", strconv.Itoa(tileKey.Level),
		"{x}", strconv.Itoa(tileKey.Column),
		"{y}", strconv.Itoa(tileKey.Row),
		"{width}", strconv.Itoa(width),
		"{height}", strconv.Itoa(height),
		"{minlon}", strconv.FormatFloat(tileKey.Extents.MinLon(), 'f', -1, 64),
		"{minlat}", strconv.FormatFloat(tileKey.Extents.MinLat(), 'f', -1, 64),
		"{maxlon}", strconv.FormatFloat(tileKey.Extents.MaxLon(), 'f', -1, 64),
		"{maxlat}", strconv.FormatFloat(tileKey.Extents.MaxLat(), 'f', -1, 64),
	)
	return repl.Replace(u)
}

// Fetch performs an HTTP GET built from the URL template. A non-2xx status
// is reported as an error so Layer.Texture's retry loop engages; there is
// no "decline" case for a network source since a template always produces
// a URL (level/extents filtering happens at the Layer, not the Source).
func (s *NetworkSource) Fetch(ctx context.Context, tileKey extents.TileKey, width, height int) ([]byte, string, error) {
	url := s.buildURL(tileKey, width, height)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("raster: build request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("raster: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("raster: GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("raster: read body: %w", err)
	}

	ext := extFromContentType(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(url), ".")
	}
	if ext == "" {
		ext = "png"
	}
	return body, ext, nil
}

func extFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return "jpg"
	case strings.Contains(ct, "webp"):
		return "webp"
	case strings.Contains(ct, "png"):
		return "png"
	default:
		return ""
	}
}

// FileSource reads pre-rendered tiles from a local directory laid out as
// <root>/<level>/<column>/<row>.<ext>, the filesystem equivalent of a
// network XYZ tile source.
type FileSource struct {
	Root string
	Ext  string
}

func NewFileSource(root, ext string) *FileSource {
	if ext == "" {
		ext = "png"
	}
	return &FileSource{Root: root, Ext: ext}
}

func (s *FileSource) Fetch(_ context.Context, tileKey extents.TileKey, _, _ int) ([]byte, string, error) {
	path := filepath.Join(s.Root,
		strconv.Itoa(tileKey.Level), strconv.Itoa(tileKey.Column),
		fmt.Sprintf("%d.%s", tileKey.Row, s.Ext))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("raster: read %s: %w", path, err)
	}
	return data, s.Ext, nil
}

// StaticSource always serves one fixed image, used for single-texture
// overlays (hillshade, attribution watermark) that don't vary per tile.
type StaticSource struct {
	Data []byte
	Ext  string
}

func NewStaticSource(data []byte, ext string) *StaticSource {
	return &StaticSource{Data: data, Ext: ext}
}

func (s *StaticSource) Fetch(_ context.Context, _ extents.TileKey, _, _ int) ([]byte, string, error) {
	return s.Data, s.Ext, nil
}

// DirectorySource serves from a flat directory keyed by the tile's extents
// string rather than level/row/column, for pre-tiled imports whose naming
// already matches the disk cache's own <extentsString> convention.
type DirectorySource struct {
	Root string
	Ext  string
}

func NewDirectorySource(root, ext string) *DirectorySource {
	if ext == "" {
		ext = "png"
	}
	return &DirectorySource{Root: root, Ext: ext}
}

func (s *DirectorySource) Fetch(_ context.Context, tileKey extents.TileKey, width, height int) ([]byte, string, error) {
	name := fmt.Sprintf("%s_%dx%d.%s", tileKey.Extents.String(), width, height, s.Ext)
	path := filepath.Join(s.Root, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("raster: read %s: %w", path, err)
	}
	return data, s.Ext, nil
}
