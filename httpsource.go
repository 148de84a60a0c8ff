package meridian

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// userAgent is the User-Agent that HTTPSource sends with tile downloads.
var userAgent = fmt.Sprintf("meridian/%s (%s; %s)", VersionString(), runtime.GOOS, runtime.GOARCH)

// An HTTPSource loads tiles from a local cache directory, first downloading
// tiles that are not yet cached from a remote server. Tiles that the server
// does not have are reported as ErrNotFound.
type HTTPSource struct {
	baseURL          string
	cacheDir         string
	client           *http.Client
	tileFilenameFunc TileFilenameFunc
	local            *FSSource
}

// An HTTPSourceOption sets an option on an HTTPSource.
type HTTPSourceOption func(*HTTPSource)

// NewHTTPSource returns a new HTTPSource that downloads tiles from baseURL into
// cacheDir. By default tiles are GeoTIFFs in the quarter directory layout.
func NewHTTPSource(baseURL, cacheDir string, options ...HTTPSourceOption) *HTTPSource {
	s := &HTTPSource{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		cacheDir:         cacheDir,
		client:           http.DefaultClient,
		tileFilenameFunc: QuarterTileFilename(".tif"),
	}
	for _, option := range options {
		option(s)
	}
	s.local = NewFSSource(os.DirFS(cacheDir), WithTileFilenameFunc(s.tileFilenameFunc))
	return s
}

func WithHTTPClient(client *http.Client) HTTPSourceOption {
	return func(s *HTTPSource) {
		s.client = client
	}
}

// WithRemoteTileFilenameFunc sets the function that names tiles, both on the
// server and in the cache directory.
func WithRemoteTileFilenameFunc(tileFilenameFunc TileFilenameFunc) HTTPSourceOption {
	return func(s *HTTPSource) {
		s.tileFilenameFunc = tileFilenameFunc
	}
}

// Load implements Source.
func (s *HTTPSource) Load(ctx context.Context, id TileID) (*Tile, error) {
	tile, err := s.local.Load(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		return tile, err
	}
	if err := s.download(ctx, id); err != nil {
		return nil, err
	}
	return s.local.Load(ctx, id)
}

// URL returns the URL of the tile id on the server.
func (s *HTTPSource) URL(id TileID) string {
	return s.baseURL + "/" + s.tileFilenameFunc(id)
}

// download fetches the tile id into the cache directory. The tile file only
// appears once it is complete.
func (s *HTTPSource) download(ctx context.Context, id TileID) error {
	url := s.URL(id)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	request.Header.Set("User-Agent", userAgent)

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone:
		return ErrNotFound
	case response.StatusCode < 200 || 300 <= response.StatusCode:
		return fmt.Errorf("%s: %s", url, response.Status)
	}

	filename := filepath.Join(s.cacheDir, filepath.FromSlash(s.tileFilenameFunc(id)))
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	file, err := os.CreateTemp(filepath.Dir(filename), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(file.Name())
	if _, err := io.Copy(file, response.Body); err != nil {
		_ = file.Close()
		return fmt.Errorf("%s: %w", url, err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(file.Name(), filename); err != nil {
		return err
	}

	Logger().Debug("downloaded tile", slog.String("tile", id.String()), slog.String("url", url))
	return nil
}
