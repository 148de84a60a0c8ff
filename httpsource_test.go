package meridian_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/meridian-geo/meridian"
	"github.com/meridian-geo/meridian/internal/testtiles"
)

func TestHTTPSource(t *testing.T) {
	hgt := testtiles.HGT(11, testtiles.N60E030)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.True(t, strings.HasPrefix(r.UserAgent(), "meridian/"))
		switch r.URL.Path {
		case "/srtm/N60E030.hgt":
			_, _ = w.Write(hgt)
		case "/srtm/N61E030.hgt":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	source := meridian.NewHTTPSource(server.URL+"/srtm/", cacheDir,
		meridian.WithHTTPClient(server.Client()),
		meridian.WithRemoteTileFilenameFunc(meridian.SRTMTileFilename(".hgt")),
	)
	assert.Equal(t, server.URL+"/srtm/N60E030.hgt", source.URL(meridian.TileID{Lat: 60, Lon: 30}))

	t.Run("download", func(t *testing.T) {
		service, err := meridian.NewService(source)
		assert.NoError(t, err)
		defer service.Close()

		elevation, err := service.Elevation(t.Context(), 60.5, 30.5)
		assert.NoError(t, err)
		assert.Equal(t, float32(62), elevation)

		data, err := os.ReadFile(filepath.Join(cacheDir, "N60E030.hgt"))
		assert.NoError(t, err)
		assert.Equal(t, hgt, data)
	})

	t.Run("cached", func(t *testing.T) {
		before := requests.Load()
		tile, err := source.Load(t.Context(), meridian.TileID{Lat: 60, Lon: 30})
		assert.NoError(t, err)
		assert.NoError(t, tile.Release())
		assert.Equal(t, before, requests.Load())
	})

	t.Run("not_found", func(t *testing.T) {
		_, err := source.Load(t.Context(), meridian.TileID{Lat: 0, Lon: 0})
		assert.IsError(t, err, meridian.ErrNotFound)
		_, err = os.Stat(filepath.Join(cacheDir, "N00E000.hgt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("server_error", func(t *testing.T) {
		service, err := meridian.NewService(source)
		assert.NoError(t, err)
		defer service.Close()

		_, err = service.Elevation(t.Context(), 61.5, 30.5)
		assert.IsError(t, err, meridian.ErrLoad)
		assert.False(t, service.Store().Missing(meridian.TileID{Lat: 61, Lon: 30}))
	})
}
