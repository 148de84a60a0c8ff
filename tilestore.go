package meridian

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meridian-geo/meridian/internal/logger"
)

var (
	missingTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meridian_missing_tile_cache_hits_total",
		Help: "The total number of hits on the missing tile cache",
	})
	missingTileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meridian_missing_tile_cache_misses_total",
		Help: "The total number of misses on the missing tile cache",
	})
	tileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meridian_tile_cache_hits_total",
		Help: "The total number of hits on the tile cache",
	})
	tileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meridian_tile_cache_misses_total",
		Help: "The total number of misses on the tile cache",
	})
	tileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meridian_tile_cache_evictions_total",
		Help: "The total number of evictions from the tile cache",
	})
	tileLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meridian_tile_load_errors_total",
		Help: "The total number of failed tile loads",
	})
)

// A loadCall is an in-flight tile load that concurrent requests for the same
// tile wait on. tile is retained once per waiter.
type loadCall struct {
	done    chan struct{}
	waiters int
	tile    *Tile
	err     error
}

// Stats is a snapshot of a TileStore's state and counters.
type Stats struct {
	Tiles        int
	Bytes        int64
	MissingTiles int
	Hits         uint64
	Misses       uint64
	Evictions    uint64
	Loads        uint64
	LoadErrors   uint64
}

// A TileStore loads tiles from a Source on demand and caches them.
//
// Tiles are evicted in least recently used order when the cache would exceed
// its tile count or byte budget. Tiles that the source reports as missing are
// remembered and never loaded again. Concurrent requests for the same
// uncached tile share a single load.
type TileStore struct {
	source      Source
	cacheSize   int
	cacheBytes  int64
	loadTimeout time.Duration
	logger      *slog.Logger

	mutex          sync.Mutex
	cache          *simplelru.LRU[TileID, *Tile]
	bytes          int64
	calls          map[TileID]*loadCall
	pendingRelease []*Tile
	closed         bool

	missingTiles sync.Map

	hits       atomic.Uint64
	misses     atomic.Uint64
	evictions  atomic.Uint64
	loads      atomic.Uint64
	loadErrors atomic.Uint64
}

// A TileStoreOption sets an option on a TileStore.
type TileStoreOption func(*TileStore)

// NewTileStore returns a new TileStore loading tiles from source.
func NewTileStore(source Source, options ...TileStoreOption) (*TileStore, error) {
	s := &TileStore{
		source:      source,
		cacheSize:   32,
		loadTimeout: 30 * time.Second,
		calls:       make(map[TileID]*loadCall),
	}
	for _, option := range options {
		option(s)
	}

	var err error
	s.cache, err = simplelru.NewLRU[TileID, *Tile](s.cacheSize, s.onEvict)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithCacheSize sets the maximum number of cached tiles.
func WithCacheSize(cacheSize int) TileStoreOption {
	return func(s *TileStore) {
		s.cacheSize = cacheSize
	}
}

// WithCacheBytes sets the maximum total size of cached tiles. Zero means no
// limit.
func WithCacheBytes(cacheBytes int64) TileStoreOption {
	return func(s *TileStore) {
		s.cacheBytes = cacheBytes
	}
}

func WithLoadTimeout(loadTimeout time.Duration) TileStoreOption {
	return func(s *TileStore) {
		s.loadTimeout = loadTimeout
	}
}

func WithLogger(logger *slog.Logger) TileStoreOption {
	return func(s *TileStore) {
		s.logger = logger
	}
}

// Get returns the tile id, loading it if needed. The caller must call Release
// on the returned tile. If there is no data for id, it returns ErrNotFound.
// If the tile's data could not be loaded, it returns a *LoadError.
//
// If ctx is done before the tile is available, Get returns ctx.Err() but the
// load continues for other callers.
func (s *TileStore) Get(ctx context.Context, id TileID) (*Tile, error) {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil, ErrClosed
	}
	// A tile is marked missing before its load call is removed, so checking
	// under the lock means a finished load is never repeated.
	if _, ok := s.missingTiles.Load(id); ok {
		s.mutex.Unlock()
		missingTileCacheHits.Inc()
		return nil, ErrNotFound
	}
	if tile, ok := s.cache.Get(id); ok {
		tile.retain()
		s.mutex.Unlock()
		s.hits.Add(1)
		tileCacheHits.Inc()
		return tile, nil
	}
	call, ok := s.calls[id]
	if !ok {
		call = &loadCall{
			done: make(chan struct{}),
		}
		s.calls[id] = call
		s.misses.Add(1)
		tileCacheMisses.Inc()
		go s.load(id, call)
	}
	call.waiters++
	s.mutex.Unlock()

	select {
	case <-call.done:
		return call.tile, call.err
	case <-ctx.Done():
		s.mutex.Lock()
		select {
		case <-call.done:
			s.mutex.Unlock()
			if call.tile != nil {
				s.release(call.tile)
			}
		default:
			call.waiters--
			s.mutex.Unlock()
		}
		return nil, ctx.Err()
	}
}

// Contains returns whether id is cached.
func (s *TileStore) Contains(id TileID) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cache.Contains(id)
}

// Missing returns whether id is known to have no data.
func (s *TileStore) Missing(id TileID) bool {
	_, ok := s.missingTiles.Load(id)
	return ok
}

// Unload removes every tile from the cache and forgets which tiles are
// missing. Tiles that are still in use remain valid until released.
func (s *TileStore) Unload() {
	s.mutex.Lock()
	s.cache.Purge()
	s.missingTiles.Clear()
	s.unlockAndRelease()
}

// Close unloads s. Subsequent calls to Get fail.
func (s *TileStore) Close() error {
	s.mutex.Lock()
	s.closed = true
	s.cache.Purge()
	s.unlockAndRelease()
	return nil
}

// Stats returns a snapshot of s's state.
func (s *TileStore) Stats() Stats {
	s.mutex.Lock()
	tiles, bytes := s.cache.Len(), s.bytes
	s.mutex.Unlock()
	missingTiles := 0
	s.missingTiles.Range(func(any, any) bool {
		missingTiles++
		return true
	})
	return Stats{
		Tiles:        tiles,
		Bytes:        bytes,
		MissingTiles: missingTiles,
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		Evictions:    s.evictions.Load(),
		Loads:        s.loads.Load(),
		LoadErrors:   s.loadErrors.Load(),
	}
}

// load loads the tile id and completes call.
func (s *TileStore) load(id TileID, call *loadCall) {
	start := time.Now()
	tile, err := s.loadTile(id)

	s.mutex.Lock()
	delete(s.calls, id)
	cached := false
	if err == nil {
		// The source's reference belongs to the cache if the tile was cached
		// and to the first waiter otherwise.
		cached = s.insert(id, tile)
		refs := call.waiters
		if !cached {
			refs--
		}
		for range refs {
			tile.retain()
		}
		if refs < 0 {
			s.pendingRelease = append(s.pendingRelease, tile)
		}
		call.tile = tile
	}
	call.err = err
	close(call.done)
	s.unlockAndRelease()

	switch {
	case errors.Is(err, ErrNotFound):
		s.log().Debug("tile missing", slog.String("tile", id.String()))
	case err != nil:
		s.log().Warn("failed to load tile", slog.String("tile", id.String()), logger.Err(err))
	case !cached:
		s.log().Warn("tile not cached", slog.String("tile", id.String()),
			slog.Int64("bytes", tile.Bytes))
	default:
		s.log().Debug("tile loaded", slog.String("tile", id.String()),
			slog.Duration("duration", time.Since(start)))
	}
}

// loadTile loads the tile id from s's source with a bounded timeout. The load
// is not tied to any caller's context since its result is shared.
func (s *TileStore) loadTile(id TileID) (*Tile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.loadTimeout)
	defer cancel()

	s.loads.Add(1)

	type result struct {
		tile *Tile
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		tile, err := s.source.Load(ctx, id)
		resultCh <- result{tile: tile, err: err}
	}()

	var r result
	select {
	case r = <-resultCh:
	case <-ctx.Done():
		go func() {
			if r := <-resultCh; r.tile != nil {
				s.release(r.tile)
			}
		}()
		r.err = ctx.Err()
	}

	var loadErr *LoadError
	switch {
	case r.err == nil:
		return r.tile, nil
	case errors.Is(r.err, ErrNotFound):
		s.missingTiles.Store(id, struct{}{})
		missingTileCacheMisses.Inc()
		return nil, ErrNotFound
	case errors.As(r.err, &loadErr):
		s.loadErrors.Add(1)
		tileLoadErrors.Inc()
		return nil, r.err
	default:
		s.loadErrors.Add(1)
		tileLoadErrors.Inc()
		return nil, &LoadError{ID: id, Err: r.err}
	}
}

// insert adds tile to the cache, evicting least recently used tiles to stay
// within budget. It returns false if tile alone exceeds the byte budget, in
// which case tile is not cached. s.mutex must be held.
func (s *TileStore) insert(id TileID, tile *Tile) bool {
	if s.closed || s.cacheBytes > 0 && tile.Bytes > s.cacheBytes {
		return false
	}
	for s.cacheBytes > 0 && s.bytes+tile.Bytes > s.cacheBytes {
		if _, _, ok := s.cache.RemoveOldest(); !ok {
			break
		}
		s.evictions.Add(1)
		tileCacheEvictions.Inc()
	}
	if evicted := s.cache.Add(id, tile); evicted {
		s.evictions.Add(1)
		tileCacheEvictions.Inc()
	}
	s.bytes += tile.Bytes
	return true
}

// onEvict is called by the cache whenever a tile leaves it. The cache's
// reference is released once s.mutex is unlocked.
func (s *TileStore) onEvict(_ TileID, tile *Tile) {
	s.bytes -= tile.Bytes
	s.pendingRelease = append(s.pendingRelease, tile)
}

// unlockAndRelease unlocks s.mutex and then releases the references of evicted
// tiles.
func (s *TileStore) unlockAndRelease() {
	pendingRelease := s.pendingRelease
	s.pendingRelease = nil
	s.mutex.Unlock()
	for _, tile := range pendingRelease {
		s.release(tile)
	}
}

// release releases tile, logging any error closing it.
func (s *TileStore) release(tile *Tile) {
	if err := tile.Release(); err != nil {
		s.log().Error("failed to close tile", slog.String("tile", tile.ID.String()), logger.Err(err))
	}
}

func (s *TileStore) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return Logger()
}
