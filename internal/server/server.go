package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-geo/meridian"
	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/logger"
	"github.com/meridian-geo/meridian/wire"
)

const (
	// MaxCoordinates is the maximum number of coordinates in a batch request.
	MaxCoordinates = 10000

	requestTimeout  = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server serves elevation queries over HTTP.
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	service   *meridian.Service
	scheduler gocron.Scheduler
}

type versionResponse struct {
	Version         string `json:"version"`
	BinaryDirectory string `json:"binary_directory"`
}

type elevationResponse struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Elevation *float32 `json:"elevation,omitempty"`
	Code      int32    `json:"code,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type elevationsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
}

type elevationsResponse struct {
	Results []elevationResponse `json:"results"`
}

func New(conf *config.Config, log *logger.Logger, service *meridian.Service) (*Server, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Server{
		config:    conf,
		logger:    log,
		service:   service,
		scheduler: scheduler,
	}, nil
}

// Routes returns the HTTP routes of s.
func (s *Server) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)

	router.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/api/version", s.getVersion)
	router.Get("/api/elevation", s.getElevation)
	router.Get("/api/elevation/raw", s.getElevationRaw)
	router.Post("/api/elevations", s.postElevations)
	router.Handle("/metrics", promhttp.Handler())
	return router
}

// Run serves HTTP requests until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.config.Intervals.Stats),
		gocron.NewTask(s.logStats),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("tile_store_stats_job"),
	)
	if err != nil {
		return fmt.Errorf("failed to create tile_store_stats_job: %w", err)
	}
	s.scheduler.Start()

	httpServer := &http.Server{
		Addr:              s.config.Server.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = httpServer.Shutdown(shutdownCtx)
		if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
			err = errors.Join(err, serveErr)
		}
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return errors.Join(err, s.scheduler.Shutdown())
}

func (s *Server) logStats(context.Context) {
	stats := s.service.Stats()
	s.logger.Info("tile store stats",
		slog.Int("tiles", stats.Tiles),
		slog.Int64("bytes", stats.Bytes),
		slog.Int("missing_tiles", stats.MissingTiles),
		slog.Uint64("hits", stats.Hits),
		slog.Uint64("misses", stats.Misses),
		slog.Uint64("evictions", stats.Evictions),
		slog.Uint64("load_errors", stats.LoadErrors),
	)
}

func (s *Server) getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{
		Version:         meridian.VersionString(),
		BinaryDirectory: meridian.BinaryDirectory(),
	})
}

func (s *Server) getElevation(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseLatLon(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), wire.InvalidCoordinate)
		return
	}

	elevation, err := s.service.Elevation(r.Context(), lat, lon)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, elevationResponse{
			Latitude:  lat,
			Longitude: lon,
			Elevation: &elevation,
		})
	case errors.Is(err, meridian.ErrInvalidCoordinate):
		writeError(w, http.StatusBadRequest, err.Error(), wire.InvalidCoordinate)
	case errors.Is(err, meridian.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), wire.NotFound)
	case errors.Is(err, meridian.ErrLoad):
		s.logger.Error("failed to load elevation data", logger.Err(err))
		writeError(w, http.StatusBadGateway, "failed to load elevation data", wire.LoadError)
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error(), wire.Encode(0, err))
	}
}

// getElevationRaw writes the wire code of the elevation as plain text.
func (s *Server) getElevationRaw(w http.ResponseWriter, r *http.Request) {
	var code int32
	if lat, lon, err := parseLatLon(r); err != nil {
		code = wire.InvalidCoordinate
	} else {
		elevation, err := s.service.Elevation(r.Context(), lat, lon)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, err.Error(), 0)
			return
		}
		code = wire.Encode(elevation, err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strconv.FormatInt(int64(code), 10)))
}

func (s *Server) postElevations(w http.ResponseWriter, r *http.Request) {
	var request elevationsRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload", 0)
		return
	}
	if len(request.Coordinates) > MaxCoordinates {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many coordinates, maximum is %d", MaxCoordinates), 0)
		return
	}

	coords := make([]meridian.Coord, len(request.Coordinates))
	for i, coordinate := range request.Coordinates {
		coords[i] = meridian.Coord{Lat: coordinate[0], Lon: coordinate[1]}
	}
	results, err := s.service.Elevations(r.Context(), coords)
	switch {
	case errors.Is(err, meridian.ErrLoad):
		s.logger.Error("failed to load elevation data", logger.Err(err))
		writeError(w, http.StatusBadGateway, "failed to load elevation data", wire.LoadError)
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error(), wire.Encode(0, err))
		return
	}

	response := elevationsResponse{
		Results: make([]elevationResponse, len(results)),
	}
	for i, result := range results {
		response.Results[i] = elevationResponse{
			Latitude:  coords[i].Lat,
			Longitude: coords[i].Lon,
		}
		if result.Err != nil {
			response.Results[i].Code = wire.Encode(0, result.Err)
			response.Results[i].Error = result.Err.Error()
			continue
		}
		elevation := result.Elevation
		response.Results[i].Elevation = &elevation
	}
	writeJSON(w, http.StatusOK, response)
}

func parseLatLon(r *http.Request) (float64, float64, error) {
	query := r.URL.Query()
	lat, err := strconv.ParseFloat(query.Get("lat"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("lat: %w", meridian.ErrInvalidCoordinate)
	}
	lon, err := strconv.ParseFloat(query.Get("lon"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("lon: %w", meridian.ErrInvalidCoordinate)
	}
	return lat, lon, nil
}
