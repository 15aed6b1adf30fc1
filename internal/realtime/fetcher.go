package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"transitmap/internal/storage"
)

// pollInterval is how often vehicle positions are refreshed while serving.
const pollInterval = 60 * time.Second

// Fetcher polls a GTFS-RT vehicle positions feed and upserts the decoded
// positions into storage. Fetching is best effort: any failure is logged and
// the previously stored positions remain available.
type Fetcher struct {
	endpoints []string
	apiKey    string
	db        *storage.DB
	client    *http.Client
	logger    *slog.Logger
}

// NewFetcher creates a vehicle position fetcher. Endpoints are tried in order
// until one returns a decodable feed.
func NewFetcher(endpoints []string, apiKey string, db *storage.DB, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		endpoints: endpoints,
		apiKey:    apiKey,
		db:        db,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
}

// Start polls the feed until the context is cancelled. The first fetch runs
// immediately so the API has data soon after boot.
func (f *Fetcher) Start(ctx context.Context) {
	f.FetchOnce(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.FetchOnce(ctx)
		case <-ctx.Done():
			f.logger.Info("vehicle fetcher stopped")
			return
		}
	}
}

// FetchOnce tries each endpoint in order and stores the first decodable feed.
// All failures are logged, never returned; live data is optional.
func (f *Fetcher) FetchOnce(ctx context.Context) {
	for _, url := range f.endpoints {
		vehicles, err := f.fetch(ctx, url)
		if err != nil {
			f.logger.Warn("vehicle feed fetch failed", "url", url, "error", err)
			continue
		}
		if len(vehicles) == 0 {
			f.logger.Warn("vehicle feed empty", "url", url)
			continue
		}
		if _, err := f.db.UpsertVehicles(ctx, vehicles); err != nil {
			f.logger.Error("store vehicle positions", "error", err)
			return
		}
		f.logger.Info("vehicle positions updated", "url", url, "count", len(vehicles))
		return
	}
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]storage.VehicleRow, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("parse protobuf: %w", err)
	}

	var vehicles []storage.VehicleRow
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil {
			continue
		}
		pos := vp.GetPosition()
		if pos == nil {
			continue
		}

		id := vp.GetVehicle().GetId()
		if id == "" {
			id = entity.GetId()
		}
		if id == "" {
			continue
		}

		ts := time.Now().UTC()
		if t := vp.GetTimestamp(); t != 0 {
			ts = time.Unix(int64(t), 0).UTC()
		}

		vehicles = append(vehicles, storage.VehicleRow{
			VehicleID: id,
			RouteID:   vp.GetTrip().GetRouteId(),
			Lat:       float64(pos.GetLatitude()),
			Lon:       float64(pos.GetLongitude()),
			Bearing:   float64(pos.GetBearing()),
			Speed:     float64(pos.GetSpeed()),
			Occupancy: int(vp.GetOccupancyStatus()),
			Status:    statusFromStopStatus(vp.GetCurrentStatus()),
			Timestamp: ts,
		})
	}
	return vehicles, nil
}

func statusFromStopStatus(s gtfsrt.VehiclePosition_VehicleStopStatus) string {
	if s == gtfsrt.VehiclePosition_STOPPED_AT {
		return "stopped"
	}
	return "in_transit"
}
