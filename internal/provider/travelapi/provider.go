// Package travelapi implements the sync provider for the external
// travel-booking API. Bookings are paged with a cursor, normalized to the
// activity vocabulary and enriched with computed emissions.
package travelapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/emission"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
)

// Config holds the connection settings for the booking API.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Timeout  time.Duration
}

// Provider pulls travel bookings for one reporting unit and period.
type Provider struct {
	client     *resty.Client
	activities *repository.ActivityRepository
	calc       emission.Calculator
	job        *domain.SyncJob
}

// New returns the registry constructor for the travel API provider.
func New(cfg *Config, activities *repository.ActivityRepository, calc emission.Calculator) provider.Constructor {
	return func(job *domain.SyncJob) (provider.Provider, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: travel API base URL not configured", provider.ErrBadConfig)
		}

		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}

		client := resty.New()
		client.SetBaseURL(cfg.BaseURL)
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
		client.SetHeader("Content-Type", "application/json")
		client.SetTimeout(timeout)

		return &Provider{
			client:     client,
			activities: activities,
			calc:       calc,
			job:        job,
		}, nil
	}
}

// Booking API wire structures.
type bookingsPage struct {
	Bookings   []booking `json:"bookings"`
	NextCursor string    `json:"next_cursor"`
}

type booking struct {
	BookingID   string  `json:"booking_id"`
	TravelDate  string  `json:"travel_date"`
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	CabinClass  string  `json:"cabin_class"`
	DistanceKm  float64 `json:"distance_km"`
}

// ValidateConnection checks the API accepts our credentials. The caller
// bounds it with a deadline on ctx.
func (p *Provider) ValidateConnection(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/v1/ping")
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrConnection, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: travel API returned status %d", provider.ErrConnection, resp.StatusCode())
	}
	return nil
}

// Fetch retrieves one page of bookings for the job's unit and period.
func (p *Provider) Fetch(ctx context.Context, cursor string, limit int) ([]domain.Record, string, error) {
	var page bookingsPage
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"unit":   p.job.UnitID,
			"year":   fmt.Sprintf("%d", p.job.Period),
			"cursor": cursor,
			"limit":  fmt.Sprintf("%d", limit),
		}).
		SetResult(&page).
		Get("/v1/bookings")
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch bookings: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("travel API returned status %d", resp.StatusCode())
	}

	records := make([]domain.Record, 0, len(page.Bookings))
	for _, b := range page.Bookings {
		records = append(records, domain.Record{
			Key: b.BookingID,
			Fields: map[string]interface{}{
				"booking_id":  b.BookingID,
				"travel_date": b.TravelDate,
				"origin":      b.Origin,
				"destination": b.Destination,
				"cabin_class": b.CabinClass,
				"distance_km": b.DistanceKm,
			},
		})
	}
	return records, page.NextCursor, nil
}

// Transform normalizes one raw booking and enriches it with the computed
// emission.
func (p *Provider) Transform(ctx context.Context, raw domain.Record) (domain.Record, error) {
	if raw.Key == "" {
		return domain.Record{}, fmt.Errorf("missing booking_id")
	}

	date, err := parseTravelDate(raw.String("travel_date"))
	if err != nil {
		return domain.Record{}, err
	}

	distance, ok := raw.Float("distance_km")
	if !ok || distance <= 0 {
		return domain.Record{}, fmt.Errorf("invalid distance_km for booking %s", raw.Key)
	}

	class, err := emission.NormalizeClass(raw.String("cabin_class"))
	if err != nil {
		return domain.Record{}, err
	}

	co2, err := p.calc.TripEmission(distance, class)
	if err != nil {
		return domain.Record{}, fmt.Errorf("emission lookup: %v", err)
	}

	return domain.Record{
		Key: raw.Key,
		Fields: map[string]interface{}{
			"departure_date": date.Format("2006-01-02"),
			"origin":         strings.ToUpper(strings.TrimSpace(raw.String("origin"))),
			"destination":    strings.ToUpper(strings.TrimSpace(raw.String("destination"))),
			"cabin_class":    class,
			"distance_km":    distance,
			"co2_kg":         co2,
		},
	}, nil
}

// Load upserts a chunk of normalized bookings into the activity store.
func (p *Provider) Load(ctx context.Context, records []domain.Record) (int, error) {
	loaded := 0
	for _, r := range records {
		distance, _ := r.Float("distance_km")
		co2, _ := r.Float("co2_kg")
		rec := &domain.ActivityRecord{
			ID:         uuid.New().String(),
			UnitID:     p.job.UnitID,
			Domain:     p.job.Domain,
			Period:     p.job.Period,
			NaturalKey: r.Key,
			Quantity:   distance,
			Unit:       "km",
			CO2Kg:      co2,
			Attributes: domain.JSONMap(r.Fields),
		}
		if err := p.activities.Upsert(ctx, rec); err != nil {
			return loaded, fmt.Errorf("failed to upsert booking %s: %w", r.Key, err)
		}
		loaded++
	}
	return loaded, nil
}

// parseTravelDate accepts the booking API's date forms.
func parseTravelDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable travel_date %q", raw)
}
