// Package tool holds the flight catalog searched by the booking agent.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
)

var ErrInvalidSearch = errors.New("invalid flight search")

type FlightOption struct {
	ID              int     `json:"id"`
	Airline         string  `json:"airline"`
	FlightNumber    string  `json:"flight_number"`
	Origin          string  `json:"origin"`
	Destination     string  `json:"destination"`
	DepartureDate   string  `json:"departure_date"`
	DepartureTime   string  `json:"departure_time"`
	ArrivalTime     string  `json:"arrival_time"`
	DurationMinutes int     `json:"duration_minutes"`
	Stops           int     `json:"stops"`
	CabinClass      string  `json:"cabin_class"`
	Price           float64 `json:"price"` // per traveler
	Currency        string  `json:"currency"`
}

type SearchRequest struct {
	Origin        string
	Destination   string
	DepartureDate string
	CabinClass    string
}

func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.Origin) == "" || strings.TrimSpace(r.Destination) == "" {
		return fmt.Errorf("%w: origin and destination are required", ErrInvalidSearch)
	}
	if strings.EqualFold(strings.TrimSpace(r.Origin), strings.TrimSpace(r.Destination)) {
		return fmt.Errorf("%w: origin equals destination", ErrInvalidSearch)
	}
	if strings.TrimSpace(r.DepartureDate) == "" {
		return fmt.Errorf("%w: departure date is required", ErrInvalidSearch)
	}
	return nil
}

type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]FlightOption, error)
}

type carrier struct {
	name string
	code string
}

var defaultCarriers = []carrier{
	{"Thai Airways", "TG"},
	{"Singapore Airlines", "SQ"},
	{"Emirates", "EK"},
	{"Lufthansa", "LH"},
	{"Japan Airlines", "JL"},
	{"Qatar Airways", "QR"},
	{"Air France", "AF"},
	{"Cathay Pacific", "CX"},
}

var cabinMultiplier = map[string]float64{
	"economy":         1.0,
	"premium economy": 1.6,
	"business":        3.2,
	"first":           5.0,
}

// CatalogSearcher returns a stable set of options for the same route, date
// and cabin, so a customer selecting "option 2" on the next turn gets the
// flight they were shown.
type CatalogSearcher struct {
	carriers []carrier
	options  int
	currency string
}

var _ Searcher = (*CatalogSearcher)(nil)

func NewCatalogSearcher() *CatalogSearcher {
	return &CatalogSearcher{
		carriers: defaultCarriers,
		options:  3,
		currency: "USD",
	}
}

func (c *CatalogSearcher) Search(ctx context.Context, req SearchRequest) ([]FlightOption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cabin := strings.TrimSpace(req.CabinClass)
	if cabin == "" {
		cabin = "Economy"
	}
	multiplier, ok := cabinMultiplier[strings.ToLower(cabin)]
	if !ok {
		multiplier = 1.0
	}

	seed := routeSeed(req.Origin, req.Destination, req.DepartureDate, cabin)
	rng := rand.New(rand.NewPCG(seed, seed>>17|1))

	baseMinutes := 90 + rng.IntN(12*60)
	basePrice := 120 + float64(baseMinutes)*0.9

	out := make([]FlightOption, 0, c.options)
	for i := 0; i < c.options; i++ {
		cr := c.carriers[rng.IntN(len(c.carriers))]
		stops := rng.IntN(2)
		duration := baseMinutes + stops*(60+rng.IntN(120))
		depart := 6*60 + rng.IntN(16*60)
		price := (basePrice + float64(rng.IntN(250)) - float64(stops)*40) * multiplier

		out = append(out, FlightOption{
			ID:              i + 1,
			Airline:         cr.name,
			FlightNumber:    fmt.Sprintf("%s%d", cr.code, 100+rng.IntN(900)),
			Origin:          strings.TrimSpace(req.Origin),
			Destination:     strings.TrimSpace(req.Destination),
			DepartureDate:   strings.TrimSpace(req.DepartureDate),
			DepartureTime:   clock(depart),
			ArrivalTime:     clock(depart + duration),
			DurationMinutes: duration,
			Stops:           stops,
			CabinClass:      cabin,
			Price:           math.Round(price*100) / 100,
			Currency:        c.currency,
		})
	}
	return out, nil
}

func routeSeed(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// clock renders minutes since midnight as HH:MM, wrapping past midnight.
func clock(minutes int) string {
	minutes %= 24 * 60
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// EncodeOptions serializes options for the last_flights_json cache.
func EncodeOptions(opts []FlightOption) (string, error) {
	if len(opts) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encode flight options: %w", err)
	}
	return string(b), nil
}

func DecodeOptions(raw string) ([]FlightOption, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var opts []FlightOption
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fmt.Errorf("decode flight options: %w", err)
	}
	return opts, nil
}

// FindOption returns the option with the given 1-based id.
func FindOption(opts []FlightOption, id int) (FlightOption, bool) {
	for _, o := range opts {
		if o.ID == id {
			return o, true
		}
	}
	return FlightOption{}, false
}
