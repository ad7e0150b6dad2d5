package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cinemabooking/internal/config"
	"cinemabooking/internal/domain"
	"cinemabooking/internal/models"

	"golang.org/x/time/rate"
)

// screeningResponse is the movie service's internal screening payload.
type screeningResponse struct {
	ID             int64       `json:"id"`
	MovieID        int64       `json:"movieId"`
	MovieTitle     string      `json:"movieTitle"`
	StartTime      *string     `json:"startTime"`
	AvailableSeats *int        `json:"availableSeats"`
	TotalSeats     int         `json:"totalSeats"`
	Price          json.Number `json:"price"`
}

// HTTPGateway reads screenings from the movie service internal API.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client
	limiter    *rate.Limiter
	location   *time.Location
}

func NewHTTPGateway(cfg config.CatalogConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiExtra:   cfg.APIExtra,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		location:   time.UTC,
	}
}

func (g *HTTPGateway) GetSnapshot(ctx context.Context, screeningID int64) (*models.ScreeningSnapshot, error) {
	endpoint := fmt.Sprintf("%s/api/movies/internal/screenings/%d", g.baseURL, screeningID)
	var resp screeningResponse
	if err := g.doRequest(ctx, http.MethodGet, endpoint, &resp); err != nil {
		return nil, err
	}
	return g.toSnapshot(screeningID, resp)
}

func (g *HTTPGateway) AdjustSeats(ctx context.Context, screeningID int64, delta int) error {
	endpoint := fmt.Sprintf("%s/api/movies/internal/screenings/%d/seats?%s", g.baseURL, screeningID,
		url.Values{"seatsDelta": []string{strconv.Itoa(delta)}}.Encode())
	return g.doRequest(ctx, http.MethodPut, endpoint, nil)
}

func (g *HTTPGateway) toSnapshot(screeningID int64, resp screeningResponse) (*models.ScreeningSnapshot, error) {
	snap := &models.ScreeningSnapshot{
		ID:             resp.ID,
		MovieTitle:     resp.MovieTitle,
		AvailableSeats: resp.AvailableSeats,
		TotalSeats:     resp.TotalSeats,
	}
	if snap.ID == 0 {
		snap.ID = screeningID
	}
	if resp.StartTime != nil && *resp.StartTime != "" {
		start, err := parseStartTime(*resp.StartTime, g.location)
		if err != nil {
			return nil, fmt.Errorf("screening %d: %w", screeningID, err)
		}
		snap.StartTime = &start
	}
	if resp.Price != "" {
		cents, err := ParseCents(resp.Price.String())
		if err != nil {
			return nil, fmt.Errorf("screening %d: %w", screeningID, err)
		}
		snap.PriceCents = &cents
	}
	return snap, nil
}

func (g *HTTPGateway) doRequest(ctx context.Context, method, endpoint string, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("catalog rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	g.addHeaders(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrScreeningNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("catalog %s %s: http %d", method, endpoint, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}

func (g *HTTPGateway) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("x-api-key", g.apiKey)
	}
	if g.apiExtra != "" {
		req.Header.Set("x-api-extra", g.apiExtra)
	}
}

var startTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

func parseStartTime(raw string, loc *time.Location) (time.Time, error) {
	for _, layout := range startTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start time %q", raw)
}

// ParseCents converts a decimal amount such as "12.345" to cents, rounding half away from zero.
func ParseCents(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", raw)
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid price %q", raw)
		}
	}

	frac += "000"
	cents := units*100 + int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	if frac[2] >= '5' {
		cents++
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}
