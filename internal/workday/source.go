package workday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// The calendar service rate-limits unadorned clients, so requests carry a
// realistic browser identity.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const defaultLookupTimeout = 5 * time.Second

// HTTPSource queries a remote holiday calendar. urlFormat must contain one
// %s verb that receives the date formatted as 2006-01-02.
type HTTPSource struct {
	urlFormat string
	client    *http.Client
}

// NewHTTPSource builds a calendar source. A nil client gets a default with a
// bounded timeout.
func NewHTTPSource(urlFormat string, client *http.Client) (*HTTPSource, error) {
	if !strings.Contains(urlFormat, "%s") {
		return nil, fmt.Errorf("calendar url format %q must contain %%s", urlFormat)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultLookupTimeout}
	}
	return &HTTPSource{urlFormat: urlFormat, client: client}, nil
}

type calendarResponse struct {
	Code int `json:"code"`
	Type struct {
		Type int    `json:"type"`
		Name string `json:"name"`
	} `json:"type"`
}

// Lookup fetches and decodes one date's category.
func (s *HTTPSource) Lookup(ctx context.Context, date string) (Category, error) {
	url := fmt.Sprintf(s.urlFormat, date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calendar request %s: %w", date, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("calendar request %s: unexpected status %d", date, resp.StatusCode)
	}

	var payload calendarResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode calendar response for %s: %w", date, err)
	}
	if payload.Code != 0 {
		return 0, fmt.Errorf("calendar response for %s: service code %d", date, payload.Code)
	}
	category := Category(payload.Type.Type)
	switch category {
	case CategoryWorkday, CategoryWeekend, CategoryHoliday, CategoryMakeup:
		return category, nil
	default:
		return 0, fmt.Errorf("calendar response for %s: unknown category %d", date, payload.Type.Type)
	}
}
