package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"kanpai/internal/types"
)

// Free-text search keywords per questionnaire genre code.
var placesKeywords = map[string]string{
	"1": "和食 居酒屋",
	"2": "イタリアン フレンチ 洋食",
	"3": "中華",
	"4": "焼肉 焼き鳥",
	"5": "居酒屋",
}

// Google price levels per questionnaire budget code.
var placesPriceLevels = map[string]int{
	"1": 1,
	"2": 2,
	"3": 3,
	"4": 4,
}

const placesMinRating = 3.5

var postalCodeRe = regexp.MustCompile(`〒\d{3}-\d{4} ?`)

// PlacesProvider searches the Google Places text search API.
type PlacesProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewPlacesProvider returns a provider, or nil when no API key is
// configured so the chain skips it.
func NewPlacesProvider(apiKey string, timeout time.Duration) *PlacesProvider {
	if apiKey == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PlacesProvider{
		apiKey:     apiKey,
		baseURL:    "https://maps.googleapis.com/maps/api/place/textsearch/json",
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *PlacesProvider) Name() string { return "places" }

type placesResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Name             string  `json:"name"`
		Rating           float64 `json:"rating"`
		UserRatingsTotal int     `json:"user_ratings_total"`
		PriceLevel       int     `json:"price_level"`
		FormattedAddress string  `json:"formatted_address"`
	} `json:"results"`
}

// Search queries the text search endpoint and filters to venues within one
// price level of the target with a rating of 3.5 or better. Venues without
// a price level are kept.
func (p *PlacesProvider) Search(ctx context.Context, q Query) ([]types.Venue, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 3
	}

	keyword := placesKeywords[q.Genre]
	if keyword == "" {
		keyword = "居酒屋"
	}
	area := q.Area
	if area == "" {
		area = "東京"
	}
	target := placesPriceLevels[q.Budget]
	if target == 0 {
		target = 2
	}

	params := url.Values{}
	params.Set("query", area+" "+keyword)
	params.Set("type", "restaurant")
	params.Set("language", "ja")
	params.Set("key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed placesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Status != "OK" {
		return nil, fmt.Errorf("API status %s", parsed.Status)
	}

	venues := make([]types.Venue, 0, limit)
	for _, place := range parsed.Results {
		if len(venues) >= limit {
			break
		}
		if place.PriceLevel != 0 && abs(place.PriceLevel-target) > 1 {
			continue
		}
		if place.Rating < placesMinRating {
			continue
		}
		venues = append(venues, types.Venue{
			Name:        place.Name,
			Rating:      place.Rating,
			RatingCount: place.UserRatingsTotal,
			PriceLevel:  place.PriceLevel,
			Address:     cleanAddress(place.FormattedAddress),
		})
	}
	return venues, nil
}

func cleanAddress(addr string) string {
	addr = strings.ReplaceAll(addr, "日本、", "")
	return strings.TrimSpace(postalCodeRe.ReplaceAllString(addr, ""))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
