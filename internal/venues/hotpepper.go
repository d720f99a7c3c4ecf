package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"kanpai/internal/types"
)

// Hot Pepper genre codes per questionnaire genre code. "5" (anything)
// searches izakaya, the broadest category.
var hotpepperGenres = map[string]string{
	"1": "G004", // 和食
	"2": "G005", // 洋食
	"3": "G007", // 中華
	"4": "G008", // 焼肉・ホルモン
	"5": "G001", // 居酒屋
}

// Hot Pepper budget code lists per questionnaire budget band. The API takes
// comma-separated dinner budget codes.
var hotpepperBudgets = map[string]string{
	"1": "B009,B010,B011,B001", // 〜2,000円
	"2": "B002,B003",           // 2,001〜4,000円
	"3": "B008,B004",           // 4,001〜7,000円
	"4": "B005,B006,B007",      // 7,001円〜
}

// HotpepperProvider searches the Hot Pepper gourmet API.
type HotpepperProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewHotpepperProvider returns a provider, or nil when no API key is
// configured so the chain skips it.
func NewHotpepperProvider(apiKey string, timeout time.Duration) *HotpepperProvider {
	if apiKey == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HotpepperProvider{
		apiKey:     apiKey,
		baseURL:    "https://webservice.recruit.co.jp/hotpepper/gourmet/v1/",
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HotpepperProvider) Name() string { return "hotpepper" }

type hotpepperResponse struct {
	Results struct {
		Shop []struct {
			Name   string `json:"name"`
			Catch  string `json:"catch"`
			Access string `json:"mobile_access"`
			Budget struct {
				Average string `json:"average"`
				Name    string `json:"name"`
			} `json:"budget"`
			URLs struct {
				PC string `json:"pc"`
			} `json:"urls"`
		} `json:"shop"`
		Error []struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"results"`
}

// Search queries the gourmet API by genre, budget band, and area keyword.
func (p *HotpepperProvider) Search(ctx context.Context, q Query) ([]types.Venue, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 3
	}

	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("format", "json")
	params.Set("count", fmt.Sprintf("%d", limit))
	if g, ok := hotpepperGenres[q.Genre]; ok {
		params.Set("genre", g)
	}
	if b, ok := hotpepperBudgets[q.Budget]; ok {
		params.Set("budget", b)
	}
	if q.Area != "" {
		params.Set("keyword", q.Area)
	}

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
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed hotpepperResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Results.Error) > 0 {
		return nil, fmt.Errorf("API error: %s", parsed.Results.Error[0].Message)
	}

	venues := make([]types.Venue, 0, len(parsed.Results.Shop))
	for _, shop := range parsed.Results.Shop {
		if len(venues) >= limit {
			break
		}
		venues = append(venues, types.Venue{
			Name:   shop.Name,
			Catch:  shop.Catch,
			Access: shop.Access,
			Budget: shop.Budget.Average,
			URL:    shop.URLs.PC,
		})
	}
	return venues, nil
}
