// Package ban queries the Base Adresse Nationale search API
// (api-adresse.data.gouv.fr).
package ban

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/evcraddock/trackimmo/internal/httpx"
	"github.com/evcraddock/trackimmo/internal/source"
)

// Candidate is one BAN search result.
type Candidate struct {
	Label       string  `json:"label"`
	Score       float64 `json:"score"`
	HouseNumber string  `json:"housenumber"`
	Street      string  `json:"street"`
	PostCode    string  `json:"postcode"`
	CityCode    string  `json:"citycode"`
	City        string  `json:"city"`
	Context     string  `json:"context"`
	Type        string  `json:"type"`
	Longitude   float64 `json:"longitude"`
	Latitude    float64 `json:"latitude"`
}

// SearchOptions narrows a search.
type SearchOptions struct {
	Limit    int
	PostCode string
	CityCode string
}

// searchResponse is the GeoJSON FeatureCollection returned by /search/.
type searchResponse struct {
	Features *[]struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Label       string  `json:"label"`
			Score       float64 `json:"score"`
			HouseNumber string  `json:"housenumber"`
			Street      string  `json:"street"`
			Name        string  `json:"name"`
			PostCode    string  `json:"postcode"`
			CityCode    string  `json:"citycode"`
			City        string  `json:"city"`
			Context     string  `json:"context"`
			Type        string  `json:"type"`
		} `json:"properties"`
	} `json:"features"`
}

// Client searches BAN.
type Client struct {
	http    *httpx.Client
	baseURL string
}

// NewClient creates a BAN client against baseURL
// (e.g. https://api-adresse.data.gouv.fr/search/).
func NewClient(http *httpx.Client, baseURL string) *Client {
	return &Client{http: http, baseURL: baseURL}
}

// Search returns the candidates BAN proposes for query, in BAN order.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]Candidate, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{
		"q":     {query},
		"limit": {strconv.Itoa(limit)},
	}
	if opts.PostCode != "" {
		params.Set("postcode", opts.PostCode)
	}
	if opts.CityCode != "" {
		params.Set("citycode", opts.CityCode)
	}

	var resp searchResponse
	if err := c.http.GetJSON(ctx, c.baseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("ban search: %w", err)
	}
	if resp.Features == nil {
		return nil, fmt.Errorf("ban search: %w: missing features", source.ErrParse)
	}

	candidates := make([]Candidate, 0, len(*resp.Features))
	for _, f := range *resp.Features {
		p := f.Properties
		street := p.Street
		if street == "" && p.Type == "street" {
			street = p.Name
		}
		cand := Candidate{
			Label:       p.Label,
			Score:       p.Score,
			HouseNumber: p.HouseNumber,
			Street:      street,
			PostCode:    p.PostCode,
			CityCode:    p.CityCode,
			City:        p.City,
			Context:     p.Context,
			Type:        p.Type,
		}
		if len(f.Geometry.Coordinates) == 2 {
			cand.Longitude = f.Geometry.Coordinates[0]
			cand.Latitude = f.Geometry.Coordinates[1]
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}
