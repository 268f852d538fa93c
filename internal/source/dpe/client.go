// Package dpe looks up energy performance diagnostics (DPE) in the ADEME
// open data datasets.
package dpe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/evcraddock/trackimmo/internal/httpx"
	"github.com/evcraddock/trackimmo/internal/logging"
	"github.com/evcraddock/trackimmo/internal/source"
)

// v2Start is the date the DPE v2 method replaced the original datasets.
var v2Start = time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

// Dataset is one ADEME dataset with the sale dates it applies to.
type Dataset struct {
	Name     string
	From     time.Time
	To       time.Time
	Priority int
	decode   func(body []byte) ([]source.EnergyRecord, error)
	query    func(q Query) url.Values
}

// Applies reports whether the dataset covers a sale at date d.
func (d Dataset) Applies(date time.Time) bool {
	if !d.From.IsZero() && date.Before(d.From) {
		return false
	}
	if !d.To.IsZero() && date.After(d.To) {
		return false
	}
	return true
}

// Datasets lists the ADEME datasets in lookup priority.
var Datasets = []Dataset{
	{Name: "dpe-france", To: v2Start, Priority: 1, decode: decodeV1, query: queryV1},
	{Name: "dpe03existant", From: v2Start, Priority: 2, decode: decodeV2("dpe03existant"), query: queryV2},
	{Name: "dpe02neuf", From: v2Start, Priority: 3, decode: decodeV2("dpe02neuf"), query: queryV2},
}

// Applicable returns the datasets covering a sale date, by priority.
func Applicable(date time.Time) []Dataset {
	var out []Dataset
	for _, d := range Datasets {
		if d.Applies(date) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Query describes the dwelling whose diagnostic is wanted.
type Query struct {
	Address    string
	City       string
	PostalCode string
	SaleDate   time.Time
}

// Client queries the ADEME data-fair API.
type Client struct {
	http    *httpx.Client
	baseURL string
	size    int
	logger  *slog.Logger
}

// NewClient creates a DPE client against baseURL
// (e.g. https://data.ademe.fr/data-fair/api/v1/datasets).
func NewClient(http *httpx.Client, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    http,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		size:    10,
		logger:  logger,
	}
}

// Fetch returns the diagnostics a single dataset proposes for q.
func (c *Client) Fetch(ctx context.Context, d Dataset, q Query) ([]source.EnergyRecord, error) {
	params := d.query(q)
	params.Set("size", fmt.Sprint(c.size))

	u := fmt.Sprintf("%s/%s/lines?%s", c.baseURL, d.Name, params.Encode())
	body, err := c.http.Get(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dpe %s: %w", d.Name, err)
	}
	recs, err := d.decode(body)
	if err != nil {
		return nil, fmt.Errorf("dpe %s: %w", d.Name, err)
	}
	return recs, nil
}

// Find walks the datasets applicable to the sale date and returns the first
// diagnostic accepted by match. It returns nil, nil when nothing matched.
// A dataset failure is logged and the next dataset is tried; the last
// failure is returned only if no dataset produced a match.
func (c *Client) Find(ctx context.Context, q Query, match func(source.EnergyRecord) bool) (*source.EnergyRecord, error) {
	if strings.TrimSpace(q.Address) == "" {
		return nil, nil
	}

	var lastErr error
	for _, d := range Applicable(q.SaleDate) {
		recs, err := c.Fetch(ctx, d, q)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			c.logger.Debug("dpe dataset lookup failed", "dataset", d.Name, logging.Err(err))
			lastErr = err
			continue
		}
		for i := range recs {
			if q.PostalCode != "" && recs[i].PostalCode != "" && recs[i].PostalCode != q.PostalCode {
				continue
			}
			if match(recs[i]) {
				return &recs[i], nil
			}
		}
	}

	return nil, lastErr
}
