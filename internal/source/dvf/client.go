// Package dvf fetches "Demandes de valeurs foncières" sales from the geo-dvf
// per-commune CSV exports.
package dvf

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/evcraddock/trackimmo/internal/httpx"
	"github.com/evcraddock/trackimmo/internal/source"
)

// SourceName identifies DVF records.
const SourceName = "dvf"

// firstYear is the oldest year published by geo-dvf.
const firstYear = 2014

// Client fetches DVF sales for a commune.
type Client struct {
	http    *httpx.Client
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a DVF client against baseURL
// (e.g. https://files.data.gouv.fr/geo-dvf/latest/csv).
func NewClient(http *httpx.Client, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    http,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// Fetch returns every dwelling sale of the filter's commune inside its date
// range. A year with no published file contributes no records.
func (c *Client) Fetch(ctx context.Context, f source.Filter) ([]source.TransactionRecord, error) {
	if f.CommuneCode == "" {
		return nil, fmt.Errorf("commune code is required")
	}

	var records []source.TransactionRecord
	for _, year := range f.Years(firstYear, c.now()) {
		url := c.yearURL(year, f.CommuneCode)
		body, err := c.http.Get(ctx, url, nil)
		if httpx.IsNotFound(err) {
			c.logger.Debug("no dvf file", "commune", f.CommuneCode, "year", year)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetching dvf %s/%d: %w", f.CommuneCode, year, err)
		}

		recs, err := Parse(bytes.NewReader(body), f)
		if err != nil {
			return nil, fmt.Errorf("parsing dvf %s/%d: %w", f.CommuneCode, year, err)
		}
		records = append(records, recs...)
	}

	return records, nil
}

func (c *Client) yearURL(year int, commune string) string {
	return fmt.Sprintf("%s/%d/communes/%s/%s.csv", c.baseURL, year, Department(commune), commune)
}

// Department returns the department code of an INSEE commune code.
// Overseas communes (97x) use three characters.
func Department(commune string) string {
	if strings.HasPrefix(commune, "97") && len(commune) >= 3 {
		return commune[:3]
	}
	if len(commune) >= 2 {
		return commune[:2]
	}
	return commune
}

var requiredColumns = []string{
	"id_mutation", "date_mutation", "nature_mutation", "valeur_fonciere",
	"adresse_nom_voie", "code_commune", "type_local",
}

// row gives named access to one CSV line.
type row struct {
	cols   map[string]int
	fields []string
}

func (r row) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// Parse reads a geo-dvf CSV export and keeps dwelling sales inside the
// filter's date range. Multi-line mutations collapse to their first
// dwelling line.
func Parse(r io.Reader, f source.Filter) ([]source.TransactionRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", source.ErrParse, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", source.ErrParse, name)
		}
	}

	index := make(map[string]int)
	var records []source.TransactionRecord

	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", source.ErrParse, err)
		}

		rw := row{cols: cols, fields: fields}
		rec, ok := parseRow(rw)
		if !ok || !f.Contains(rec.SaleDate) {
			continue
		}
		if f.CommuneCode != "" && rec.CommuneCode != f.CommuneCode {
			continue
		}
		if i, ok := index[rec.MutationID]; ok {
			// One price covers every dwelling of the mutation.
			records[i].Surface = addSurface(records[i].Surface, rec.Surface)
			continue
		}
		index[rec.MutationID] = len(records)
		records = append(records, rec)
	}

	return records, nil
}

// addSurface sums the surfaces of two dwellings of a mutation. The total is
// unknown when either is.
func addSurface(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	sum := *a + *b
	return &sum
}

// parseRow maps a CSV line onto a TransactionRecord. It returns false for
// lines that are not dwelling sales or carry no usable date.
func parseRow(r row) (source.TransactionRecord, bool) {
	if r.get("nature_mutation") != "Vente" {
		return source.TransactionRecord{}, false
	}
	typ := r.get("type_local")
	if typ != source.TypeApartment && typ != source.TypeHouse {
		return source.TransactionRecord{}, false
	}
	saleDate, err := time.Parse("2006-01-02", r.get("date_mutation"))
	if err != nil {
		return source.TransactionRecord{}, false
	}

	rec := source.TransactionRecord{
		Source:      SourceName,
		MutationID:  r.get("id_mutation"),
		Address:     joinAddress(r.get("adresse_numero"), r.get("adresse_suffixe"), r.get("adresse_nom_voie")),
		City:        r.get("nom_commune"),
		PostalCode:  r.get("code_postal"),
		CommuneCode: r.get("code_commune"),
		SaleDate:    saleDate,
		Type:        typ,
		Longitude:   parseFloat(r.get("longitude")),
		Latitude:    parseFloat(r.get("latitude")),
	}

	if v := parseFloat(r.get("valeur_fonciere")); v != nil && *v >= 0 {
		price := int64(math.Round(*v))
		rec.Price = &price
	}

	surface := parseFloat(r.get("surface_reelle_bati"))
	if surface == nil || *surface <= 0 {
		surface = parseFloat(r.get("lot1_surface_carrez"))
	}
	rec.Surface = surface

	if v := parseFloat(r.get("nombre_pieces_principales")); v != nil && *v >= 0 {
		rooms := int(*v)
		rec.Rooms = &rooms
	}

	return rec, true
}

func joinAddress(number, suffix, street string) string {
	return strings.Join(strings.Fields(number+suffix+" "+street), " ")
}

// parseFloat accepts both "." and "," decimal separators.
func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
