// Package export writes stored properties to spreadsheet files.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/evcraddock/trackimmo/internal/property"
)

// Lister lists stored properties; see property.Repository.
type Lister interface {
	List(ctx context.Context, opts property.ListOptions) ([]*property.Property, error)
}

// Service exports properties.
type Service struct {
	properties Lister
	logger     *slog.Logger
}

// NewService creates an export Service.
func NewService(properties Lister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{properties: properties, logger: logger}
}

// ToFile exports the properties selected by opts to path. The format follows
// the extension: .xlsx or .csv. It returns the number of rows written.
func (s *Service) ToFile(ctx context.Context, path string, opts property.ListOptions) (int, error) {
	start := time.Now()

	write, err := writerFor(path)
	if err != nil {
		return 0, err
	}

	props, err := s.properties.List(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("listing properties: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f, props); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", path, err)
	}

	s.logger.Info("export written",
		"path", path,
		"rows", len(props),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return len(props), nil
}

func writerFor(path string) (func(io.Writer, []*property.Property) error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return WriteXLSX, nil
	case ".csv":
		return WriteCSV, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (use .xlsx or .csv)", filepath.Ext(path))
	}
}

// Columns are the exported fields, in order.
var Columns = []string{
	"uuid",
	"address",
	"city",
	"postal_code",
	"commune_code",
	"type",
	"rooms",
	"surface",
	"price",
	"sale_date",
	"estimated_price",
	"profit",
	"price_per_sqm",
	"reference_level",
	"dpe_energy_class",
	"dpe_ges_class",
	"latitude",
	"longitude",
	"address_key",
	"enriched_at",
}

// values returns the row of p. Unset fields are nil.
func values(p *property.Property) []any {
	return []any{
		p.UUID,
		p.Address,
		p.City,
		p.PostalCode,
		p.CommuneCode,
		p.Type,
		deref(p.Rooms),
		deref(p.Surface),
		deref(p.Price),
		date(p.SaleDate),
		deref(p.EstimatedPrice),
		deref(p.Profit()),
		deref(p.PricePerSqm),
		p.ReferenceLevel,
		p.EnergyClass,
		p.GESClass,
		deref(p.Latitude),
		deref(p.Longitude),
		p.AddressKey,
		timestamp(p.EnrichedAt),
	}
}

func deref[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func date(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format("2006-01-02")
}

func timestamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteCSV writes props as CSV with a header line.
func WriteCSV(w io.Writer, props []*property.Property) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}
	for _, p := range props {
		vals := values(p)
		rec := make([]string, len(vals))
		for i, v := range vals {
			rec[i] = csvCell(v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("csv row %s: %w", p.UUID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	return nil
}

func csvCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Sheet is the name of the XLSX worksheet.
const Sheet = "Properties"

// WriteXLSX writes props as an XLSX workbook with a single sheet.
func WriteXLSX(w io.Writer, props []*property.Property) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", Sheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	for i, h := range Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(Sheet, cell, h); err != nil {
			return fmt.Errorf("xlsx header: %w", err)
		}
	}

	for r, p := range props {
		for c, v := range values(p) {
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(Sheet, cell, v); err != nil {
				return fmt.Errorf("xlsx row %s: %w", p.UUID, err)
			}
		}
	}

	_ = f.SetColWidth(Sheet, "A", "A", 38) // uuid
	_ = f.SetColWidth(Sheet, "B", "C", 32) // address, city
	_ = f.SetColWidth(Sheet, "I", "M", 14) // prices
	_ = f.SetPanes(Sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
