package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/evcraddock/trackimmo/internal/property"
)

//go:embed monthly_report.html
var monthlyReportHTML string

var monthlyReport = template.Must(template.New("monthly_report").Parse(monthlyReportHTML))

// Row holds the display values of one property. Every field is already
// formatted; missing values are empty strings.
type Row struct {
	Address        string
	City           string
	Type           string
	Rooms          string
	Surface        string
	Price          string
	SaleDate       string
	EstimatedPrice string
	Profit         string
	Gain           bool
	EnergyClass    string
	GESClass       string
}

// NewRow formats p for display.
func NewRow(p *property.Property) Row {
	profit := p.Profit()
	return Row{
		Address:        FormatOptionalString(p.Address),
		City:           FormatOptionalString(p.City),
		Type:           FormatOptionalString(p.Type),
		Rooms:          FormatOptionalInt(p.Rooms),
		Surface:        FormatSurface(p.Surface),
		Price:          FormatPrice(p.Price),
		SaleDate:       FormatDate(p.SaleDate),
		EstimatedPrice: FormatPrice(p.EstimatedPrice),
		Profit:         FormatSignedPrice(profit),
		Gain:           profit != nil && *profit > 0,
		EnergyClass:    FormatOptionalString(p.EnergyClass),
		GESClass:       FormatOptionalString(p.GESClass),
	}
}

// Recipient is the template view of the customer.
type Recipient struct {
	FirstName   string
	LastName    string
	Email       string
	CompanyName string
}

type view struct {
	Recipient Recipient
	Rows      []Row
	LogoURL   string
	Month     string
}

// Render produces the HTML body of r for the month of now.
func Render(r Report, logoURL string, now time.Time) (string, error) {
	v := view{
		Recipient: Recipient{
			FirstName:   r.Recipient.FirstName,
			LastName:    r.Recipient.LastName,
			Email:       r.Recipient.Email,
			CompanyName: r.Recipient.CompanyName,
		},
		Rows:    make([]Row, 0, len(r.Properties)),
		LogoURL: logoURL,
		Month:   FormatMonth(now),
	}
	for _, p := range r.Properties {
		v.Rows = append(v.Rows, NewRow(p))
	}

	var buf bytes.Buffer
	if err := monthlyReport.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("rendering report for %s: %w", r.Recipient.ID, err)
	}
	return buf.String(), nil
}
