package report

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evcraddock/trackimmo/internal/address"
	"github.com/evcraddock/trackimmo/internal/customer"
	"github.com/evcraddock/trackimmo/internal/property"
	"github.com/evcraddock/trackimmo/internal/reference"
	"github.com/evcraddock/trackimmo/internal/source"
)

func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }
func intPtr(v int) *int             { return &v }

var enrichedAt = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func prop(uuid string, price, estimate *int64) *property.Property {
	return &property.Property{
		UUID:           uuid,
		Address:        "1 Rue " + uuid,
		City:           "Paris 2e Arrondissement",
		PostalCode:     "75002",
		CommuneCode:    "75102",
		Type:           source.TypeApartment,
		Price:          price,
		EstimatedPrice: estimate,
		SaleDate:       time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		EnrichedAt:     enrichedAt,
	}
}

func uuids(ps []*property.Property) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.UUID
	}
	return out
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   *int64
		want string
	}{
		{nil, ""},
		{int64Ptr(0), "0 €"},
		{int64Ptr(950), "950 €"},
		{int64Ptr(1000), "1 000 €"},
		{int64Ptr(300000), "300 000 €"},
		{int64Ptr(1234567), "1 234 567 €"},
		{int64Ptr(-50000), "-50 000 €"},
		{int64Ptr(math.MaxInt64), "9 223 372 036 854 775 807 €"},
		{int64Ptr(math.MinInt64), "-9 223 372 036 854 775 808 €"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, FormatPrice(tt.in))
	}

	require.Equal(t, "+100 000 €", FormatSignedPrice(int64Ptr(100000)))
	require.Equal(t, "-1 200 €", FormatSignedPrice(int64Ptr(-1200)))
	require.Equal(t, "", FormatSignedPrice(nil))
	require.Equal(t, "-9 223 372 036 854 775 808 €", FormatSignedPrice(int64Ptr(math.MinInt64)))
}

func TestFormatSurface(t *testing.T) {
	require.Equal(t, "54", FormatSurface(float64Ptr(54.9)))
	require.Equal(t, "50", FormatSurface(float64Ptr(50)))
	require.Equal(t, "", FormatSurface(float64Ptr(0)))
	require.Equal(t, "", FormatSurface(nil))
}

func TestFormatOptional(t *testing.T) {
	require.Equal(t, "03/01/2023", FormatDate(time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "", FormatDate(time.Time{}))
	require.Equal(t, "3", FormatOptionalInt(intPtr(3)))
	require.Equal(t, "", FormatOptionalInt(nil))
	require.Equal(t, "12.5", FormatOptionalFloat(float64Ptr(12.5)))
	require.Equal(t, "", FormatOptionalFloat(nil))
	require.Equal(t, "", FormatOptionalString("  "))
}

func TestSubject(t *testing.T) {
	require.Equal(t, "Rapport Immo - Août 2024", Subject(time.Date(2024, 8, 31, 23, 0, 0, 0, time.UTC)))
	require.Equal(t, "Rapport Immo - Janvier 2025", Subject(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRank(t *testing.T) {
	ps := []*property.Property{
		prop("u1", int64Ptr(100), nil),
		prop("a", int64Ptr(100000), int64Ptr(150000)),
		prop("b", int64Ptr(100000), int64Ptr(200000)),
		prop("u2", nil, int64Ptr(100)),
		prop("c", int64Ptr(100000), int64Ptr(150000)),
		prop("d", int64Ptr(100000), int64Ptr(90000)),
	}

	Rank(ps)

	require.Equal(t, []string{"b", "a", "c", "d", "u1", "u2"}, uuids(ps))
	for i := 1; i < len(ps); i++ {
		prev, cur := ps[i-1].Profit(), ps[i].Profit()
		if cur != nil {
			require.NotNil(t, prev)
			require.GreaterOrEqual(t, *prev, *cur)
		}
	}
}

func TestBuild(t *testing.T) {
	last := enrichedAt.Add(-24 * time.Hour)

	old := prop("old", int64Ptr(1), int64Ptr(2))
	old.EnrichedAt = last.Add(-time.Hour)
	elsewhere := prop("elsewhere", int64Ptr(1), int64Ptr(2))
	elsewhere.City, elsewhere.CommuneCode, elsewhere.PostalCode = "Lyon 3e Arrondissement", "69383", "69003"
	house := prop("house", int64Ptr(1), int64Ptr(2))
	house.Type = source.TypeHouse
	incomplete := prop("incomplete", nil, int64Ptr(2))

	ps := []*property.Property{
		prop("low", int64Ptr(100000), int64Ptr(110000)),
		old,
		prop("sent", int64Ptr(100000), int64Ptr(900000)),
		elsewhere,
		house,
		incomplete,
		prop("high", int64Ptr(100000), int64Ptr(300000)),
		prop("mid", int64Ptr(100000), int64Ptr(200000)),
	}

	c := customer.Customer{
		ID:                 "marie",
		Cities:             []string{"paris"},
		PropertyTypes:      []string{"appartement"},
		AddressesPerReport: 2,
	}

	r := Build(c, ps, History{LastReport: last, Sent: map[string]bool{"sent": true}})

	require.Equal(t, []string{"high", "mid"}, r.UUIDs())
	require.Equal(t, map[string]int{
		SkipBeforeLastReport: 1,
		SkipAlreadySent:      1,
		SkipOutsideArea:      1,
		SkipPropertyType:     1,
		SkipIncomplete:       1,
		SkipOverLimit:        1,
	}, r.Skipped)
	require.Equal(t, 6, r.SkippedTotal())
}

func TestBuildFirstReportDefaults(t *testing.T) {
	ps := make([]*property.Property, 0, 12)
	for i := 0; i < 12; i++ {
		ps = append(ps, prop(string(rune('a'+i)), int64Ptr(100), nil))
	}

	r := Build(customer.Customer{ID: "x"}, ps, History{})

	require.Len(t, r.Properties, customer.DefaultAddressesPerReport)
	require.Equal(t, "a", r.Properties[0].UUID)
	require.Equal(t, 2, r.Skipped[SkipOverLimit])
}

func TestInAreas(t *testing.T) {
	p := prop("x", nil, nil)

	tests := []struct {
		areas []string
		want  bool
	}{
		{nil, true},
		{[]string{"75102"}, true},
		{[]string{"75002"}, true},
		{[]string{"75"}, true},
		{[]string{"Paris"}, true},
		{[]string{"Lyon", "69003"}, false},
		{[]string{"  "}, false},
		{[]string{"2A"}, false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, InAreas(p, tt.areas), "areas %v", tt.areas)
	}
}

type staticResolver struct{ key address.Key }

func (s staticResolver) ResolveIn(context.Context, string, string, string) (address.Key, bool, error) {
	return s.key, true, nil
}

func TestEndToEnd(t *testing.T) {
	refs := reference.NewSnapshot([]source.ReferencePrice{
		{Level: source.LevelStreet, Area: "75102:Rue X", PropertyType: source.TypeAll, PricePerSqm: 8000},
	})
	key := address.Key{Number: "5", Street: "rue x", PostalCode: "75002", Commune: "Paris", CityCode: "75102", Confidence: 0.9}
	e := property.NewEnricher(staticResolver{key: key}, nil, refs, nil)

	p, err := e.Enrich(context.Background(), source.TransactionRecord{
		Source:      "dvf",
		MutationID:  "2023-1",
		Address:     "5 Rue X",
		City:        "Paris",
		PostalCode:  "75002",
		CommuneCode: "75102",
		Price:       int64Ptr(300000),
		SaleDate:    time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Surface:     float64Ptr(50),
		Rooms:       intPtr(2),
		Type:        source.TypeApartment,
	})
	require.NoError(t, err)
	require.Equal(t, int64(400000), *p.EstimatedPrice)
	require.Equal(t, int64(100000), *p.Profit())

	other := prop("other", int64Ptr(100000), int64Ptr(150000))

	r := Build(customer.Customer{ID: "marie", FirstName: "Marie", Cities: []string{"Paris"}}, []*property.Property{other, p}, History{})
	require.Equal(t, []string{p.UUID, "other"}, r.UUIDs())

	html, err := Render(r, "https://example.com/logo.png", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Contains(t, html, "Bonjour Marie")
	require.Contains(t, html, "400 000 €")
	require.Contains(t, html, "+100 000 €")
	require.Contains(t, html, "50 m²")
	require.Contains(t, html, "01/01/2023")
	require.Contains(t, html, "https://example.com/logo.png")
	require.Less(t, strings.Index(html, "+100 000 €"), strings.Index(html, "+50 000 €"))
}

func TestRenderMissingFields(t *testing.T) {
	p := prop("bare", int64Ptr(250000), nil)
	p.Surface = float64Ptr(41.7)

	row := NewRow(p)
	require.Equal(t, "41", row.Surface)
	require.Equal(t, "", row.EstimatedPrice)
	require.Equal(t, "", row.Profit)
	require.Equal(t, "", row.Rooms)
	require.False(t, row.Gain)

	html, err := Render(Report{Recipient: customer.Customer{FirstName: "A"}, Properties: []*property.Property{p}}, "", time.Now())
	require.NoError(t, err)
	require.Contains(t, html, "41 m²")
	require.Contains(t, html, "250 000 €")
	require.NotContains(t, html, "<img")
	require.NotContains(t, html, "<no value>")
	require.NotContains(t, html, "N/A")
}

func TestRenderEscapes(t *testing.T) {
	p := prop("x", int64Ptr(1), nil)
	p.Address = "<script>alert(1)</script>"

	html, err := Render(Report{Properties: []*property.Property{p}}, "", time.Now())
	require.NoError(t, err)
	require.NotContains(t, html, "<script>")
}

func TestRenderEmpty(t *testing.T) {
	html, err := Render(Report{Recipient: customer.Customer{FirstName: "A"}}, "", time.Now())
	require.NoError(t, err)
	require.Contains(t, html, "Aucun nouveau bien")
}
