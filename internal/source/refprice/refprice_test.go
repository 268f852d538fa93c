package refprice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evcraddock/trackimmo/internal/source"
)

func TestLoad(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in := "level,area,property_type,price_per_m2\n" +
		"street,75102:Rue de la Paix,Appartement,14500\n" +
		"commune,75102,all,\"10 250 €\"\n" +
		"department,75,maison,\"9500,5\"\n"

	prices, err := Load(strings.NewReader(in), now)
	require.NoError(t, err)
	require.Len(t, prices, 3)

	require.Equal(t, source.ReferencePrice{
		Level: source.LevelStreet, Area: "75102:Rue de la Paix", PropertyType: source.TypeApartment,
		PricePerSqm: 14500, Source: "csv", FetchedAt: now,
	}, prices[0])
	require.Equal(t, source.TypeAll, prices[1].PropertyType)
	require.Equal(t, 10250.0, prices[1].PricePerSqm)
	require.Equal(t, source.TypeHouse, prices[2].PropertyType)
	require.Equal(t, 9500.5, prices[2].PricePerSqm)
}

func TestLoadLegacyHeader(t *testing.T) {
	in := "\ufeffcity_name,zipcode,property_type,price_per_m2\nLyon,69003,Appartement,5100\n"

	prices, err := Load(strings.NewReader(in), time.Now())
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.Equal(t, source.LevelCommune, prices[0].Level)
	require.Equal(t, "69003", prices[0].Area)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"bad header", "a,b,c,d\n"},
		{"bad level", "level,area,property_type,price_per_m2\nstate,75,all,100\n"},
		{"bad type", "level,area,property_type,price_per_m2\ncommune,75102,castle,100\n"},
		{"bad price", "level,area,property_type,price_per_m2\ncommune,75102,all,cheap\n"},
		{"negative price", "level,area,property_type,price_per_m2\ncommune,75102,all,-3\n"},
		{"empty area", "level,area,property_type,price_per_m2\ncommune,,all,100\n"},
		{"short line", "level,area,property_type,price_per_m2\ncommune,75102\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.in), time.Now())
			require.ErrorIs(t, err, source.ErrParse)
		})
	}
}

func TestParsePriceText(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"10 250 €", 10250, false},
		{"10 250 €", 10250, false},
		{"4 312,5 €/m²", 4312.5, false},
		{"8000", 8000, false},
		{"n/a", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParsePriceText(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Paris":             "paris",
		"Saint-Étienne":     "saint-etienne",
		"L'Haÿ-les-Roses":   "l-hay-les-roses",
		" Aix en Provence ": "aix-en-provence",
	}
	for in, want := range tests {
		require.Equal(t, want, Slug(in), in)
	}
}

func TestScraperFetch(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var gotURL string
	s := &Scraper{
		baseURL: "https://example.test/prix-immobilier",
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     func() time.Time { return now },
		read: func(_ context.Context, url string) (string, string, error) {
			gotURL = url
			return "10 250 €", "11 020 €", nil
		},
	}

	prices, err := s.Fetch(context.Background(), "Paris", "75002", "75102")
	require.NoError(t, err)
	require.Equal(t, "https://example.test/prix-immobilier/paris-75002/", gotURL)
	require.Len(t, prices, 2)
	require.Equal(t, source.TypeApartment, prices[0].PropertyType)
	require.Equal(t, 10250.0, prices[0].PricePerSqm)
	require.Equal(t, source.TypeHouse, prices[1].PropertyType)
	require.Equal(t, 11020.0, prices[1].PricePerSqm)
	require.Equal(t, "75102", prices[1].Area)
	require.Equal(t, now, prices[1].FetchedAt)
}

func TestScraperFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		apt     string
		house   string
		readErr error
		wantErr error
	}{
		{"browser failure", "", "", errors.New("chrome not found"), source.ErrSourceUnavailable},
		{"missing elements", "10 250 €", "", nil, source.ErrParse},
		{"garbage", "soon", "11 020 €", nil, source.ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Scraper{
				baseURL: "https://example.test",
				logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
				now:     time.Now,
				read: func(context.Context, string) (string, string, error) {
					return tt.apt, tt.house, tt.readErr
				},
			}
			_, err := s.Fetch(context.Background(), "Paris", "75002", "75102")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
