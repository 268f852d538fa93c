package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/evcraddock/trackimmo/internal/property"
)

func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }

func sample() []*property.Property {
	return []*property.Property{
		{
			UUID:           "u-1",
			Address:        "5 Rue X",
			City:           "Paris",
			PostalCode:     "75002",
			CommuneCode:    "75102",
			Type:           "Appartement",
			Surface:        float64Ptr(50.5),
			Price:          int64Ptr(300000),
			EstimatedPrice: int64Ptr(400000),
			SaleDate:       time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			EnergyClass:    "D",
			EnrichedAt:     time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			UUID:    "u-2",
			Address: "12, avenue \"des\" Champs",
			City:    "Lyon",
			Type:    "Maison",
		},
	}
}

type fakeLister struct {
	props []*property.Property
	opts  property.ListOptions
	err   error
}

func (f *fakeLister) List(_ context.Context, opts property.ListOptions) ([]*property.Property, error) {
	f.opts = opts
	return f.props, f.err
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, Columns, rows[0])

	first := map[string]string{}
	for i, c := range Columns {
		first[c] = rows[1][i]
	}
	require.Equal(t, "300000", first["price"])
	require.Equal(t, "400000", first["estimated_price"])
	require.Equal(t, "100000", first["profit"])
	require.Equal(t, "50.5", first["surface"])
	require.Equal(t, "2023-01-01", first["sale_date"])
	require.Equal(t, "2024-02-01T10:00:00Z", first["enriched_at"])
	require.Equal(t, "", first["rooms"])

	require.Equal(t, "12, avenue \"des\" Champs", rows[2][1])
	require.Equal(t, "", rows[2][8])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sample()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	rows, err := f.GetRows(Sheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, Columns, rows[0])
	require.Equal(t, "u-1", rows[1][0])
	require.Equal(t, "300000", rows[1][8])
	require.Equal(t, "Maison", rows[2][5])
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()
	lister := &fakeLister{props: sample()}
	s := NewService(lister, nil)
	opts := property.ListOptions{CommuneCodes: []string{"75102"}}

	n, err := s.ToFile(context.Background(), filepath.Join(dir, "props.CSV"), opts)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, opts, lister.opts)
	require.FileExists(t, filepath.Join(dir, "props.CSV"))

	n, err = s.ToFile(context.Background(), filepath.Join(dir, "props.xlsx"), opts)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	f, err := excelize.OpenFile(filepath.Join(dir, "props.xlsx"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestToFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewService(&fakeLister{}, nil).ToFile(context.Background(), filepath.Join(dir, "props.json"), property.ListOptions{})
	require.ErrorContains(t, err, "unsupported export format")
	require.NoFileExists(t, filepath.Join(dir, "props.json"))

	boom := errors.New("boom")
	_, err = NewService(&fakeLister{err: boom}, nil).ToFile(context.Background(), filepath.Join(dir, "props.csv"), property.ListOptions{})
	require.ErrorIs(t, err, boom)
	require.NoFileExists(t, filepath.Join(dir, "props.csv"))
}
