package dpe

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/evcraddock/trackimmo/internal/source"
)

// minGeoScore is the minimum geocoding score accepted on dpe-france lines.
const minGeoScore = 0.8

// dwellingTypes are the dpe-france building types describing housing.
var dwellingTypes = map[string]bool{
	"Maison Individuelle": true,
	"Logement":            true,
	"Bâtiment collectif à usage principal d'habitation": true,
}

// v1Line is a dpe-france line.
type v1Line struct {
	GeoAdresse   string   `json:"geo_adresse"`
	GeoScore     float64  `json:"geo_score"`
	CodePostal   string   `json:"code_postal"`
	EnergyClass  string   `json:"classe_consommation_energie"`
	GESClass     string   `json:"classe_estimation_ges"`
	EnergyValue  *float64 `json:"consommation_energie"`
	GESValue     *float64 `json:"estimation_ges"`
	BuildingType string   `json:"tr002_type_batiment_description"`
	Date         string   `json:"date_etablissement_dpe"`
}

// v2Line is a line of the v2 datasets (dpe03existant, dpe02neuf).
type v2Line struct {
	AdresseBAN   string   `json:"adresse_ban"`
	ScoreBAN     float64  `json:"score_ban"`
	CodePostal   string   `json:"code_postal_ban"`
	EnergyClass  string   `json:"etiquette_dpe"`
	GESClass     string   `json:"etiquette_ges"`
	EnergyValue  *float64 `json:"conso_5_usages_par_m2_ep"`
	GESValue     *float64 `json:"emission_ges_5_usages_par_m2"`
	BuildingType string   `json:"type_batiment"`
	Date         string   `json:"date_etablissement_dpe"`
}

type linesResponse[T any] struct {
	Results *[]T `json:"results"`
}

func queryV1(q Query) url.Values {
	return url.Values{
		"q":      {strings.TrimSpace(q.Address + " " + q.City)},
		"select": {"geo_adresse,geo_score,code_postal,date_etablissement_dpe,classe_consommation_energie,classe_estimation_ges,consommation_energie,estimation_ges,tr002_type_batiment_description"},
		"sort":   {"-geo_score,-date_etablissement_dpe"},
	}
}

func queryV2(q Query) url.Values {
	return url.Values{
		"q":      {strings.TrimSpace(q.Address + " " + q.City)},
		"select": {"adresse_ban,score_ban,code_postal_ban,date_etablissement_dpe,etiquette_dpe,etiquette_ges,conso_5_usages_par_m2_ep,emission_ges_5_usages_par_m2,type_batiment"},
		"sort":   {"-date_etablissement_dpe"},
	}
}

func decodeV1(body []byte) ([]source.EnergyRecord, error) {
	var resp linesResponse[v1Line]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", source.ErrParse, err)
	}
	if resp.Results == nil {
		return nil, fmt.Errorf("%w: missing results", source.ErrParse)
	}

	var out []source.EnergyRecord
	for _, l := range *resp.Results {
		if l.GeoAdresse == "" || l.GeoScore < minGeoScore {
			continue
		}
		if l.BuildingType != "" && !dwellingTypes[l.BuildingType] {
			continue
		}
		out = append(out, source.EnergyRecord{
			Dataset:      "dpe-france",
			Address:      l.GeoAdresse,
			PostalCode:   l.CodePostal,
			EnergyClass:  normalizeClass(l.EnergyClass),
			GESClass:     normalizeClass(l.GESClass),
			EnergyValue:  l.EnergyValue,
			GESValue:     l.GESValue,
			BuildingType: l.BuildingType,
			Date:         parseDate(l.Date),
		})
	}
	return out, nil
}

func decodeV2(dataset string) func([]byte) ([]source.EnergyRecord, error) {
	return func(body []byte) ([]source.EnergyRecord, error) {
		var resp linesResponse[v2Line]
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: %w", source.ErrParse, err)
		}
		if resp.Results == nil {
			return nil, fmt.Errorf("%w: missing results", source.ErrParse)
		}

		var out []source.EnergyRecord
		for _, l := range *resp.Results {
			if l.AdresseBAN == "" {
				continue
			}
			out = append(out, source.EnergyRecord{
				Dataset:      dataset,
				Address:      l.AdresseBAN,
				PostalCode:   l.CodePostal,
				EnergyClass:  normalizeClass(l.EnergyClass),
				GESClass:     normalizeClass(l.GESClass),
				EnergyValue:  l.EnergyValue,
				GESValue:     l.GESValue,
				BuildingType: l.BuildingType,
				Date:         parseDate(l.Date),
			})
		}
		return out, nil
	}
}

// normalizeClass keeps only the A-G energy labels.
func normalizeClass(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= 'A' && s[0] <= 'G' {
		return s
	}
	return ""
}

func parseDate(s string) time.Time {
	if len(s) >= 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
