package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evcraddock/trackimmo/internal/config"
	"github.com/evcraddock/trackimmo/internal/email"
	"github.com/evcraddock/trackimmo/internal/reference"
	"github.com/evcraddock/trackimmo/internal/source"
)

const dvfCSV = "id_mutation,date_mutation,numero_disposition,nature_mutation,valeur_fonciere,adresse_numero,adresse_suffixe,adresse_nom_voie,adresse_code_voie,code_postal,code_commune,nom_commune,code_departement,lot1_surface_carrez,type_local,surface_reelle_bati,nombre_pieces_principales,longitude,latitude\n" +
	"2023-1,2023-01-01,000001,Vente,300000.0,5,,RUE X,0001,75002,75102,Paris 2e Arrondissement,75,,Appartement,50,2,2.34,48.86\n" +
	"2023-2,2023-03-10,000001,Vente,410000,12,,RUE DE LA PAIX,0002,75002,75102,Paris 2e Arrondissement,75,41.3,Appartement,,3,,\n" +
	"2023-3,2023-04-01,000001,Vente,,8,,RUE W,0005,75002,75102,Paris 2e Arrondissement,75,,Maison,,,,\n"

const banRueX = `{"type":"FeatureCollection","features":[
	{"geometry":{"type":"Point","coordinates":[2.34,48.86]},
	 "properties":{"label":"5 Rue X 75002 Paris","score":0.95,"housenumber":"5","street":"Rue X","postcode":"75002","citycode":"75102","city":"Paris","type":"housenumber"}}]}`

// upstream fakes DVF and BAN.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/dvf/2023/communes/75/75102.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, dvfCSV)
	})
	mux.HandleFunc("/ban/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(strings.ToLower(r.URL.Query().Get("q")), "rue x") {
			_, _ = fmt.Fprint(w, banRueX)
			return
		}
		_, _ = fmt.Fprint(w, `{"type":"FeatureCollection","features":[]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// setup writes a config file, a customer and a reference CSV under a temp
// home and returns the config path.
func setup(t *testing.T, srv *httptest.Server) (string, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	customers := filepath.Join(home, "customers")
	require.NoError(t, os.MkdirAll(filepath.Join(customers, "marie"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(customers, "marie", "config.json"), []byte(`{
		"first_name": "Marie", "last_name": "Curie", "email": "marie@example.com",
		"status": "active", "cities": ["75102"]
	}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(customers, "alan"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(customers, "alan", "config.json"), []byte(`{
		"first_name": "Alan", "last_name": "Turing", "email": "alan@example.com", "status": "inactive"
	}`), 0o644))

	refs := filepath.Join(home, "refs.csv")
	require.NoError(t, os.WriteFile(refs, []byte("level,area,property_type,price_per_m2\n"+
		"street,75102:Rue X,all,8000\n"+
		"commune,75102,Appartement,10000\n"), 0o644))

	cfg := fmt.Sprintf(`database:
  driver: sqlite3
  dsn: %s
sources:
  dvf_url: %s/dvf
  ban_url: %s/ban/
  dpe_url: %s/dpe
  reference_url: %s/prix
  timeout: 5s
  max_attempts: 1
  retry_base_delay: 10ms
  retry_max_delay: 20ms
  min_interval: 0s
enrich:
  workers: 2
  skip_energy: true
collect:
  months_back: 12
  parallelism: 2
smtp:
  host: smtp.example.com
  port: "587"
  from: rapport@trackimmo.fr
report:
  customers_dir: %s
  test_email: test@example.com
`, filepath.Join(home, "trackimmo.db"), srv.URL, srv.URL, srv.URL, srv.URL, customers)

	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, refs
}

type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
}

func (f *fakeSender) Send(msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func useSender(t *testing.T) *fakeSender {
	t.Helper()
	f := &fakeSender{}
	prev := newSender
	newSender = func(config.Config) email.Sender { return f }
	t.Cleanup(func() { newSender = prev })
	return f
}

func TestPipeline(t *testing.T) {
	srv := upstream(t)
	cfgPath, refs := setup(t, srv)
	sender := useSender(t)

	run := func(args ...string) string {
		t.Helper()
		out, err := executeCommand(append([]string{"--config", cfgPath}, args...)...)
		require.NoError(t, err, out)
		return out
	}

	out := run("references", "import", refs)
	require.Contains(t, out, "Imported 2 reference prices")

	var collected collectStats
	out = run("--format", "json", "collect", "--commune", "75102", "--from", "2023-01-01", "--to", "2023-12-31")
	require.NoError(t, json.Unmarshal([]byte(out), &collected))
	require.Equal(t, collectStats{Communes: 1, Fetched: 3, Inserted: 3}, collected)

	out = run("--format", "json", "collect", "--commune", "75102", "--from", "2023-01-01", "--to", "2023-12-31")
	require.NoError(t, json.Unmarshal([]byte(out), &collected))
	require.Equal(t, 3, collected.Unchanged)
	require.Zero(t, collected.Inserted)

	out = run("process")
	require.Contains(t, out, "Enriched:     2")
	require.Contains(t, out, "unresolved: 1")
	require.Contains(t, out, "Skipped:      1 (no price=1)")

	out = run("process")
	require.Contains(t, out, "Transactions: 0")

	out = run("report", "send", "--dry-run")
	require.Contains(t, out, "To: marie@example.com")
	require.Contains(t, out, "+100 000 €")
	require.Contains(t, out, "+3 000 €")
	require.Less(t, strings.Index(out, "+100 000 €"), strings.Index(out, "+3 000 €"))
	require.NotContains(t, out, "alan@example.com")
	require.Empty(t, sender.sent)

	out = run("--format", "json", "report", "send", "--test")
	var results []sendResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	require.Equal(t, statusSent, results[0].Status)
	require.Equal(t, "test@example.com", results[0].To)

	out = run("--format", "json", "report", "send")
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Equal(t, statusSent, results[0].Status)
	require.Equal(t, 2, results[0].Properties)

	require.Len(t, sender.sent, 2)
	require.Equal(t, []string{"marie@example.com"}, sender.sent[1].To)
	require.True(t, strings.HasPrefix(sender.sent[1].Subject, "Rapport Immo - "))

	out = run("--format", "json", "report", "send")
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Equal(t, statusEmpty, results[0].Status)
	require.Len(t, sender.sent, 2)

	exported := filepath.Join(t.TempDir(), "props.csv")
	out = run("export", exported, "--commune", "75102")
	require.Contains(t, out, "Exported 2 properties")
	require.FileExists(t, exported)

	var info statusInfo
	out = run("--format", "json", "status")
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.Equal(t, 3, info.Transactions)
	require.Equal(t, 2, info.Properties)
	require.Equal(t, 2, info.References)
	require.Equal(t, 2, info.Customers)
	require.True(t, info.SMTP)
}

type stubFetcher struct {
	mu    sync.Mutex
	areas []string
}

func (f *stubFetcher) Fetch(_ context.Context, _, _, area string) ([]source.ReferencePrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.areas = append(f.areas, area)
	return []source.ReferencePrice{
		{Level: source.LevelCommune, Area: area, PropertyType: source.TypeApartment, PricePerSqm: 9000, Source: "meilleursagents"},
		{Level: source.LevelCommune, Area: area, PropertyType: source.TypeHouse, PricePerSqm: 7000, Source: "meilleursagents"},
	}, nil
}

func useFetcher(t *testing.T) *stubFetcher {
	t.Helper()
	f := &stubFetcher{}
	prev := newReferenceFetcher
	newReferenceFetcher = func(config.Sources, *slog.Logger) reference.Fetcher { return f }
	t.Cleanup(func() { newReferenceFetcher = prev })
	return f
}

func TestProcessFetchMissing(t *testing.T) {
	srv := upstream(t)
	cfgPath, _ := setup(t, srv)
	f := useFetcher(t)

	run := func(args ...string) string {
		t.Helper()
		out, err := executeCommand(append([]string{"--config", cfgPath}, args...)...)
		require.NoError(t, err, out)
		return out
	}

	run("collect", "--commune", "75102", "--from", "2023-01-01", "--to", "2023-12-31")

	out := run("process", "--fetch-missing")
	require.Contains(t, out, "References:   1 fetched, 0 failed")
	require.Contains(t, out, "estimated:  2")
	require.Equal(t, []string{"75102"}, f.areas)

	out = run("references", "list")
	require.Contains(t, out, "meilleursagents")

	// Communes with a reference are not fetched again.
	out = run("process", "--all", "--fetch-missing")
	require.NotContains(t, out, "References:")
	require.Len(t, f.areas, 1)
}

func TestReportSendUnknownCustomer(t *testing.T) {
	srv := upstream(t)
	cfgPath, _ := setup(t, srv)
	useSender(t)

	_, err := executeCommand("--config", cfgPath, "report", "send", "--customer", "nobody")
	require.Error(t, err)
}

func TestCollectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	cfgPath, _ := setup(t, srv)

	out, err := executeCommand("--config", cfgPath, "collect", "--commune", "75102", "--from", "2023-01-01", "--to", "2023-12-31")
	require.ErrorIs(t, err, errCollectFailed)
	require.Contains(t, out, "75102:")
}

func TestCustomersList(t *testing.T) {
	srv := upstream(t)
	cfgPath, _ := setup(t, srv)

	out, err := executeCommand("--config", cfgPath, "customers", "list")
	require.NoError(t, err)
	require.Contains(t, out, "marie@example.com")
	require.Contains(t, out, "Alan Turing")
}
