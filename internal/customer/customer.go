// Package customer loads report recipients from their config.json files and
// keeps track of what was sent to them.
package customer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/evcraddock/trackimmo/internal/logging"
)

// DefaultAddressesPerReport is used when a customer does not set one.
const DefaultAddressesPerReport = 10

// StatusActive is the only status that receives reports.
const StatusActive = "active"

// ErrNotFound is returned when a customer directory has no config.json.
var ErrNotFound = errors.New("customer not found")

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource("customer.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("customer.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Customer is a report recipient.
type Customer struct {
	ID                 string   `json:"-"`
	FirstName          string   `json:"first_name"`
	LastName           string   `json:"last_name"`
	Email              string   `json:"email"`
	Status             string   `json:"status"`
	CompanyName        string   `json:"company_name,omitempty"`
	Cities             []string `json:"cities,omitempty"`
	PropertyTypes      []string `json:"property_types,omitempty"`
	AddressesPerReport int      `json:"addresses_per_report,omitempty"`
}

// Name returns the full name.
func (c Customer) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Active reports whether the customer receives reports.
func (c Customer) Active() bool {
	return c.Status == StatusActive
}

// Limit returns the number of properties per report.
func (c Customer) Limit() int {
	if c.AddressesPerReport > 0 {
		return c.AddressesPerReport
	}
	return DefaultAddressesPerReport
}

// Parse validates data against the customer schema and decodes it.
func Parse(id string, data []byte) (Customer, error) {
	s, err := compiledSchema()
	if err != nil {
		return Customer{}, err
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Customer{}, fmt.Errorf("customer %s: unmarshal: %w", id, err)
	}
	if err := s.Validate(v); err != nil {
		return Customer{}, fmt.Errorf("customer %s: config does not match schema: %w", id, err)
	}

	var c Customer
	if err := json.Unmarshal(data, &c); err != nil {
		return Customer{}, fmt.Errorf("customer %s: %w", id, err)
	}
	c.ID = id
	return c, nil
}

// Store reads customers from <dir>/<id>/config.json.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Load returns the customer with the given id.
func (s *Store) Load(id string) (Customer, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return Customer{}, fmt.Errorf("invalid customer id %q", id)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id, "config.json"))
	if errors.Is(err, os.ErrNotExist) {
		return Customer{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Customer{}, fmt.Errorf("reading customer %s: %w", id, err)
	}
	return Parse(id, data)
}

// List returns every customer with a valid config, sorted by id. Invalid
// configs are logged and skipped. A missing directory yields no customers.
func (s *Store) List() ([]Customer, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading customers directory: %w", err)
	}

	var out []Customer
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		c, err := s.Load(e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("skipping customer", "id", e.Name(), logging.Err(err))
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
