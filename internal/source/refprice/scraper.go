package refprice

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/chromedp/chromedp"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/evcraddock/trackimmo/internal/config"
	"github.com/evcraddock/trackimmo/internal/source"
)

const (
	apartmentSelector = "div.prices-summary__apartment-prices .prices-summary__price-range .big-number"
	houseSelector     = "div.prices-summary__house-prices .prices-summary__price-range .big-number"
)

// pageReader returns the apartment and house price texts of a page.
type pageReader func(ctx context.Context, url string) (apartment, house string, err error)

// Scraper reads commune prices from MeilleursAgents with a headless browser.
type Scraper struct {
	baseURL string
	read    pageReader
	logger  *slog.Logger
	now     func() time.Time
}

// NewScraper creates a scraper using the browser settings in cfg.
func NewScraper(cfg config.Sources, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	b := &browser{
		execPath:  findChromeBinary(cfg.ChromeBin),
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
	}
	return &Scraper{
		baseURL: strings.TrimSuffix(cfg.ReferenceURL, "/"),
		read:    b.read,
		logger:  logger,
		now:     time.Now,
	}
}

// PageURL returns the MeilleursAgents page of a commune.
func (s *Scraper) PageURL(city, postalCode string) string {
	return fmt.Sprintf("%s/%s-%s/", s.baseURL, Slug(city), postalCode)
}

// Fetch returns the apartment and house commune-level prices for a city.
// area is the key the prices are stored under (INSEE code or postal code).
func (s *Scraper) Fetch(ctx context.Context, city, postalCode, area string) ([]source.ReferencePrice, error) {
	url := s.PageURL(city, postalCode)
	s.logger.Info("fetching reference prices", "city", city, "postal_code", postalCode)

	aptText, houseText, err := s.read(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w: %w", url, source.ErrSourceUnavailable, err)
	}
	if aptText == "" || houseText == "" {
		return nil, fmt.Errorf("%w: price elements missing on %s", source.ErrParse, url)
	}

	apt, err := ParsePriceText(aptText)
	if err != nil {
		return nil, fmt.Errorf("%w: apartment price: %w", source.ErrParse, err)
	}
	house, err := ParsePriceText(houseText)
	if err != nil {
		return nil, fmt.Errorf("%w: house price: %w", source.ErrParse, err)
	}

	now := s.now()
	return []source.ReferencePrice{
		{Level: source.LevelCommune, Area: area, PropertyType: source.TypeApartment, PricePerSqm: apt, Source: "meilleursagents", FetchedAt: now},
		{Level: source.LevelCommune, Area: area, PropertyType: source.TypeHouse, PricePerSqm: house, Source: "meilleursagents", FetchedAt: now},
	}, nil
}

// Slug lower-cases a city name, strips accents and joins words with dashes.
func Slug(city string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, city)
	if err != nil {
		s = city
	}
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\'' || r == '-'
	}), "-")
}

type browser struct {
	execPath  string
	userAgent string
	timeout   time.Duration
}

func (b *browser) read(ctx context.Context, url string) (string, string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if b.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.userAgent))
	}
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	bctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancel()

	if b.timeout > 0 {
		var cancelTimeout context.CancelFunc
		bctx, cancelTimeout = context.WithTimeout(bctx, 2*b.timeout)
		defer cancelTimeout()
	}

	js := fmt.Sprintf(`(() => {
		const text = s => { const e = document.querySelector(s); return e ? e.textContent.trim() : ""; };
		return [text(%q), text(%q)];
	})()`, apartmentSelector, houseSelector)

	var out []string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(js, &out),
	)
	if err != nil {
		return "", "", err
	}
	if len(out) != 2 {
		return "", "", nil
	}
	return out[0], out[1], nil
}

// findChromeBinary returns the configured browser or the first one found in PATH.
// An empty result lets chromedp use its own lookup.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
