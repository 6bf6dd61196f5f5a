package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/albapepper/pricewise/internal/product"
)

// Selectors are tried in order; the first one yielding a value wins.
var (
	titleSelectors = []string{"#productTitle", "#title", "h1"}

	currentPriceSelectors = []string{
		".priceToPay .a-offscreen",
		".priceToPay span.a-price-whole",
		"#corePriceDisplay_desktop_feature_div .a-price .a-offscreen",
		".a.size.base.a-color-price",
		".a-button-selected .a-color-base",
		"[itemprop=price]",
	}

	originalPriceSelectors = []string{
		"#priceblock_ourprice",
		".a-price.a-text-price span.a-offscreen",
		"#listPrice",
		"#priceblock_dealprice",
		".a-size-base.a-color-price",
	}

	descriptionSelectors = []string{
		"#feature-bullets .a-list-item",
		".a-expander-content p",
		"#productDescription p",
	}
)

var (
	priceRe       = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	percentRe     = regexp.MustCompile(`\d+(?:\.\d+)?`)
	unavailableRe = regexp.MustCompile(`(?i)currently unavailable|out of stock`)
)

var errNoPrice = errors.New("no price found")

// Parse extracts a listing from a product page.
func Parse(page []byte) (product.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return product.Listing{}, fmt.Errorf("parse html: %w", err)
	}

	title := firstText(doc, titleSelectors)
	if title == "" {
		return product.Listing{}, errors.New("no title found")
	}

	current, ok := firstPrice(doc, currentPriceSelectors)
	if !ok {
		return product.Listing{}, errNoPrice
	}
	original, _ := firstPrice(doc, originalPriceSelectors)

	return product.Listing{
		Title:         title,
		Currency:      extractCurrency(doc),
		Image:         extractImage(doc),
		Description:   extractDescription(doc),
		CurrentPrice:  current,
		OriginalPrice: original,
		DiscountRate:  extractDiscount(doc),
		InStock:       !unavailableRe.MatchString(strings.TrimSpace(doc.Find("#availability").First().Text())),
	}, nil
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// firstPrice returns the first positive price found under selectors.
// Attribute "content" is honoured for microdata price tags.
func firstPrice(doc *goquery.Document, selectors []string) (decimal.Decimal, bool) {
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		raw := strings.TrimSpace(node.Text())
		if c, ok := node.Attr("content"); ok && raw == "" {
			raw = c
		}
		if p, ok := parsePrice(raw); ok {
			return p, true
		}
	}
	return decimal.Zero, false
}

// parsePrice normalizes "$1,299.99" style text to a decimal.
func parsePrice(s string) (decimal.Decimal, bool) {
	m := priceRe.FindString(s)
	if m == "" {
		return decimal.Zero, false
	}
	m = strings.TrimSuffix(strings.ReplaceAll(m, ",", ""), ".")
	d, err := decimal.NewFromString(m)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func extractCurrency(doc *goquery.Document) string {
	sym := strings.TrimSpace(doc.Find(".a-price-symbol").First().Text())
	if sym == "" {
		if c, ok := doc.Find("[itemprop=priceCurrency]").First().Attr("content"); ok {
			return c
		}
		return ""
	}
	r := []rune(sym)
	return string(r[0])
}

func extractDiscount(doc *goquery.Document) decimal.Decimal {
	m := percentRe.FindString(doc.Find(".savingsPercentage").First().Text())
	if m == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// extractImage reads the dynamic image map ({"url": [w, h], ...}) and picks
// the first URL in sorted order, falling back to the plain src.
func extractImage(doc *goquery.Document) string {
	for _, sel := range []string{"#imgBlkFront", "#landingImage"} {
		node := doc.Find(sel).First()
		if raw, ok := node.Attr("data-a-dynamic-image"); ok && raw != "" {
			var urls map[string]json.RawMessage
			if err := json.Unmarshal([]byte(raw), &urls); err == nil && len(urls) > 0 {
				keys := make([]string, 0, len(urls))
				for k := range urls {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				return keys[0]
			}
		}
		if src, ok := node.Attr("src"); ok && src != "" {
			return src
		}
	}
	if c, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		return c
	}
	return ""
}

func extractDescription(doc *goquery.Document) string {
	for _, sel := range descriptionSelectors {
		var parts []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return ""
}
