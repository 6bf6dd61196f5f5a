package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer turns a category and product summary into an email payload.
type Renderer struct {
	pages map[Category]*template.Template
}

// NewRenderer parses the embedded templates. Each category shares the
// layout and overrides its "content" block.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[Category]*template.Template)}
	for _, cat := range []Category{
		CategoryWelcome,
		CategoryBackInStock,
		CategoryLowestPriceEver,
		CategoryThresholdDiscount,
		CategoryPriceDrop,
	} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+string(cat)+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", cat, err)
		}
		r.pages[cat] = t
	}
	return r, nil
}

type templateData struct {
	Title      string
	URL        string
	Image      string
	Currency   string
	Price      string
	Lowest     string
	Highest    string
	PercentOff string
}

// Render builds the subject and HTML body for cat.
func (r *Renderer) Render(cat Category, s Summary) (Payload, error) {
	t, ok := r.pages[cat]
	if !ok {
		return Payload{}, fmt.Errorf("no template for category %q", cat)
	}

	data := templateData{
		Title:      s.Title,
		URL:        s.URL,
		Image:      s.Image,
		Currency:   s.Currency,
		Price:      s.CurrentPrice.StringFixed(2),
		Lowest:     s.LowestPrice.StringFixed(2),
		Highest:    s.HighestPrice.StringFixed(2),
		PercentOff: percentOff(s).String(),
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return Payload{}, fmt.Errorf("render %s: %w", cat, err)
	}
	return Payload{Subject: subject(cat, s.Title), Body: buf.String()}, nil
}

func subject(cat Category, title string) string {
	switch cat {
	case CategoryWelcome:
		return fmt.Sprintf("Welcome to Price Tracking for %s", shorten(title))
	case CategoryBackInStock:
		return fmt.Sprintf("%s is now back in stock!", title)
	case CategoryLowestPriceEver:
		return fmt.Sprintf("Lowest Price Alert for %s", title)
	case CategoryThresholdDiscount:
		return fmt.Sprintf("Discount Alert for %s", title)
	default:
		return fmt.Sprintf("Price Drop Alert for %s", title)
	}
}

func shorten(title string) string {
	r := []rune(title)
	if len(r) <= shortTitleLen {
		return title
	}
	return string(r[:shortTitleLen]) + "..."
}

func percentOff(s Summary) decimal.Decimal {
	if !s.HighestPrice.IsPositive() {
		return decimal.Zero
	}
	return s.HighestPrice.Sub(s.CurrentPrice).Div(s.HighestPrice).Mul(decimal.NewFromInt(100)).Round(0)
}
