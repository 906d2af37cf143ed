// Package catalog loads the product catalog from CSV and serves it read-only.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"shop-assistant/internal/domain"
)

const (
	defaultCategory    = "General"
	defaultBrand       = "Generic"
	defaultShopBrand   = "EVOLOVE"
	defaultRating      = 4.0
	maxDescriptionLen  = 500
	maxShopifyFeatures = 10
)

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// Catalog is an immutable list of published products.
type Catalog struct {
	products []domain.Product
	byID     map[string]int
}

func New(products []domain.Product) *Catalog {
	c := &Catalog{
		products: slices.Clone(products),
		byID:     make(map[string]int, len(products)),
	}
	for i, p := range c.products {
		if _, dup := c.byID[p.ID]; !dup {
			c.byID[p.ID] = i
		}
	}
	return c
}

// Load reads and parses the CSV file at path.
func Load(path string) (*Catalog, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	products, variants, err := Parse(f)
	if err != nil {
		return nil, 0, err
	}
	return New(products), variants, nil
}

// Products returns the catalog in file order. The slice is shared and must
// not be modified.
func (c *Catalog) Products() []domain.Product {
	return c.products
}

func (c *Catalog) Find(id string) (domain.Product, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Product{}, false
	}
	return c.products[i], true
}

func (c *Catalog) Len() int {
	return len(c.products)
}

// Parse reads product rows in either the simple format (product_id, name,
// price, ...) or a Shopify product export (Handle, Title, Variant Price, ...).
// Variants sharing a handle collapse to the first one; unpublished and
// unpriced rows are dropped. The second return value counts the accepted
// rows before de-duplication.
func Parse(r io.Reader) ([]domain.Product, int, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	var (
		products []domain.Product
		seen     = make(map[string]bool)
		variants int
	)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("catalog: read line %d: %w", line, err)
		}
		row := csvRow{cols: cols, rec: rec}

		p, ok := parseRow(row)
		if !ok || p.Price <= 0 {
			continue
		}
		variants++
		if seen[p.Handle] || !p.Published {
			continue
		}
		seen[p.Handle] = true
		products = append(products, p)
	}
	return products, variants, nil
}

func parseRow(row csvRow) (domain.Product, bool) {
	if id, name := row.get("product_id"), row.get("name"); id != "" && name != "" {
		return domain.Product{
			ID:          id,
			Handle:      id,
			Name:        name,
			Category:    orDefault(row.get("category"), defaultCategory),
			Price:       parseFloat(row.get("price")),
			Description: row.get("description"),
			Features:    splitNonEmpty(row.get("features"), "|", 0),
			Brand:       orDefault(row.get("brand"), defaultBrand),
			ImageURL:    row.get("image_url"),
			Link:        orDefault(row.get("product_url"), row.get("link")),
			Rating:      orDefaultFloat(parseFloat(row.get("rating")), defaultRating),
			Published:   true,
		}, true
	}

	handle, title, price := row.get("Handle"), row.get("Title"), parseFloat(row.get("Variant Price"))
	if handle == "" || title == "" || price <= 0 {
		return domain.Product{}, false
	}
	description := title
	if body := row.get("Body (HTML)"); body != "" {
		description = stripHTML(body)
	}
	p := domain.Product{
		ID:          orDefault(row.get("Variant SKU"), handle),
		Handle:      handle,
		Name:        title,
		Category:    orDefault(row.get("Type"), defaultCategory),
		Price:       price,
		Description: truncateRunes(description, maxDescriptionLen),
		Features:    splitNonEmpty(row.get("Tags"), ",", maxShopifyFeatures),
		Brand:       orDefault(row.get("Vendor"), defaultShopBrand),
		Size:        row.get("Option1 Value"),
		Color:       row.get("Option2 Value"),
		ImageURL:    row.get("Image Src"),
		Rating:      defaultRating,
		Published:   strings.EqualFold(row.get("Published"), "true"),
	}
	if compare := parseFloat(row.get("Variant Compare At Price")); compare > 0 {
		p.OriginalPrice = &compare
	}
	return p, true
}

type csvRow struct {
	cols map[string]int
	rec  []string
}

func (r csvRow) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func stripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTag.ReplaceAllString(s, "")))
}

func splitNonEmpty(s, sep string, limit int) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimPrefix(s, "$"), 64)
	if err != nil {
		return 0
	}
	return v
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
