package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-pkgz/lgr"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/mkrogh/garnscope/pkg/domain"
)

// xmlProduct mirrors one <produkt> element of the partner feed schema. All
// leaf values are kept as strings; numeric fields are parsed explicitly
// during mapping.
type xmlProduct struct {
	Retailer     string `xml:"forhandler"`
	Category     string `xml:"kategorinavn"`
	Brand        string `xml:"brand"`
	Name         string `xml:"produktnavn"`
	ProductID    string `xml:"produktid"`
	NewPrice     string `xml:"nypris"`
	ListPrice    string `xml:"glpris"`
	FreightCost  string `xml:"fragtomk"`
	Stock        string `xml:"lagerantal"`
	DeliveryTime string `xml:"leveringstid"`
	Color        string `xml:"color"`
	URL          string `xml:"vareurl"`
}

// xmlFeed is the feed document root. A feed with zero or one <produkt>
// decodes the same way as one with many.
type xmlFeed struct {
	XMLName  xml.Name     `xml:"produkter"`
	Products []xmlProduct `xml:"produkt"`
}

// ParserConfig holds feed parser settings
type ParserConfig struct {
	// CategoryMarker is the substring a product's category must contain
	// (case-insensitive) to pass filtering, e.g. "garn"
	CategoryMarker string
	// UnfilteredRetailers lists retailer names whose feeds bypass the
	// category filter entirely; their category taxonomy doesn't reliably
	// label yarn
	UnfilteredRetailers []string
}

// Parser converts raw retailer feed documents into canonical products
type Parser struct {
	categoryMarker string
	unfiltered     map[string]bool
}

// NewParser creates a feed parser. The category marker defaults to "garn".
func NewParser(cfg ParserConfig) *Parser {
	marker := strings.ToLower(strings.TrimSpace(cfg.CategoryMarker))
	if marker == "" {
		marker = "garn"
	}

	unfiltered := make(map[string]bool, len(cfg.UnfilteredRetailers))
	for _, name := range cfg.UnfilteredRetailers {
		unfiltered[strings.ToLower(strings.TrimSpace(name))] = true
	}

	return &Parser{categoryMarker: marker, unfiltered: unfiltered}
}

// Parse decodes a raw feed document into canonical products, applying the
// category filter unless the named retailer is in the unfiltered carve-out.
// Feeds are ISO-8859-1 encoded in practice; the document is decoded before
// XML parsing rather than assumed UTF-8.
func (p *Parser) Parse(data []byte, retailerName string) ([]domain.Product, error) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), charmap.ISO8859_1.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("decode feed encoding: %w", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(decoded))
	// content is already UTF-8 regardless of what the declaration claims
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	var doc xmlFeed
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed xml: %w", err)
	}

	keepAll := p.unfiltered[strings.ToLower(strings.TrimSpace(retailerName))]

	products := make([]domain.Product, 0, len(doc.Products))
	for _, raw := range doc.Products {
		if !keepAll && !strings.Contains(strings.ToLower(raw.Category), p.categoryMarker) {
			continue
		}
		products = append(products, domain.Product{
			RetailerName:        strings.TrimSpace(raw.Retailer),
			ProductID:           strings.TrimSpace(raw.ProductID),
			Brand:               optionalText(raw.Brand),
			Name:                strings.TrimSpace(raw.Name),
			Category:            optionalText(raw.Category),
			PriceBeforeDiscount: optionalPrice(raw.ListPrice),
			PriceAfterDiscount:  optionalPrice(raw.NewPrice),
			FreightCost:         optionalPrice(raw.FreightCost),
			StockStatus:         optionalText(raw.Stock),
			DeliveryTime:        optionalText(raw.DeliveryTime),
			Color:               optionalText(raw.Color),
			URL:                 strings.TrimSpace(raw.URL),
		})
	}

	lgr.Printf("[DEBUG] parsed feed for %q: %d products, %d kept", retailerName, len(doc.Products), len(products))
	return products, nil
}

// optionalText maps blank feed values to nil, never to empty strings
func optionalText(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// optionalPrice parses a feed price field, nil when blank or unparsable
func optionalPrice(v string) *float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}
