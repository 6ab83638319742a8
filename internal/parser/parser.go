// Package parser extracts structured business fields from rendered
// map-search HTML. Every field is tried against an ordered chain of
// selector strategies and the first non-empty match wins, which keeps
// the parser tolerant of markup drift in the source pages. Parsing
// never fails on malformed input; absent fields are simply omitted.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crashlens/leadcrawler/internal/leads"
)

// Config controls parser behavior.
type Config struct {
	// PhoneStripCharset lists separator characters removed from raw phone
	// numbers before validation. Every other non-digit is stripped too.
	PhoneStripCharset string
	// BaseURL prefixes relative listing links.
	BaseURL string
}

// Parser turns rendered card and detail HTML into records.
type Parser struct {
	cfg Config
}

// New builds a Parser, filling in defaults for zero-value config.
func New(cfg Config) *Parser {
	if cfg.PhoneStripCharset == "" {
		cfg.PhoneStripCharset = defaultPhoneStripCharset
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.google.com"
	}
	return &Parser{cfg: cfg}
}

// extractor pulls one candidate value out of a selection; it returns ""
// when its strategy does not apply.
type extractor func(*goquery.Selection) string

// cardSelectors locate result cards on the search page, newest markup
// first.
var cardSelectors = []string{
	"div.Nv2PK",
	"div[role='article']",
	"div.section-result",
}

var (
	ratingPattern   = regexp.MustCompile(`(\d+[.,]?\d*)`)
	nonDigitPattern = regexp.MustCompile(`[^\d]`)
	placeLinkQuery  = "a[href*='/maps/place/']"
)

var nameChain = []extractor{
	selText("div.qBF1Pd"),
	selText("div.fontHeadlineSmall"),
	selText("span.OSrXXb"),
	selAttr("a.hfpxzc", "aria-label"),
}

var addressChain = []extractor{
	selText("div.W4Efsd:nth-of-type(2)"),
	selText("span.W4Efsd"),
	selText("div.W4Efsd > span:nth-child(2)"),
}

var categoryChain = []extractor{
	selText("div.W4Efsd:first-of-type > span:first-child"),
	selText("div.W4Efsd > span:first-child"),
}

var cardPhoneChain = []extractor{
	selText("span.UsdlK"),
	selAttrContains("span", "data-item-id", "phone"),
}

var ratingChain = []extractor{
	selText("span.MW4etd"),
	selAttrContains("span[role='img']", "aria-label", "star"),
}

var reviewChain = []extractor{
	selText("span.UY7F9"),
	selAttrContains("span", "aria-label", "review"),
}

// ParseCandidates extracts one record per result card. Cards lacking
// both a name and a listing URL are discarded.
func (p *Parser) ParseCandidates(html string) []leads.BusinessRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var cards *goquery.Selection
	for _, sel := range cardSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		return nil
	}

	var records []leads.BusinessRecord
	cards.Each(func(_ int, card *goquery.Selection) {
		rec := p.parseCard(card)
		if rec.Name == "" && rec.SourceURL == "" {
			return
		}
		records = append(records, rec)
	})
	return records
}

func (p *Parser) parseCard(card *goquery.Selection) leads.BusinessRecord {
	rec := leads.BusinessRecord{
		Name:     firstMatch(card, nameChain),
		Address:  firstMatch(card, addressChain),
		Category: firstMatch(card, categoryChain),
	}
	if rec.Category == rec.Address {
		// The category chain can land on the address row in older markup.
		rec.Category = ""
	}
	if raw := firstMatch(card, cardPhoneChain); raw != "" {
		rec.Phone = p.NormalizePhone(raw)
	}
	rec.Rating = parseRating(firstMatch(card, ratingChain))
	rec.ReviewCount = parseReviewCount(firstMatch(card, reviewChain))
	rec.SourceURL = p.listingURL(card)
	rec.Services = parseServices(card.Find("div.Ahnjwc").First())
	return rec
}

func (p *Parser) listingURL(card *goquery.Selection) string {
	href, ok := card.Find(placeLinkQuery).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		return p.cfg.BaseURL + href
	}
	return ""
}

var websiteChain = []extractor{
	selAttr("a[data-item-id='authority']", "href"),
	selAttr("a[aria-label*='Website'][href^='http']", "href"),
	selAttr("a.CsEnBe[href^='http']", "href"),
}

var detailCategoryChain = []extractor{
	selText("button.DkEaL"),
	selText("span.DkEaL"),
}

// ParseDetail extracts the enrichment fields from a listing detail page.
func (p *Parser) ParseDetail(html string) leads.DetailFields {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return leads.DetailFields{}
	}
	root := doc.Selection

	fields := leads.DetailFields{
		Hours:    cleanText(doc.Find("div[aria-label*='Hours']").First().Text()),
		Category: firstMatch(root, detailCategoryChain),
		Services: parseServices(doc.Find("div.Ahnjwc").First()),
	}

	if href := firstMatch(root, websiteChain); href != "" && !strings.Contains(href, "google.com") {
		fields.Website = href
	}
	fields.Phone = p.detailPhones(doc)
	return fields
}

// detailPhones gathers every phone found on the detail page, normalizes
// each and joins them with "|" rather than discarding extras.
func (p *Parser) detailPhones(doc *goquery.Document) string {
	var phones []string
	seen := map[string]struct{}{}
	add := func(raw string) {
		normalized := p.NormalizePhone(raw)
		if normalized == "" {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		phones = append(phones, normalized)
	}

	doc.Find("button[data-item-id*='phone']").Each(func(_ int, s *goquery.Selection) {
		add(s.Text())
	})
	doc.Find("a[href^='tel:']").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(strings.TrimPrefix(href, "tel:"))
		}
	})
	return strings.Join(phones, "|")
}

func firstMatch(root *goquery.Selection, chain []extractor) string {
	for _, extract := range chain {
		if value := extract(root); value != "" {
			return value
		}
	}
	return ""
}

func selText(selector string) extractor {
	return func(root *goquery.Selection) string {
		return cleanText(root.Find(selector).First().Text())
	}
}

func selAttr(selector, attr string) extractor {
	return func(root *goquery.Selection) string {
		value, _ := root.Find(selector).First().Attr(attr)
		return strings.TrimSpace(value)
	}
}

// selAttrContains matches elements whose attribute contains needle and
// yields their text.
func selAttrContains(selector, attr, needle string) extractor {
	return func(root *goquery.Selection) string {
		var out string
		root.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			value, ok := s.Attr(attr)
			if !ok || !strings.Contains(strings.ToLower(value), needle) {
				return true
			}
			out = cleanText(s.Text())
			return out == ""
		})
		return out
	}
}

func parseRating(raw string) float64 {
	match := ratingPattern.FindStringSubmatch(raw)
	if match == nil {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil || value < 0 || value > 5 {
		return 0
	}
	return value
}

func parseReviewCount(raw string) int {
	digits := nonDigitPattern.ReplaceAllString(raw, "")
	if digits == "" {
		return 0
	}
	count, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return count
}

// parseServices splits the service-options blob into an ordered list.
func parseServices(sel *goquery.Selection) []string {
	raw := cleanText(sel.Text())
	if raw == "" {
		return nil
	}
	raw = strings.ReplaceAll(raw, "·", "|")
	parts := strings.Split(raw, "|")
	var services []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			services = append(services, trimmed)
		}
	}
	return services
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
