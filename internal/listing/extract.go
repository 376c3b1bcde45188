package listing

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// priceContainerIDs are the primary price blocks of the selected variant,
// in lookup order. A trailing '*' matches by prefix.
var priceContainerIDs = []string{
	"corePriceDisplay_desktop_feature_div",
	"corePrice_feature_div",
	"corePrice*",
	"apex_desktop",
	"priceblock_dealprice",
	"priceblock_ourprice",
	"priceblock_*",
	"price_inside_buybox",
	"newBuyBoxPrice",
}

// buyboxMarkers, once case-folded, prove the listing has no direct offer
// wherever they appear on the page.
var buyboxMarkers = []string{
	"see all buying options",
	"see other buying options",
	"no featured offers available",
	"no featured offer",
	"alle kaufoptionen anzeigen",
	"keine empfohlenen angebote",
	"kein empfohlenes angebot",
}

// stockMarkers only count outside variant swatches and third-party
// blocks, which describe other offers.
var stockMarkers = []string{
	"currently unavailable",
	"temporarily out of stock",
	"derzeit nicht verfügbar",
	"momentan nicht verfügbar",
	"nicht auf lager",
}

// Third-party offer blocks are identified by these id/class prefixes.
var thirdPartyPrefixes = []string{"olp", "aod", "mbc", "moreBuyingChoices", "all-offers-display"}

var thirdPartyHeadings = []string{"other sellers", "andere verkäufer", "weitere anbieter"}

// normalizeText applies NFKC (folding non-breaking spaces and ligatures)
// and case folding, then collapses whitespace.
func normalizeText(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// Extract reads availability, the selected-variant price, title and rating
// from product page markup. It never fails; problems are reported through
// Result.Reason and Result.DebugInfo.
func Extract(markup []byte) Result {
	var res Result

	doc, err := html.Parse(bytes.NewReader(markup))
	if err != nil {
		res.Reason = ReasonFetchError
		res.Err = "parse: " + err.Error()
		return res
	}

	res.Title = extractTitle(doc)
	if rating, ok := extractRating(doc); ok {
		res.Rating = &rating
	}

	price, where := selectedPrice(doc)
	if price != nil {
		res.Price = price
		res.debugf(fmt.Sprintf("price %.2f from #%s", *price, where))
	} else {
		res.debugf("no price in primary price blocks")
	}

	buy := findBuyAffordance(doc)
	if buy != "" {
		res.debugf("buy affordance: " + buy)
	}

	if m := firstMarker(normalizeText(visibleText(doc)), buyboxMarkers); m != "" {
		res.Available = false
		res.Reason = ReasonUnavailableMsg
		res.debugf("unavailable marker: " + m)
		return res
	}
	if m := firstMarker(normalizeText(offerText(doc)), stockMarkers); m != "" {
		res.Available = false
		res.Reason = ReasonUnavailableMsg
		res.debugf("unavailable marker: " + m)
		return res
	}
	if findByID(doc, "buybox-see-all-buying-choices") != nil || findByID(doc, "outOfStock") != nil {
		res.Available = false
		res.Reason = ReasonUnavailableMsg
		res.debugf("unavailable block present")
		return res
	}

	if buy == "" {
		res.Available = false
		res.Reason = ReasonNoBuyButton
		return res
	}

	if price != nil {
		if src := ambiguousSource(doc, *price); src != "" {
			res.debugf(fmt.Sprintf("price %.2f also offered by %s", *price, src))
			res.Price = nil
			res.Available = false
			res.Reason = ReasonAmbiguousPrice
			return res
		}
	}

	res.Available = true
	if price == nil {
		res.Reason = ReasonNoPrice
	} else {
		res.Reason = ReasonInStock
	}
	return res
}

func firstMarker(text string, markers []string) string {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return m
		}
	}
	return ""
}

func extractTitle(doc *html.Node) string {
	if n := findByID(doc, "productTitle"); n != nil {
		return collapse(textOf(n))
	}
	if n := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Title }); n != nil {
		return collapse(textOf(n))
	}
	return ""
}

func extractRating(doc *html.Node) (float64, bool) {
	if n := findByID(doc, "acrPopover"); n != nil {
		if v, ok := ParseRating(attr(n, "title")); ok {
			return v, true
		}
		if v, ok := ParseRating(textOf(n)); ok {
			return v, true
		}
	}
	n := findFirst(doc, func(n *html.Node) bool {
		return hasClass(n, "a-icon-alt") && hasAncestor(n, func(p *html.Node) bool {
			return strings.Contains(attr(p, "class"), "a-icon-star")
		})
	})
	if n != nil {
		return ParseRating(textOf(n))
	}
	return 0, false
}

// selectedPrice returns the first non-struck price inside the primary
// price blocks and the id of the block it came from.
func selectedPrice(doc *html.Node) (*float64, string) {
	for _, id := range priceContainerIDs {
		var containers []*html.Node
		if prefix, ok := strings.CutSuffix(id, "*"); ok {
			containers = findAll(doc, func(n *html.Node) bool {
				return strings.HasPrefix(attr(n, "id"), prefix)
			})
		} else if n := findByID(doc, id); n != nil {
			containers = []*html.Node{n}
		}
		for _, c := range containers {
			if insideAlternativeContext(c) {
				continue
			}
			if v, ok := priceIn(c); ok {
				return &v, attr(c, "id")
			}
		}
	}
	return nil, ""
}

// priceIn reads an a-price component inside n, falling back to n's own
// text for legacy price blocks that hold the amount directly.
func priceIn(n *html.Node) (float64, bool) {
	spans := findAll(n, func(c *html.Node) bool { return hasClass(c, "a-price") })
	for _, s := range spans {
		if struck(s) {
			continue
		}
		if off := findFirst(s, func(c *html.Node) bool { return hasClass(c, "a-offscreen") }); off != nil {
			if v, ok := ParsePrice(textOf(off)); ok {
				return v, true
			}
		}
		whole := findFirst(s, func(c *html.Node) bool { return hasClass(c, "a-price-whole") })
		if whole != nil {
			txt := textOf(whole)
			if frac := findFirst(s, func(c *html.Node) bool { return hasClass(c, "a-price-fraction") }); frac != nil {
				txt = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(txt), ".,"))
				txt += decimalSeparator(s, txt) + strings.TrimSpace(textOf(frac))
			}
			if v, ok := ParsePrice(txt); ok {
				return v, true
			}
		}
	}
	if len(spans) > 0 {
		return 0, false
	}
	if prices := FindPrices(normalizeText(ownText(n))); len(prices) > 0 {
		return prices[0], true
	}
	return 0, false
}

// decimalSeparator joins the whole and fraction parts of a split price.
// The page's own a-price-decimal wins; otherwise a comma in the whole part
// is read as US digit grouping.
func decimalSeparator(price *html.Node, whole string) string {
	if dec := findFirst(price, func(c *html.Node) bool { return hasClass(c, "a-price-decimal") }); dec != nil {
		if sep := strings.TrimSpace(textOf(dec)); sep == "." || sep == "," {
			return sep
		}
	}
	if strings.Contains(whole, ",") {
		return "."
	}
	return ","
}

// struck reports whether a price element is a crossed-out reference price.
func struck(n *html.Node) bool {
	if hasClass(n, "a-text-price") || attr(n, "data-a-strike") == "true" {
		return true
	}
	return hasAncestor(n, func(p *html.Node) bool {
		return p.DataAtom == atom.S || p.DataAtom == atom.Del || p.DataAtom == atom.Strike ||
			hasClass(p, "a-text-price") || attr(p, "data-a-strike") == "true"
	})
}

func findBuyAffordance(doc *html.Node) string {
	n := findFirst(doc, func(n *html.Node) bool {
		if _, disabled := lookupAttr(n, "disabled"); disabled {
			return false
		}
		switch attr(n, "id") {
		case "add-to-cart-button", "buy-now-button":
			return true
		}
		switch attr(n, "name") {
		case "submit.add-to-cart", "submit.buy-now":
			return true
		}
		return false
	})
	if n == nil {
		return ""
	}
	if id := attr(n, "id"); id != "" {
		return id
	}
	return attr(n, "name")
}

// ambiguousSource returns a description of where else on the page the
// same price is attached to an unselected variant or a third-party offer.
func ambiguousSource(doc *html.Node, price float64) string {
	var found string
	walk(doc, func(n *html.Node) bool {
		if found != "" {
			return false
		}
		if isUnselectedSwatch(n) {
			if containsPrice(textOf(n), price) {
				found = "unselected variant"
			}
			return false
		}
		if isThirdPartyBlock(n) {
			if containsPrice(textOf(n), price) {
				found = "third-party seller"
			}
			return false
		}
		return true
	})
	return found
}

func containsPrice(text string, price float64) bool {
	for _, p := range FindPrices(normalizeText(text)) {
		if samePrice(p, price) {
			return true
		}
	}
	return false
}

func isSwatch(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if n.DataAtom == atom.Li && (attr(n, "data-asin") != "" || attr(n, "data-defaultasin") != "") {
		return hasAncestor(n, isVariationRegion)
	}
	return strings.Contains(attr(n, "class"), "swatch-list-item") ||
		strings.Contains(attr(n, "class"), "swatchAvailable") ||
		strings.Contains(attr(n, "class"), "swatchSelect")
}

func isVariationRegion(n *html.Node) bool {
	id := attr(n, "id")
	return strings.HasPrefix(id, "twister") || strings.HasPrefix(id, "variation_") ||
		strings.HasPrefix(id, "inline-twister")
}

func isSelectedSwatch(n *html.Node) bool {
	for _, cls := range []string{"swatchSelect", "a-button-selected", "selected", "swatch-selected"} {
		if hasClass(n, cls) {
			return true
		}
	}
	return attr(n, "aria-checked") == "true" || attr(n, "aria-selected") == "true"
}

func isUnselectedSwatch(n *html.Node) bool {
	return isSwatch(n) && !isSelectedSwatch(n)
}

func isThirdPartyBlock(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	id := attr(n, "id")
	for _, p := range thirdPartyPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	for _, cls := range strings.Fields(attr(n, "class")) {
		for _, p := range thirdPartyPrefixes {
			if strings.HasPrefix(cls, p) {
				return true
			}
		}
	}
	// A container whose own heading announces other sellers.
	if n.DataAtom != atom.Div && n.DataAtom != atom.Section {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom != atom.H2 && c.DataAtom != atom.H3 && c.DataAtom != atom.H4 {
			continue
		}
		heading := normalizeText(textOf(c))
		for _, m := range thirdPartyHeadings {
			if strings.Contains(heading, m) {
				return true
			}
		}
	}
	return false
}

// insideAlternativeContext reports whether n sits in a variant swatch or
// third-party block and therefore cannot be the selected offer.
func insideAlternativeContext(n *html.Node) bool {
	return hasAncestor(n, func(p *html.Node) bool {
		return isSwatch(p) || isThirdPartyBlock(p)
	})
}

// --- DOM helpers ---

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, cls string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == cls {
			return true
		}
	}
	return false
}

func hasAncestor(n *html.Node, pred func(*html.Node) bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && pred(p) {
			return true
		}
	}
	return false
}

// walk visits nodes depth-first; returning false skips a node's children.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func findAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if n != root && n.Type == html.ElementNode && pred(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n != root && n.Type == html.ElementNode && pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

func findByID(root *html.Node, id string) *html.Node {
	return findFirst(root, func(n *html.Node) bool { return attr(n, "id") == id })
}

func skipText(n *html.Node) bool {
	return n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Noscript
}

// textOf concatenates all text below n, ignoring scripts and styles.
func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && skipText(c) {
			return false
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return b.String()
}

// ownText is textOf without descendants that hold their own price markup.
func ownText(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c != n && c.Type == html.ElementNode && (skipText(c) || struck(c) || c.DataAtom == atom.S || c.DataAtom == atom.Del) {
			return false
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return b.String()
}

func visibleText(doc *html.Node) string {
	body := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	if body == nil {
		body = doc
	}
	return textOf(body)
}

// offerText is visibleText without variant swatches and third-party
// blocks.
func offerText(doc *html.Node) string {
	body := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	if body == nil {
		body = doc
	}
	var b strings.Builder
	walk(body, func(c *html.Node) bool {
		if c.Type == html.ElementNode && (skipText(c) || isSwatch(c) || isThirdPartyBlock(c)) {
			return false
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
