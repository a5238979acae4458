package probe

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/stockbot/internal/stock"
)

var (
	nameSelectors  = []string{"h1", ".product-title", `[itemprop="name"]`}
	imageSelectors = []string{".product-image img", `[itemprop="image"]`, ".carousel-item.active img"}
	// product region candidates, most specific first
	regionSelectors = []string{".product-details", ".product-info", ".product-detail", `[itemtype*="Product"]`, "main"}
)

const (
	notifySelector   = ".product_enquiry"
	cartSelector     = ".add-to-cart"
	actionSelector   = "button, a, input[type=submit], input[type=button]"
	notifyMeText     = "notify me"
	soldOutText      = "sold out"
	addToCartText    = "add to cart"
	titleBrandingSep = "|"
)

// Extract parses rendered HTML and returns the product name, image, and
// availability. pageURL resolves relative image sources.
func Extract(html []byte, pageURL string) (stock.ProbeResult, error) {
	if len(bytes.TrimSpace(html)) == 0 {
		return stock.ProbeResult{}, fmt.Errorf("empty document")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return stock.ProbeResult{}, fmt.Errorf("parse html: %w", err)
	}
	body := doc.Find("body")
	if body.Length() == 0 || (body.Children().Length() == 0 && strings.TrimSpace(body.Text()) == "") {
		return stock.ProbeResult{}, fmt.Errorf("page has no body content")
	}
	return stock.ProbeResult{
		Status:   Classify(doc),
		Name:     productName(doc),
		ImageURL: productImage(doc, pageURL),
	}, nil
}

// Classify applies the availability signals in strict priority order:
// notify-me, sold-out banner, disabled add-to-cart, enabled add-to-cart.
func Classify(doc *goquery.Document) stock.Status {
	if hasNotifyMe(doc) || hasSoldOutBanner(doc) {
		return stock.StatusOutOfStock
	}
	cart := addToCart(doc)
	switch {
	case cart.Length() == 0:
		return stock.StatusUnknown
	case cart.FilterFunction(func(_ int, s *goquery.Selection) bool { return disabled(s) }).Length() > 0:
		return stock.StatusOutOfStock
	default:
		return stock.StatusInStock
	}
}

func hasNotifyMe(doc *goquery.Document) bool {
	if anyVisible(doc.Find(notifySelector)) {
		return true
	}
	return anyVisible(doc.Find(actionSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return containsFold(actionText(s), notifyMeText)
	}))
}

func hasSoldOutBanner(doc *goquery.Document) bool {
	region := productRegion(doc)
	if region.Length() == 0 {
		return false
	}
	banners := region.Find("*").AddSelection(region).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return containsFold(ownText(s), soldOutText)
	})
	return anyVisible(banners)
}

// addToCart returns the visible add-to-cart affordances, preferring those
// inside the product region.
func addToCart(doc *goquery.Document) *goquery.Selection {
	match := func(scope *goquery.Selection) *goquery.Selection {
		byClass := scope.Find(cartSelector)
		byText := scope.Find(actionSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return containsFold(actionText(s), addToCartText)
		})
		return byClass.AddSelection(byText).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return visible(s)
		})
	}
	if region := productRegion(doc); region.Length() > 0 {
		if found := match(region); found.Length() > 0 {
			return found
		}
	}
	return match(doc.Selection)
}

func productRegion(doc *goquery.Document) *goquery.Selection {
	for _, sel := range regionSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			return found.First()
		}
	}
	return &goquery.Selection{}
}

func disabled(s *goquery.Selection) bool {
	if s.HasClass("disabled") {
		return true
	}
	if v, ok := s.Attr("disabled"); ok && truthy(v) {
		return true
	}
	if v, ok := s.Attr("aria-disabled"); ok && strings.EqualFold(strings.TrimSpace(v), "true") {
		return true
	}
	return false
}

// truthy follows HTML boolean attribute rules, except explicit "false"/"0".
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0":
		return false
	default:
		return true
	}
}

func anyVisible(s *goquery.Selection) bool {
	found := false
	s.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		found = visible(el)
		return !found
	})
	return found
}

// visible checks the element and its ancestors for static hiding markers.
func visible(s *goquery.Selection) bool {
	for cur := s.First(); cur.Length() > 0; cur = cur.Parent() {
		if _, ok := cur.Attr("hidden"); ok {
			return false
		}
		if v, ok := cur.Attr("aria-hidden"); ok && strings.EqualFold(v, "true") {
			return false
		}
		if cur.HasClass("d-none") || cur.HasClass("hidden") {
			return false
		}
		if style, ok := cur.Attr("style"); ok && hiddenStyle(style) {
			return false
		}
	}
	return true
}

func hiddenStyle(style string) bool {
	compact := strings.ToLower(strings.Join(strings.Fields(style), ""))
	return strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden")
}

func ownText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
		}
	})
	return b.String()
}

func actionText(s *goquery.Selection) string {
	if goquery.NodeName(s) == "input" {
		v, _ := s.Attr("value")
		return v
	}
	return s.Text()
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

func productName(doc *goquery.Document) string {
	for _, sel := range nameSelectors {
		node := doc.Find(sel).First()
		text := cleanText(node.Text())
		if text == "" {
			if content, ok := node.Attr("content"); ok {
				text = cleanText(content)
			}
		}
		if text != "" {
			return stripBranding(text)
		}
	}
	return stripBranding(cleanText(doc.Find("title").First().Text()))
}

func stripBranding(name string) string {
	if i := strings.Index(name, titleBrandingSep); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func productImage(doc *goquery.Document, pageURL string) string {
	for _, sel := range imageSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		for _, attr := range []string{"src", "data-src", "content", "href"} {
			if v, ok := node.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return resolve(pageURL, strings.TrimSpace(v))
			}
		}
	}
	return ""
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
