package chat

import (
	"fmt"
	"html"
	"strings"

	"github.com/JakeFAU/stockbot/internal/stock"
)

const helpText = `🥛 <b>Amul Stock Tracker</b>

<b>/start &lt;url&gt;</b> - Track a product and get notified when its stock changes
<b>/stop &lt;url&gt;</b> - Stop tracking a product
<b>/list</b> - Show the products you are tracking
<b>/status &lt;url&gt;</b> - Check a product right now without tracking it
<b>/help</b> - Show this message

Example: /start ` + exampleURL

const invalidURLText = "❌ Invalid URL! Please provide a valid Amul product URL.\nExample: " + exampleURL

func productCard(title string, p stock.Product) string {
	name := p.Name
	if name == "" {
		name = stock.DefaultProductName
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "<a href=\"%s\">%s</a>\n", html.EscapeString(p.URL), html.EscapeString(name))
	fmt.Fprintf(&b, "<b>Status:</b> %s", p.Status.Label())
	if !p.LastCheckedAt.IsZero() {
		fmt.Fprintf(&b, "\n<b>Last checked:</b> %s", p.LastCheckedAt.UTC().Format("02 Jan 15:04 MST"))
	}
	return b.String()
}

func productList(products []stock.Product) string {
	if len(products) == 0 {
		return "📭 You are not tracking any products yet.\nUse /start &lt;url&gt; to begin."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 <b>Your Tracked Products</b> (%d)\n", len(products))
	for i, p := range products {
		name := p.Name
		if name == "" {
			name = stock.DefaultProductName
		}
		fmt.Fprintf(&b, "\n%d. <a href=\"%s\">%s</a>\n   %s", i+1, html.EscapeString(p.URL), html.EscapeString(name), p.Status.Label())
	}
	return b.String()
}
