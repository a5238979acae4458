// Package probe renders product pages and classifies their availability.
//
// A Prober owns a Renderer (headless Chrome via chromedp, or a static
// colly fetch) and turns the rendered DOM into a stock.ProbeResult using an
// ordered set of goquery heuristics. Probe never returns an error: render and
// parse failures are reported as stock.StatusError results.
package probe
