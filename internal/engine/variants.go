package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

// Reqwest is the cheapest engine: plain HTTP GET, no JS, no screenshot,
// no anti-bot TLS fingerprinting. Named after the Rust HTTP client this
// fetch mode mirrors.
type Reqwest struct {
	client *http.Client
}

// NewReqwest builds a Reqwest engine over an http.Client the caller
// configures (proxy, timeouts).
func NewReqwest(client *http.Client) *Reqwest {
	return &Reqwest{client: client}
}

func (e *Reqwest) Name() string  { return "reqwest" }
func (e *Reqwest) Priority() int { return 100 }
func (e *Reqwest) Cost() int     { return 1 }

func (e *Reqwest) SupportScore(req Request) int {
	if req.NeedsJS || req.NeedsScreenshot || req.NeedsAntiBot {
		return 0
	}
	if len(req.Actions) > 0 {
		return 0
	}
	return 80
}

func (e *Reqwest) Fetch(ctx context.Context, req Request) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTerminal, "invalid request", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Mobile {
		httpReq.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
	}

	client := e.client
	if req.Timeout > 0 {
		c := *client
		c.Timeout = req.Timeout
		client = &c
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTransient, "reqwest transport error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTransient, "reqwest body read error", err)
	}

	if resp.StatusCode >= 500 {
		return nil, domainerrors.New(domainerrors.KindEngineTransient, "reqwest upstream 5xx", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, domainerrors.New(domainerrors.KindEngineTerminal, "reqwest upstream 4xx", nil)
	}

	html := string(body)
	markdown, _ := md.ConvertString(html)
	return &Result{
		StatusCode: resp.StatusCode,
		HTML:       html,
		Markdown:   markdown,
		Links:      extractLinks(html),
	}, nil
}

func extractLinks(html string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return nil
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			links = append(links, href)
		}
	})
	return links
}

// Playwright is a JS-capable, screenshot-capable engine driven out of
// process by a browser automation sidecar; this type models the router
// contract and talks to that sidecar over HTTP, keeping the heavyweight
// browser driver out of this module's own dependency surface. The sidecar
// drives req.Actions itself, so unlike Reqwest and FireEngineTLS this
// engine's SupportScore does not need to zero out on actions present.
type Playwright struct {
	sidecarURL string
	client     *http.Client
}

// NewPlaywright wires a Playwright engine against a sidecar endpoint.
func NewPlaywright(sidecarURL string, client *http.Client) *Playwright {
	return &Playwright{sidecarURL: sidecarURL, client: client}
}

func (e *Playwright) Name() string  { return "playwright" }
func (e *Playwright) Priority() int { return 50 }
func (e *Playwright) Cost() int     { return 10 }

func (e *Playwright) SupportScore(req Request) int {
	if req.NeedsAntiBot {
		return 0
	}
	score := 40
	if req.NeedsJS {
		score += 30
	}
	if req.NeedsScreenshot {
		score += 20
	}
	return score
}

func (e *Playwright) Fetch(ctx context.Context, req Request) (*Result, error) {
	return sidecarFetch(ctx, e.client, e.sidecarURL, req, "playwright")
}

// FireEngineTLS performs anti-bot TLS fingerprint evasion without JS
// execution: cheaper than FireEngineCDP when JS isn't required.
type FireEngineTLS struct {
	sidecarURL string
	client     *http.Client
}

func NewFireEngineTLS(sidecarURL string, client *http.Client) *FireEngineTLS {
	return &FireEngineTLS{sidecarURL: sidecarURL, client: client}
}

func (e *FireEngineTLS) Name() string  { return "fire-engine-tls" }
func (e *FireEngineTLS) Priority() int { return 70 }
func (e *FireEngineTLS) Cost() int     { return 5 }

func (e *FireEngineTLS) SupportScore(req Request) int {
	if req.NeedsJS || req.NeedsScreenshot {
		return 0
	}
	if !req.NeedsAntiBot {
		return 0
	}
	if len(req.Actions) > 0 {
		return 0
	}
	return 60
}

func (e *FireEngineTLS) Fetch(ctx context.Context, req Request) (*Result, error) {
	return sidecarFetch(ctx, e.client, e.sidecarURL, req, "fire-engine-tls")
}

// FireEngineCDP covers JS + screenshot + anti-bot simultaneously, the
// most capable and most expensive engine.
type FireEngineCDP struct {
	sidecarURL string
	client     *http.Client
}

func NewFireEngineCDP(sidecarURL string, client *http.Client) *FireEngineCDP {
	return &FireEngineCDP{sidecarURL: sidecarURL, client: client}
}

func (e *FireEngineCDP) Name() string  { return "fire-engine-cdp" }
func (e *FireEngineCDP) Priority() int { return 30 }
func (e *FireEngineCDP) Cost() int     { return 20 }

func (e *FireEngineCDP) SupportScore(req Request) int {
	score := 20
	if req.NeedsJS {
		score += 25
	}
	if req.NeedsScreenshot {
		score += 15
	}
	if req.NeedsAntiBot {
		score += 20
	}
	return score
}

func (e *FireEngineCDP) Fetch(ctx context.Context, req Request) (*Result, error) {
	return sidecarFetch(ctx, e.client, e.sidecarURL, req, "fire-engine-cdp")
}

// sidecarFetch is the shared HTTP call shape for the three sidecar-backed
// engines: it POSTs the Request as JSON and takes the sidecar's response
// body as the rendered page HTML, since the actual browser automation
// lives outside this module.
func sidecarFetch(ctx context.Context, client *http.Client, sidecarURL string, req Request, engineName string) (*Result, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTerminal, "invalid sidecar request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, sidecarURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTerminal, "invalid sidecar request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-crawlrs-Engine", engineName)

	c := client
	if req.Timeout > 0 {
		cc := *client
		cc.Timeout = req.Timeout
		c = &cc
	}

	resp, err := c.Do(httpReq)
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTransient, engineName+" sidecar unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, domainerrors.New(domainerrors.KindEngineTransient, engineName+" sidecar 5xx", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, domainerrors.New(domainerrors.KindEngineTerminal, engineName+" sidecar 4xx", nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTransient, engineName+" sidecar body read error", err)
	}
	html := string(body)
	markdown, _ := md.ConvertString(html)
	return &Result{
		StatusCode: resp.StatusCode,
		HTML:       html,
		Markdown:   markdown,
		Links:      extractLinks(html),
	}, nil
}
