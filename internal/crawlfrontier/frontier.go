// Package crawlfrontier is the single admission authority for a crawl:
// the only place that decides whether a newly discovered
// URL becomes a crawl-child task. It owns per-crawl dedup, depth/page
// caps, include/exclude filtering, robots.txt policy, and per-origin
// crawl-delay scheduling. Grounded on the visited-set-plus-admission-gate
// shape common across the pack's crawlers (docs-crawler's scheduler
// treats the frontier as the sole Submit() choke point; gocrawlerTPI
// guards its visited map with a single mutex) — adapted here so the
// gate itself is a pure decision an async task-queue worker consults
// before enqueueing a crawl-child task, rather than a synchronous loop.
package crawlfrontier

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	crawl "github.com/crawlrs/crawlrs/internal/domain/crawl"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

// RobotsFetcher retrieves the raw robots.txt body for an origin.
type RobotsFetcher interface {
	FetchRobots(ctx context.Context, origin string) ([]byte, error)
}

// robotsEntry caches one origin's parsed robots.txt plus any
// crawl-delay it declares.
type robotsEntry struct {
	group      *robotstxt.Group
	crawlDelay time.Duration
}

// Frontier tracks the admission state for a single crawl: visited
// URLs, per-origin robots/delay state, and the counters the crawl's
// completion test reads.
type Frontier struct {
	mu       sync.Mutex
	crawl    *crawl.Crawl
	filters  crawl.CompiledFilters
	fetcher  RobotsFetcher
	visited  map[string]bool
	robots   map[string]*robotsEntry
	nextFetc map[string]time.Time // origin -> earliest time the next fetch may start
	discover int
}

// New builds a Frontier for one crawl, seeding the visited set with the
// seed URL so it is never re-admitted as a child.
func New(c *crawl.Crawl, filters crawl.CompiledFilters, fetcher RobotsFetcher) *Frontier {
	f := &Frontier{
		crawl:    c,
		filters:  filters,
		fetcher:  fetcher,
		visited:  make(map[string]bool),
		robots:   make(map[string]*robotsEntry),
		nextFetc: make(map[string]time.Time),
	}
	if normalized, err := Normalize(c.SeedURL); err == nil {
		f.visited[normalized] = true
	}
	return f
}

// Admit decides whether rawURL discovered at depth may become a new
// crawl-child task. It applies, in order: depth cap, URL parse
// validity + normalization, dedup, page cap, include/exclude filters,
// and robots.txt policy, so that cheap checks reject before the
// robots.txt fetch is ever attempted.
func (f *Frontier) Admit(ctx context.Context, rawURL string, depth int) (string, bool, error) {
	if depth > f.crawl.Config.MaxDepth {
		return "", false, nil
	}

	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", false, nil
	}

	f.mu.Lock()
	if f.visited[normalized] {
		f.mu.Unlock()
		return "", false, nil
	}
	if f.crawl.Config.PageCap > 0 && f.discover >= f.crawl.Config.PageCap {
		f.mu.Unlock()
		return "", false, nil
	}
	f.mu.Unlock()

	if !pathAllowed(f.filters, normalized) {
		return "", false, nil
	}

	allowed, _, err := f.checkRobots(ctx, normalized)
	if err != nil {
		return "", false, err
	}
	if !f.crawl.Config.IgnoreRobots && !allowed {
		return "", false, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.visited[normalized] {
		return "", false, nil
	}
	if f.crawl.Config.PageCap > 0 && f.discover >= f.crawl.Config.PageCap {
		return "", false, nil
	}
	f.visited[normalized] = true
	f.discover++
	return normalized, true, nil
}

// ReadyAt returns the earliest time a fetch against origin may start,
// respecting both robots.txt's declared crawl-delay and the crawl's own
// configured minimum delay, whichever is larger.
func (f *Frontier) ReadyAt(origin string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextFetc[origin]
}

// MarkFetched records that origin was just fetched, scheduling the next
// allowed fetch time.
func (f *Frontier) MarkFetched(origin string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delay := time.Duration(f.crawl.Config.CrawlDelayMS) * time.Millisecond
	if e, ok := f.robots[origin]; ok && e.crawlDelay > delay {
		delay = e.crawlDelay
	}
	f.nextFetc[origin] = now.Add(delay)
}

// Discovered reports how many distinct URLs this frontier has admitted,
// including the seed.
func (f *Frontier) Discovered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

func (f *Frontier) checkRobots(ctx context.Context, normalizedURL string) (bool, time.Duration, error) {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return false, 0, nil
	}
	origin := u.Scheme + "://" + u.Host

	f.mu.Lock()
	entry, ok := f.robots[origin]
	f.mu.Unlock()
	if !ok {
		body, err := f.fetcher.FetchRobots(ctx, origin)
		if err != nil {
			// Unreachable robots.txt is treated as permissive: the
			// absence of policy is not a rejection.
			f.mu.Lock()
			f.robots[origin] = &robotsEntry{}
			f.mu.Unlock()
			return true, 0, nil
		}
		data, err := robotstxt.FromBytes(body)
		if err != nil {
			f.mu.Lock()
			f.robots[origin] = &robotsEntry{}
			f.mu.Unlock()
			return true, 0, nil
		}
		group := data.FindGroup("crawlrs")
		var crawlDelay time.Duration
		if group != nil {
			crawlDelay = group.CrawlDelay
		}
		entry = &robotsEntry{group: group, crawlDelay: crawlDelay}
		f.mu.Lock()
		f.robots[origin] = entry
		f.mu.Unlock()
	}
	if entry.group == nil {
		return true, entry.crawlDelay, nil
	}
	return entry.group.Test(u.Path), entry.crawlDelay, nil
}

func pathAllowed(filters crawl.CompiledFilters, normalizedURL string) bool {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return false
	}
	path := u.Path
	if len(filters.Exclude) > 0 {
		for _, re := range filters.Exclude {
			if re.MatchString(path) {
				return false
			}
		}
	}
	if len(filters.Include) == 0 {
		return true
	}
	for _, re := range filters.Include {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// CompileFilters compiles the raw include/exclude path patterns on a
// crawl.Config as Go regexps exactly as given (not anchored, so a
// pattern matches anywhere in the URL path), rejecting malformed
// patterns up front.
func CompileFilters(cfg crawl.Config) (crawl.CompiledFilters, error) {
	var out crawl.CompiledFilters
	for _, p := range cfg.IncludePaths {
		re, err := regexp.Compile(p)
		if err != nil {
			return out, domainerrors.New(domainerrors.KindInvalidInput, "invalid include pattern", err)
		}
		out.Include = append(out.Include, re)
	}
	for _, p := range cfg.ExcludePaths {
		re, err := regexp.Compile(p)
		if err != nil {
			return out, domainerrors.New(domainerrors.KindInvalidInput, "invalid exclude pattern", err)
		}
		out.Exclude = append(out.Exclude, re)
	}
	return out, nil
}

// Normalize canonicalizes a discovered URL for dedup: lowercases
// scheme+host, strips default ports and fragments, resolves dot
// segments, and preserves a trailing slash only if the original path
// had one.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		return "", domainerrors.New(domainerrors.KindInvalidInput, "relative URL cannot be normalized without a base", nil)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(stripDefaultPort(u.Scheme, u.Host))
	u.Fragment = ""
	hadTrailingSlash := strings.HasSuffix(u.Path, "/") && u.Path != "/"
	u.Path = cleanPath(u.Path)
	if hadTrailingSlash && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

func stripDefaultPort(scheme, host string) string {
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	default:
		return host
	}
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean(p)
}
