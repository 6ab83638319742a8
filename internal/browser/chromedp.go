// Package browser drives headless Chrome sessions via chromedp. One
// Session owns a browser process plus a persistent results tab; detail
// pages open in throwaway tabs. Restart relaunches the process with a
// new proxy and user agent, which is the only way Chrome picks up a
// proxy change.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"
)

// Config controls the behavior of the browsing session.
type Config struct {
	Headless        bool
	Proxy           string
	UserAgent       string
	NavTimeout      time.Duration
	SearchBaseURL   string
	WindowWidth     int
	WindowHeight    int
	ScrollPause     time.Duration
	DisableGPU      bool
	NoSandbox       bool
	SuppressImages  bool
	MaxNavPerSecond int
}

// Session implements leads.Browser using chromedp and headless Chrome.
type Session struct {
	cfg Config
	nav *rate.Limiter

	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
}

// New launches a browser session with the configured identity.
func New(cfg Config) (*Session, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if cfg.SearchBaseURL == "" {
		cfg.SearchBaseURL = "https://www.google.com"
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = 1500 * time.Millisecond
	}
	navPerSecond := cfg.MaxNavPerSecond
	if navPerSecond <= 0 {
		navPerSecond = 1
	}

	s := &Session{
		cfg: cfg,
		nav: rate.NewLimiter(rate.Limit(navPerSecond), 1),
	}
	if err := s.launch(cfg.Proxy, cfg.UserAgent); err != nil {
		return nil, err
	}
	return s, nil
}

// launch builds a fresh allocator and results tab. Callers hold s.mu or
// run before the session is shared.
func (s *Session) launch(proxy, userAgent string) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", s.cfg.DisableGPU),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(s.windowWidth(), s.windowHeight()),
	)
	if s.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if s.cfg.SuppressImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s.allocator = allocCtx
	s.allocCancel = allocCancel
	s.tab = tabCtx
	s.tabCancel = tabCancel
	return nil
}

func (s *Session) windowWidth() int {
	if s.cfg.WindowWidth > 0 {
		return s.cfg.WindowWidth
	}
	return 1280
}

func (s *Session) windowHeight() int {
	if s.cfg.WindowHeight > 0 {
		return s.cfg.WindowHeight
	}
	return 900
}

// OpenSearch navigates the results tab to the map search for
// query/location and returns the rendered HTML.
func (s *Session) OpenSearch(ctx context.Context, query, location string) (string, error) {
	if err := s.nav.Wait(ctx); err != nil {
		return "", fmt.Errorf("navigation pacing: %w", err)
	}

	searchURL := buildSearchURL(s.cfg.SearchBaseURL, query, location)

	tab, cancel := s.resultsTab(ctx)
	defer cancel()

	var html string
	err := chromedp.Run(tab,
		networkSetup(s.cfg.UserAgent),
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.ScrollPause),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("open search: %w", err)
	}
	return html, nil
}

// feedScrollJS scrolls the results feed by one viewport; falls back to
// the window when the feed container is absent.
const feedScrollJS = `(() => {
	const feed = document.querySelector("div[role='feed']");
	if (feed) {
		feed.scrollBy(0, feed.scrollHeight);
		return true;
	}
	window.scrollBy(0, document.body.scrollHeight);
	return false;
})()`

// ScrollResults performs one scroll iteration over the results feed and
// returns the rendered HTML afterwards.
func (s *Session) ScrollResults(ctx context.Context) (string, error) {
	tab, cancel := s.resultsTab(ctx)
	defer cancel()

	var (
		html       string
		feedScroll bool
	)
	err := chromedp.Run(tab,
		chromedp.Evaluate(feedScrollJS, &feedScroll),
		chromedp.Sleep(s.cfg.ScrollPause),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("scroll results: %w", err)
	}
	return html, nil
}

// DetailHTML opens a fresh tab, navigates to pageURL and returns the
// rendered HTML. The tab is torn down on every exit path.
func (s *Session) DetailHTML(ctx context.Context, pageURL string) (string, error) {
	if err := s.nav.Wait(ctx); err != nil {
		return "", fmt.Errorf("navigation pacing: %w", err)
	}

	s.mu.Lock()
	parent := s.tab
	s.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(parent)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer cancel()

	var html string
	err := chromedp.Run(tabCtx,
		networkSetup(s.cfg.UserAgent),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("detail navigation: %w", err)
	}
	return html, nil
}

// Restart tears the browser down and relaunches it using the given
// proxy ("" = direct connection) and user agent.
func (s *Session) Restart(_ context.Context, proxy, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tabCancel()
	s.allocCancel()
	s.cfg.Proxy = proxy
	s.cfg.UserAgent = userAgent
	if err := s.launch(proxy, userAgent); err != nil {
		return fmt.Errorf("relaunch browser: %w", err)
	}
	return nil
}

// Close shuts down the browser process.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabCancel()
	s.allocCancel()
}

// resultsTab returns the persistent results tab bounded by the caller's
// context and the navigation timeout.
func (s *Session) resultsTab(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	tab := s.tab
	s.mu.Unlock()

	bounded, cancelBound := context.WithTimeout(tab, s.cfg.NavTimeout)
	stop := context.AfterFunc(ctx, cancelBound)
	return bounded, func() {
		stop()
		cancelBound()
	}
}

// buildSearchURL composes the map-search URL for a query and optional
// location qualifier.
func buildSearchURL(base, query, location string) string {
	terms := strings.TrimSpace(query)
	if location = strings.TrimSpace(location); location != "" {
		terms += " " + location
	}
	return base + "/maps/search/" + url.PathEscape(terms)
}

func networkSetup(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}
