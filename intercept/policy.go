package intercept

import (
	"regexp"
	"time"
)

// CacheRule names a response cache and bounds its contents.
type CacheRule struct {
	Name       string
	MaxEntries int           // 0 means unbounded
	MaxAge     time.Duration // 0 means entries never expire
	Statuses   []int         // cacheable status codes, default 200
}

// Policy holds the routing and caching constants of the interception layer.
type Policy struct {
	// APIPattern selects API requests by substring of the request URL.
	APIPattern  string
	LoginAction string
	API         CacheRule

	FontStylesheetOrigin string
	FontStylesheets      CacheRule
	FontFileOrigin       string
	FontFiles            CacheRule
	Images               CacheRule
	Static               CacheRule

	SyncQueue      string
	RetryRetention time.Duration
	ReplayInterval time.Duration

	NavigationFallback string
	NavigationDenylist []*regexp.Regexp

	// SkipWaiting activates an installed version immediately.
	SkipWaiting  bool
	StoreTimeout time.Duration
}

// DefaultPolicy returns the production routing table.
func DefaultPolicy() *Policy {
	return &Policy{
		APIPattern:  "script.google.com/macros/s/",
		LoginAction: "login",
		API: CacheRule{
			Name:       "api-responses",
			MaxEntries: 50,
			MaxAge:     5 * time.Minute,
			Statuses:   []int{0, 200},
		},
		FontStylesheetOrigin: "https://fonts.googleapis.com",
		FontStylesheets:      CacheRule{Name: "google-fonts-stylesheets"},
		FontFileOrigin:       "https://fonts.gstatic.com",
		FontFiles: CacheRule{
			Name:       "google-fonts-webfonts",
			MaxEntries: 30,
			MaxAge:     365 * 24 * time.Hour,
			Statuses:   []int{0, 200},
		},
		Images: CacheRule{
			Name:       "images",
			MaxEntries: 60,
			MaxAge:     30 * 24 * time.Hour,
		},
		Static:             CacheRule{Name: "static-resources"},
		SyncQueue:          "api-sync-queue",
		RetryRetention:     24 * time.Hour,
		ReplayInterval:     time.Minute,
		NavigationFallback: "/index.html",
		NavigationDenylist: []*regexp.Regexp{
			regexp.MustCompile(`/sw\.js$`),
			regexp.MustCompile(`workbox-(.)*\.js$`),
		},
		SkipWaiting:  true,
		StoreTimeout: 1200 * time.Millisecond,
	}
}

func (p *Policy) applyDefaults() {
	d := DefaultPolicy()
	if p.APIPattern == "" {
		p.APIPattern = d.APIPattern
	}
	if p.LoginAction == "" {
		p.LoginAction = d.LoginAction
	}
	if p.API.Name == "" {
		p.API = d.API
	}
	if p.FontStylesheets.Name == "" {
		p.FontStylesheets = d.FontStylesheets
	}
	if p.FontFiles.Name == "" {
		p.FontFiles = d.FontFiles
	}
	if p.Images.Name == "" {
		p.Images = d.Images
	}
	if p.Static.Name == "" {
		p.Static = d.Static
	}
	if p.SyncQueue == "" {
		p.SyncQueue = d.SyncQueue
	}
	if p.RetryRetention <= 0 {
		p.RetryRetention = d.RetryRetention
	}
	if p.StoreTimeout <= 0 {
		p.StoreTimeout = d.StoreTimeout
	}
}
