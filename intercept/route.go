package intercept

import (
	"net/http"
	"path"
	"strings"
)

// Class is the request class that selects a strategy.
type Class int

const (
	ClassPassthrough Class = iota
	ClassAPI
	ClassFontStylesheet
	ClassFontFile
	ClassImage
	ClassStatic
	ClassNavigation
)

func (c Class) String() string {
	switch c {
	case ClassAPI:
		return "api"
	case ClassFontStylesheet:
		return "font-stylesheet"
	case ClassFontFile:
		return "font-file"
	case ClassImage:
		return "image"
	case ClassStatic:
		return "static"
	case ClassNavigation:
		return "navigation"
	default:
		return "passthrough"
	}
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true, ".avif": true,
}

// Classify routes req. API requests are POSTs whose URL contains
// APIPattern; every other class is GET only.
func (p *Policy) Classify(req *http.Request) Class {
	if req.Method == http.MethodPost && p.APIPattern != "" && strings.Contains(req.URL.String(), p.APIPattern) {
		return ClassAPI
	}
	if req.Method != http.MethodGet {
		return ClassPassthrough
	}

	origin := req.URL.Scheme + "://" + req.URL.Host
	switch {
	case p.FontStylesheetOrigin != "" && origin == p.FontStylesheetOrigin:
		return ClassFontStylesheet
	case p.FontFileOrigin != "" && origin == p.FontFileOrigin:
		return ClassFontFile
	}

	switch destination(req) {
	case "image":
		return ClassImage
	case "script", "style":
		return ClassStatic
	case "document":
		return ClassNavigation
	}
	return ClassPassthrough
}

// destination mirrors the Fetch destination of req, from Sec-Fetch-Dest or
// the path extension.
func destination(req *http.Request) string {
	if dest := req.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest
	}
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return "document"
	}

	ext := strings.ToLower(path.Ext(req.URL.Path))
	switch {
	case imageExtensions[ext]:
		return "image"
	case ext == ".js" || ext == ".mjs":
		return "script"
	case ext == ".css":
		return "style"
	}
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		return "document"
	}
	return ""
}

// denied reports whether a navigation to req must bypass the fallback.
func (p *Policy) denied(req *http.Request) bool {
	for _, re := range p.NavigationDenylist {
		if re.MatchString(req.URL.Path) {
			return true
		}
	}
	return false
}
