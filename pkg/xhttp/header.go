// Package xhttp holds small net/http header helpers shared by the fetcher
// and the dispatcher. Adapted from pkg/x/http/header.go.
package xhttp

import (
	"net/http"
	"net/textproto"
	"strings"
)

// CopyHeader copies all headers from src into dst.
func CopyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = make([]string, 0, len(vv))
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// Hop-by-hop headers, removed before replaying a response to a client or
// forwarding a request upstream.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopByHopHeaders strips hop-by-hop headers from h, including any
// headers it names via its own Connection field.
func RemoveHopByHopHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
	for _, f := range hopHeaders {
		h.Del(f)
	}
}

// IsChunked reports whether h describes a chunked or length-unknown body.
func IsChunked(h http.Header) bool {
	return h.Get("Transfer-Encoding") == "chunked" || h.Get("Content-Length") == ""
}

// NotModified reports whether a request carrying the given conditional
// headers should be answered with 304 Not Modified against the stored etag
// and lastModified values.
func NotModified(reqHeader http.Header, etag, lastModified string) bool {
	if inm := reqHeader.Get("If-None-Match"); inm != "" {
		return matchesAny(inm, etag)
	}
	if ims := reqHeader.Get("If-Modified-Since"); ims != "" && lastModified != "" {
		return ims == lastModified
	}
	return false
}

func matchesAny(header, etag string) bool {
	if etag == "" {
		return false
	}
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		tag = strings.TrimPrefix(tag, "W/")
		if tag == "*" || tag == etag {
			return true
		}
	}
	return false
}
