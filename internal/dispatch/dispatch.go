// Package dispatch wires the Request Dispatcher described by spec.md §4.7:
// normalize, referer-gate, fingerprint, cache lookup, single-flight join,
// fetch, and response. Grounded on server/server.go's buildHandler, which
// performs the same normalize→authorize→lookup→origin-fetch→respond chain
// for the teacher's object store, adapted here to the fixed eight-component
// pipeline this spec calls for.
package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/omalloc/imgproxy/contrib/log"
	"github.com/omalloc/imgproxy/internal/cachestore"
	"github.com/omalloc/imgproxy/internal/constants"
	"github.com/omalloc/imgproxy/internal/errimage"
	"github.com/omalloc/imgproxy/internal/fetch"
	"github.com/omalloc/imgproxy/internal/fingerprint"
	"github.com/omalloc/imgproxy/internal/flight"
	"github.com/omalloc/imgproxy/internal/hostcounter"
	"github.com/omalloc/imgproxy/internal/normalize"
	"github.com/omalloc/imgproxy/internal/refgate"
	"github.com/omalloc/imgproxy/metrics"
	perrors "github.com/omalloc/imgproxy/pkg/errors"
	"github.com/omalloc/imgproxy/pkg/xhttp"
)

// Handler is the dispatcher's http.Handler implementation.
type Handler struct {
	Gate        *refgate.Gate
	Store       *cachestore.Store
	Fetcher     *fetch.Fetcher
	Flight      *flight.Registry[fetch.Result]
	Errors      *errimage.Set
	HostCounter *hostcounter.Counter

	// BypassHosts names upstream hosts that always skip the cache read
	// (the fetched result is still written to the store), resolving spec.md §9's open question about a gravatar.com-style
	// bypass list.
	BypassHosts map[string]struct{}
}

var _ http.Handler = (*Handler)(nil)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cacheStatus := "miss"

	defer func() {
		metrics.RequestDuration.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
		metrics.FromContext(r.Context()).CacheStatus = cacheStatus
	}()

	if r.URL.Path == "/favicon.ico" {
		metrics.RequestsTotal.WithLabelValues("reject", "404").Inc()
		http.NotFound(w, r)
		return
	}

	result := normalize.Parse(r.URL.Path)
	if result.Reject {
		metrics.RequestsTotal.WithLabelValues("reject", "404").Inc()
		http.NotFound(w, r)
		return
	}

	if h.Gate.Check(r.Header.Get("Referer")) == refgate.Redirect {
		metrics.RequestsTotal.WithLabelValues("reject", "301").Inc()
		http.Redirect(w, r, result.URL, http.StatusMovedPermanently)
		return
	}

	host := upstreamHost(result.URL)
	if h.HostCounter != nil && host != "" {
		if count, err := h.HostCounter.Incr(host); err != nil {
			log.Errorf("dispatch: host counter incr %s: %v", host, err)
		} else {
			metrics.HostRequestsTotal.WithLabelValues(host).Set(float64(count))
		}
	}

	id := fingerprint.New(result.URL, result.Options.Suffix())

	if trace := r.Header.Get(constants.InternalTraceKey); trace != "" {
		w.Header().Set("X-Internal-Fingerprint", id.Key())
	}

	if !h.bypass(r, host) {
		if served := h.tryCache(w, r, id); served != "" {
			cacheStatus = served
			code := "200"
			if served == "not_modified" {
				code = "304"
			}
			metrics.RequestsTotal.WithLabelValues(cacheStatus, code).Inc()
			return
		}
	}

	cacheStatus = h.fetchAndRespond(w, r, id, result)
}

// bypass reports whether the request should skip the cache read, per
// spec.md §4.7 step 4: an explicit uncache=1 query marker or a configured
// bypass host. The fetch path still writes its result into the store.
func (h *Handler) bypass(r *http.Request, host string) bool {
	if r.URL.Query().Get("uncache") == "1" {
		return true
	}
	if host == "" || h.BypassHosts == nil {
		return false
	}
	_, ok := h.BypassHosts[host]
	return ok
}

// tryCache attempts to serve entirely from the cache store, returning the
// cache-status label used to serve the response, or "" if nothing usable
// was found and the caller should fall through to the fetch path.
func (h *Handler) tryCache(w http.ResponseWriter, r *http.Request, id fingerprint.ID) string {
	md, err := h.Store.Lookup(id)
	if err == cachestore.ErrAbsent {
		return ""
	}
	if err != nil {
		log.Errorf("dispatch: cache lookup %s: %v", id.Key(), err)
		return ""
	}

	if md.StickyError != "" {
		w.Header().Set(constants.ProtocolCacheStatusKey, "sticky_"+md.StickyError)
		h.Errors.Serve(w, errimage.Tag(md.StickyError))
		return "sticky_" + md.StickyError
	}

	if xhttp.NotModified(r.Header, md.ETag, md.LastModified) {
		hdr := w.Header()
		hdr.Set("ETag", md.ETag)
		hdr.Set("Last-Modified", md.LastModified)
		hdr.Set(constants.ProtocolCacheStatusKey, "not_modified")
		w.WriteHeader(http.StatusNotModified)
		return "not_modified"
	}

	f, err := h.Store.Open(id)
	if err != nil {
		log.Errorf("dispatch: open payload %s: %v", id.Key(), err)
		return ""
	}
	defer f.Close()

	xhttp.CopyHeader(w.Header(), md.Headers())
	w.Header().Set(constants.ProtocolCacheStatusKey, "hit")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.Errorf("dispatch: stream payload %s: %v", id.Key(), err)
	}
	return "hit"
}

// fetchAndRespond joins the Single-Flight Registry for id, spawning the
// Fetcher if leader, and writes whatever the fan-out delivers.
func (h *Handler) fetchAndRespond(w http.ResponseWriter, r *http.Request, id fingerprint.ID, result normalize.Result) string {
	waiter, isLeader := h.Flight.Join(id.Key())
	if isLeader {
		metrics.FlightInFlight.Inc()
		// The leader's own r.Context() is tied to its particular client
		// connection and is cancelled the instant that one client goes
		// away. Run the shared fetch against a context detached from any
		// single waiter, so the leader dropping can't abort the transfer
		// every other coalesced waiter is still waiting on; OuterGuard
		// inside Fetch still bounds how long it can run.
		fetchCtx := context.WithoutCancel(r.Context())
		go func() {
			defer metrics.FlightInFlight.Dec()
			res := h.Fetcher.Fetch(fetchCtx, id, result.URL, result.Options)
			h.Flight.Complete(id.Key(), res)
		}()
	} else {
		metrics.FlightWaitersTotal.Inc()
	}

	select {
	case res := <-waiter.Ch():
		return h.writeFetchResult(w, res)
	case <-r.Context().Done():
		h.Flight.Drop(waiter)
		return "client_gone"
	}
}

func (h *Handler) writeFetchResult(w http.ResponseWriter, res fetch.Result) string {
	if res.Err != nil {
		switch res.Err.Kind {
		case perrors.KindTooLarge:
			w.Header().Set(constants.ProtocolCacheStatusKey, "toolarge")
			h.Errors.Serve(w, errimage.TooLarge)
			return "toolarge"
		case perrors.KindBadFormat:
			w.Header().Set(constants.ProtocolCacheStatusKey, "badformat")
			h.Errors.Serve(w, errimage.BadFormat)
			return "badformat"
		case perrors.KindUpstreamStatus, perrors.KindUpstreamTransport:
			w.Header().Set(constants.ProtocolCacheStatusKey, "cannotread")
			h.Errors.Serve(w, errimage.CannotRead)
			return "cannotread"
		default:
			code := res.Err.Code
			if code == 0 {
				code = http.StatusInternalServerError
			}
			http.Error(w, "internal error", code)
			return "error"
		}
	}

	f, err := os.Open(res.PayloadPath)
	if err != nil {
		log.Errorf("dispatch: open fetched payload %s: %v", res.PayloadPath, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return "error"
	}
	defer f.Close()

	xhttp.CopyHeader(w.Header(), res.Headers)
	w.Header().Set(constants.ProtocolCacheStatusKey, "fetched")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.Errorf("dispatch: stream fetched payload: %v", err)
	}
	return "fetched"
}

func upstreamHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
