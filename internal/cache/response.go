package cache

import (
	"sync/atomic"
	"time"
)

// ResponseKind discriminates the Response union.
type ResponseKind uint8

const (
	// ResponseBytes is a successful body-carrying response.
	ResponseBytes ResponseKind = iota
	// ResponseRedirect points the client at another location.
	ResponseRedirect
	// ResponseNotFound reports that the origin has no such object.
	ResponseNotFound
	// ResponseInternalError reports an origin or coordination failure.
	ResponseInternalError
)

// Response is the protocol-level payload a cache key resolves to. Exactly
// one variant is meaningful per value, selected by Kind; the other fields
// are zero.
type Response struct {
	Kind        ResponseKind
	ContentType string
	Body        []byte
	Location    string
}

// BodyLen returns the payload length in bytes. Non-body variants weigh
// nothing beyond the fixed per-entry overhead.
func (r Response) BodyLen() int {
	return len(r.Body)
}

const (
	// defaultMaxAge applies when the origin supplies no usable
	// cache-control metadata.
	defaultMaxAge = 7 * 24 * time.Hour
	// notFoundMaxAge caches origin 404s briefly so a missing asset under
	// heavy demand does not hammer the origin.
	notFoundMaxAge = 10 * time.Second
)

// CachedResponse is a Response captured at a point in time together with its
// freshness budget. MaxAge == 0 is a sentinel: the result is only handed to
// coalesced followers and never durably stored.
//
// CachedResponse values are shared between concurrent requests once settled;
// treat all fields as immutable after construction. Only the hit counter
// moves, and it is atomic.
type CachedResponse struct {
	Response   Response
	CapturedAt time.Time
	MaxAge     time.Duration

	hits atomic.Int64
}

// RecordHit increments the hit counter and returns its previous value, so
// the renderer can distinguish the first serve of an entry from later ones.
func (c *CachedResponse) RecordHit() int64 {
	return c.hits.Add(1) - 1
}

// Hits returns the number of times this entry has been served.
func (c *CachedResponse) Hits() int64 {
	return c.hits.Load()
}

// BytesResponse builds a successful cacheable result.
func BytesResponse(contentType string, body []byte, maxAge time.Duration) *CachedResponse {
	return &CachedResponse{
		Response:   Response{Kind: ResponseBytes, ContentType: contentType, Body: body},
		CapturedAt: time.Now(),
		MaxAge:     maxAge,
	}
}

// RedirectResponse builds a redirect result. Redirects are never durably
// cached.
func RedirectResponse(location string) *CachedResponse {
	return &CachedResponse{
		Response:   Response{Kind: ResponseRedirect, Location: location},
		CapturedAt: time.Now(),
	}
}

// NotFoundResponse builds the briefly-cacheable result for a confirmed
// origin miss.
func NotFoundResponse() *CachedResponse {
	return &CachedResponse{
		Response:   Response{Kind: ResponseNotFound},
		CapturedAt: time.Now(),
		MaxAge:     notFoundMaxAge,
	}
}

// TimeoutResponse builds the never-cached result for an origin deadline
// overrun.
func TimeoutResponse() *CachedResponse {
	return &CachedResponse{
		Response:   Response{Kind: ResponseInternalError},
		CapturedAt: time.Now(),
	}
}

// InternalErrorResponse builds the never-cached result for any other origin
// or coordination failure.
func InternalErrorResponse() *CachedResponse {
	return &CachedResponse{
		Response:   Response{Kind: ResponseInternalError},
		CapturedAt: time.Now(),
	}
}
