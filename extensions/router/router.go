// Package router dispatches pushwire topic events to handlers selected
// by topic pattern, so callers can fan one event stream out to
// per-concern handlers instead of switching on topic strings.
package router

import (
	"strings"
	"sync"

	"github.com/pushwire/pushwire"
)

// Handler processes a topic event.
type Handler func(ev pushwire.EventPayload)

// Router matches events against registered topic patterns. Patterns are
// dot-separated segments; "*" matches exactly one segment and "#" as the
// final segment matches any non-empty remainder. Every matching handler
// runs, in registration order.
type Router struct {
	mu       sync.RWMutex
	routes   []route
	fallback Handler
}

type route struct {
	pattern []string
	handler Handler
}

// New creates an empty router.
func New() *Router {
	return &Router{}
}

// Handle registers a handler for a topic pattern. Registering the same
// pattern twice adds a second handler rather than replacing the first.
func (r *Router) Handle(pattern string, h Handler) {
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes = append(r.routes, route{
		pattern: strings.Split(pattern, "."),
		handler: h,
	})
}

// Fallback registers a handler for events no pattern matched.
func (r *Router) Fallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallback = h
}

// Dispatch routes one event. It reports whether any pattern matched; the
// fallback does not count as a match.
func (r *Router) Dispatch(ev pushwire.EventPayload) bool {
	r.mu.RLock()
	segments := strings.Split(ev.Topic, ".")

	var matched []Handler
	for _, rt := range r.routes {
		if matchPattern(rt.pattern, segments) {
			matched = append(matched, rt.handler)
		}
	}
	fallback := r.fallback
	r.mu.RUnlock()

	for _, h := range matched {
		h(ev)
	}

	if len(matched) == 0 {
		if fallback != nil {
			fallback(ev)
		}
		return false
	}
	return true
}

// Run dispatches every event from the channel until it closes. It is
// meant to be run as a goroutine over a client's Events channel.
func (r *Router) Run(events <-chan pushwire.EventPayload) {
	for ev := range events {
		r.Dispatch(ev)
	}
}

// matchPattern matches topic segments against pattern segments.
func matchPattern(pattern, topic []string) bool {
	for i, p := range pattern {
		if p == "#" && i == len(pattern)-1 {
			return len(topic) > i
		}
		if i >= len(topic) {
			return false
		}
		if p != "*" && p != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}
