// Package mocksite serves canned business websites for tests.
package mocksite

import (
	"net/http"
	"sync"
	"time"
)

// Call records a request made to the mock site.
type Call struct {
	Method    string
	Path      string
	UserAgent string
}

// Page is the canned response for one path.
type Page struct {
	Status int
	Body   string

	// Delay is slept before responding, aborted if the client goes away.
	Delay time.Duration
	// FailFirst makes the first N requests answer 503.
	FailFirst int
	// RedirectTo answers 302 to this location instead of the body.
	RedirectTo string
	// RetryAfter is sent verbatim as the Retry-After header when set.
	RetryAfter string
}

// Server is a minimal host for business websites.
type Server struct {
	mu    sync.Mutex
	calls []Call
	pages map[string]*pageState
}

type pageState struct {
	page Page
	hits int
}

// New constructs an empty mock site.
func New() *Server {
	return &Server{pages: make(map[string]*pageState)}
}

// SetPage installs or replaces the page served at path.
func (s *Server) SetPage(path string, p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = &pageState{page: p}
}

// HTML installs a 200 page with body at path.
func (s *Server) HTML(path, body string) {
	s.SetPage(path, Page{Status: http.StatusOK, Body: body})
}

// Handler returns an http.Handler that serves the installed pages.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Hits reports how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.pages[path]; ok {
		return st.hits
	}
	n := 0
	for _, c := range s.calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, UserAgent: r.UserAgent()})
	st, ok := s.pages[r.URL.Path]
	var p Page
	hit := 0
	if ok {
		st.hits++
		hit = st.hits
		p = st.page
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		select {
		case <-t.C:
		case <-r.Context().Done():
			t.Stop()
			return
		}
	}
	if hit <= p.FailFirst {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if p.RedirectTo != "" {
		http.Redirect(w, r, p.RedirectTo, http.StatusFound)
		return
	}
	status := p.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if p.RetryAfter != "" {
		w.Header().Set("Retry-After", p.RetryAfter)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(p.Body))
}
