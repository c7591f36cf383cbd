package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/maltedev/lmpc-scraper/internal/models"
)

var ErrInvalidURL = errors.New("invalid product url")

// IdentityKey normalizes a product URL into the key used for
// deduplication: the query string and fragment are dropped and the scheme
// and host are lower-cased.
func IdentityKey(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return u.String(), nil
}

type entry struct {
	done   chan struct{}
	record *models.ProductRecord
	report *models.ValidationReport
	err    error
}

// session remembers every identity key processed during the orchestrator's
// lifetime. The first caller for a key owns the run; later callers wait on
// the same entry.
type session struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newSession() *session {
	return &session{entries: make(map[string]*entry)}
}

// claim returns the entry for key and whether the caller must run the
// pipeline for it.
func (s *session) claim(key string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e, false
	}
	e := &entry{done: make(chan struct{})}
	s.entries[key] = e
	return e, true
}

// finish publishes the outcome of a run. A failed run is forgotten so a
// later call can try again.
func (s *session) finish(key string, e *entry, record *models.ProductRecord, report *models.ValidationReport, err error) {
	s.mu.Lock()
	e.record, e.report, e.err = record, report, err
	if err != nil {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	close(e.done)
}

func (s *session) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
