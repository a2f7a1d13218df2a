package api

import (
	"sync"
	"time"
)

// tokenTTL matches the remote API's JWT lifetime.
const tokenTTL = 24 * time.Hour

// Session holds the shared mutable client state: the cached bearer token and
// the rotating outgoing identity. The pipeline is sequential by design, but
// the mutex keeps refresh correct if a caller ever parallelizes.
type Session struct {
	mu          sync.Mutex
	token       string
	expiry      time.Time
	identities  []string
	identityIdx int
	now         func() time.Time
}

func NewSession(identities []string) *Session {
	if len(identities) == 0 {
		identities = defaultIdentities()
	}
	return &Session{
		identities: identities,
		now:        time.Now,
	}
}

// Token returns the cached bearer token and whether it is still valid.
func (s *Session) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != "" && s.now().Before(s.expiry)
}

func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiry = s.now().Add(tokenTTL)
}

// Invalidate drops the cached token so the next call re-authenticates.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}

// Identity returns the current outgoing user-agent string.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identities[s.identityIdx%len(s.identities)]
}

// RotateIdentity advances to the next user-agent and returns it. Called when
// the server's defense heuristics reject a request, so the retry does not
// present the same client fingerprint.
func (s *Session) RotateIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identityIdx++
	return s.identities[s.identityIdx%len(s.identities)]
}

func defaultIdentities() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
