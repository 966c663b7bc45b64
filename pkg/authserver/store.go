package authserver

import (
	"errors"
	"sync"
	"time"

	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
)

// codeTTL bounds how long an issued downstream code stays redeemable.
const codeTTL = 2 * time.Minute

var ErrGrantNotFound = errors.New("grant not found")

// Grant records a completed authorization: the original request, the
// authenticated user and the session props. The code is single-use; the
// grant itself lives on for token verification.
type Grant struct {
	ID        string
	Code      string
	Request   *oauth2.AuthorizationRequest
	UserID    string
	Metadata  map[string]string
	Props     oauth2.Props
	CreatedAt time.Time
}

type GrantStore interface {
	SaveGrant(grant *Grant) error
	GetGrant(id string) (*Grant, error)
	// RedeemCode atomically resolves and invalidates a downstream code.
	RedeemCode(code string) (*Grant, error)
	DeleteGrant(id string) error
}

type memoryGrantStore struct {
	grants map[string]*Grant
	codes  map[string]string
	lock   sync.RWMutex
}

// NewMemoryGrantStore returns the in-process store used by default. Grants
// do not survive a restart; clients simply re-authorize.
func NewMemoryGrantStore() GrantStore {
	return &memoryGrantStore{
		grants: make(map[string]*Grant),
		codes:  make(map[string]string),
	}
}

func (s *memoryGrantStore) SaveGrant(grant *Grant) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.grants[grant.ID] = grant
	if grant.Code != "" {
		s.codes[grant.Code] = grant.ID
	}
	return nil
}

func (s *memoryGrantStore) GetGrant(id string) (*Grant, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	grant, ok := s.grants[id]
	if !ok {
		return nil, ErrGrantNotFound
	}
	return grant, nil
}

func (s *memoryGrantStore) RedeemCode(code string) (*Grant, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	id, ok := s.codes[code]
	if !ok {
		return nil, ErrGrantNotFound
	}
	delete(s.codes, code)

	grant, ok := s.grants[id]
	if !ok {
		return nil, ErrGrantNotFound
	}
	if time.Since(grant.CreatedAt) > codeTTL {
		delete(s.grants, id)
		return nil, ErrGrantNotFound
	}

	grant.Code = ""
	return grant, nil
}

func (s *memoryGrantStore) DeleteGrant(id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	grant, ok := s.grants[id]
	if !ok {
		return nil
	}
	if grant.Code != "" {
		delete(s.codes, grant.Code)
	}
	delete(s.grants, id)
	return nil
}
