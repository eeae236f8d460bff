package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// SessionToken is an opaque token issued for SFTP authentication: the SSH
// password field carries this value, and the username carries the
// workload id (spec section 4.7).
type SessionToken struct {
	Token      string
	WorkloadID string
	PrincipalID string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// TokenManager issues and validates SFTP session tokens in memory.
type TokenManager struct {
	tokens map[string]*SessionToken
	mu     sync.RWMutex
}

func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]*SessionToken)}
}

// Issue mints a new token bound to a workload and the principal it was
// issued to, valid for duration.
func (tm *TokenManager) Issue(workloadID, principalID string, duration time.Duration) (*SessionToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	st := &SessionToken{
		Token:       hex.EncodeToString(raw),
		WorkloadID:  workloadID,
		PrincipalID: principalID,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(duration),
	}

	tm.mu.Lock()
	tm.tokens[st.Token] = st
	tm.mu.Unlock()

	return st, nil
}

// Validate checks the token against workloadID (the SFTP username) and
// returns the principal it was issued to.
func (tm *TokenManager) Validate(token, workloadID string) (*SessionToken, error) {
	tm.mu.RLock()
	st, exists := tm.tokens[token]
	tm.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("invalid token")
	}
	if time.Now().After(st.ExpiresAt) {
		return nil, fmt.Errorf("token expired")
	}
	if st.WorkloadID != workloadID {
		return nil, fmt.Errorf("token not valid for workload %s", workloadID)
	}
	return st, nil
}

func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired removes expired tokens; call periodically from a
// background ticker (see pkg/reconciler).
func (tm *TokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for token, st := range tm.tokens {
		if now.After(st.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
