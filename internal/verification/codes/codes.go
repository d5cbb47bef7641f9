// Package codes owns the validation code lifecycle: generation, hashing, expiry and
// (re)issuance against a patient record.
package codes

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"optout/internal/verification/models"
)

// Generator produces one-time codes.
type Generator interface {
	Generate() (string, error)
}

// Hasher protects codes at rest.
type Hasher interface {
	Hash(code string) ([]byte, error)
	Matches(hash []byte, code string) bool
}

// DigitGenerator draws uniformly random decimal digits.
type DigitGenerator struct {
	Length int
}

var ten = big.NewInt(10)

func (g DigitGenerator) Generate() (string, error) {
	if g.Length <= 0 {
		return "", fmt.Errorf("code length must be positive")
	}
	buf := make([]byte, g.Length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// BcryptHasher hashes codes with bcrypt at the configured cost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(code string) ([]byte, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}
	return hash, nil
}

func (h BcryptHasher) Matches(hash []byte, code string) bool {
	return len(hash) > 0 && bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil
}

// Lifecycle issues codes with a fixed TTL.
type Lifecycle struct {
	generator Generator
	hasher    Hasher
	ttl       time.Duration
}

func NewLifecycle(generator Generator, hasher Hasher, ttl time.Duration) *Lifecycle {
	return &Lifecycle{generator: generator, hasher: hasher, ttl: ttl}
}

func (l *Lifecycle) TTL() time.Duration {
	return l.ttl
}

// IsExpired is true when no code window is open: none was issued, the code was retired,
// or the expiry is at or before now. An invalidated code keeps its window open.
func IsExpired(p *models.Patient, now time.Time) bool {
	if p == nil || p.ValidationCodeExpiresOn == nil {
		return true
	}
	return !now.Before(*p.ValidationCodeExpiresOn)
}

// IsActive reports whether p holds a code that can still be matched.
func IsActive(p *models.Patient, now time.Time) bool {
	return p != nil && p.HasOutstandingCode() && !IsExpired(p, now)
}

// IssueOrReissue returns a copy of p carrying a fresh code expiring at now+TTL with the
// match time cleared. A non-nil snapshot replaces the stored demographics. The retry
// counter is zeroed only when resetRetry is set; p itself is never modified.
func (l *Lifecycle) IssueOrReissue(p *models.Patient, snapshot *models.Demographics, now time.Time, resetRetry bool) (*models.Patient, error) {
	code, err := l.generator.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := l.hasher.Hash(code)
	if err != nil {
		return nil, err
	}

	next := p.Clone()
	if snapshot != nil {
		next.Demographics = *snapshot
	}
	expires := now.Add(l.ttl)
	next.ValidationCode = code
	next.ValidationCodeHash = hash
	next.ValidationCodeExpiresOn = &expires
	next.ValidationCodeMatchedOn = nil
	next.DecisionTokenHash = nil
	next.VerifyFailures = 0
	if resetRetry {
		next.RetryCount = 0
	}
	next.UpdatedAt = now
	return next, nil
}

// Matches checks a presented code against the outstanding hash.
func (l *Lifecycle) Matches(p *models.Patient, code string) bool {
	return p.HasOutstandingCode() && l.hasher.Matches(p.ValidationCodeHash, code)
}

const decisionTokenBytes = 32

// IssueDecisionToken sets a fresh decision token hash on p and returns the plaintext.
// Any earlier token stops matching.
func (l *Lifecycle) IssueDecisionToken(p *models.Patient) (string, error) {
	buf := make([]byte, decisionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate decision token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	hash, err := l.hasher.Hash(token)
	if err != nil {
		return "", err
	}
	p.DecisionTokenHash = hash
	return token, nil
}

// MatchesDecisionToken checks a presented token against the one issued by the last match.
func (l *Lifecycle) MatchesDecisionToken(p *models.Patient, token string) bool {
	return token != "" && len(p.DecisionTokenHash) > 0 && l.hasher.Matches(p.DecisionTokenHash, token)
}
