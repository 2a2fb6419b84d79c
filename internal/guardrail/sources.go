package guardrail

import (
	"context"
	"sync"
	"time"
)

// MemoryQualityScores is a map-backed QualityScoreSource.
type MemoryQualityScores struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewMemoryQualityScores creates an empty source.
func NewMemoryQualityScores() *MemoryQualityScores {
	return &MemoryQualityScores{scores: make(map[string]float64)}
}

// Set records a campaign's 30-day impression-weighted quality score.
func (m *MemoryQualityScores) Set(campaignID string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[campaignID] = score
}

func (m *MemoryQualityScores) QualityScore(_ context.Context, campaignID string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	score, ok := m.scores[campaignID]
	return score, ok, nil
}

// MemoryLandingPageHealth is a map-backed LandingPageHealthSource.
type MemoryLandingPageHealth struct {
	mu     sync.RWMutex
	health map[string]float64
}

// NewMemoryLandingPageHealth creates an empty source.
func NewMemoryLandingPageHealth() *MemoryLandingPageHealth {
	return &MemoryLandingPageHealth{health: make(map[string]float64)}
}

// Set records a campaign's worst landing-page health score.
func (m *MemoryLandingPageHealth) Set(campaignID string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[campaignID] = score
}

func (m *MemoryLandingPageHealth) WorstHealth(_ context.Context, campaignID string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	score, ok := m.health[campaignID]
	return score, ok, nil
}

// MemoryClaims is a map-backed ClaimsSource.
type MemoryClaims struct {
	mu        sync.RWMutex
	validated map[string]time.Time
}

// NewMemoryClaims creates an empty source.
func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{validated: make(map[string]time.Time)}
}

// Set records when a campaign's claims were last validated.
func (m *MemoryClaims) Set(campaignID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validated[campaignID] = at
}

func (m *MemoryClaims) LastValidated(_ context.Context, campaignID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.validated[campaignID]
	return at, ok, nil
}
