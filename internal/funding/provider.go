package funding

import (
	"sync"

	"photobooth/internal/domain"
)

// Provider exposes the balances the gateway checks before submitting work.
// Reads are synchronous; Switch changes the active payment token.
type Provider interface {
	Balance(token domain.FundingToken) int64
	Active() domain.FundingToken
	Switch(token domain.FundingToken)
}

// MemoryProvider is a mutex-guarded in-memory Provider. The wallet UI
// updates balances through SetBalance; the orchestrator only reads them.
type MemoryProvider struct {
	mu       sync.Mutex
	active   domain.FundingToken
	balances map[domain.FundingToken]int64
}

// NewMemoryProvider starts with the given active token and zero balances.
func NewMemoryProvider(active domain.FundingToken) *MemoryProvider {
	if active == "" {
		active = domain.TokenCredits
	}
	return &MemoryProvider{
		active:   active,
		balances: make(map[domain.FundingToken]int64),
	}
}

func (p *MemoryProvider) Balance(token domain.FundingToken) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[token]
}

func (p *MemoryProvider) Active() domain.FundingToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *MemoryProvider) Switch(token domain.FundingToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = token
}

// SetBalance overwrites the balance for a token.
func (p *MemoryProvider) SetBalance(token domain.FundingToken, amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[token] = amount
}

// Deduct subtracts amount from a token balance, clamping at zero.
func (p *MemoryProvider) Deduct(token domain.FundingToken, amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rest := p.balances[token] - amount
	if rest < 0 {
		rest = 0
	}
	p.balances[token] = rest
}

var _ Provider = (*MemoryProvider)(nil)
