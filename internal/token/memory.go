package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"landgrid/pkg/domain"
	"landgrid/pkg/platform/sentinel"
)

// MemoryLedger is an in-process payment-token ledger. It backs local
// deployments and test fixtures; production points the settlement engine at
// the real token through an adapter.
type MemoryLedger struct {
	mu         sync.RWMutex
	balances   map[domain.Account]*uint256.Int
	allowances map[domain.Account]map[domain.Account]*uint256.Int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[domain.Account]*uint256.Int),
		allowances: make(map[domain.Account]map[domain.Account]*uint256.Int),
	}
}

func (l *MemoryLedger) BalanceOf(_ context.Context, account domain.Account) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(account).Clone(), nil
}

func (l *MemoryLedger) Allowance(_ context.Context, owner, spender domain.Account) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowanceLocked(owner, spender).Clone(), nil
}

func (l *MemoryLedger) TransferFrom(_ context.Context, spender, from, to domain.Account, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowanceLocked(from, spender)
	if allowance.Lt(amount) {
		return fmt.Errorf("allowance %s below transfer %s: %w", allowance.Dec(), amount.Dec(), sentinel.ErrConflict)
	}
	if err := l.moveLocked(from, to, amount); err != nil {
		return err
	}
	l.allowances[from][spender] = new(uint256.Int).Sub(allowance, amount)
	return nil
}

// Mint credits freshly issued tokens to an account. Fixture/dev only.
func (l *MemoryLedger) Mint(_ context.Context, to domain.Account, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), amount)
}

// Transfer moves tokens on the owner's own authority.
func (l *MemoryLedger) Transfer(_ context.Context, from, to domain.Account, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(from, to, amount)
}

// Approve sets spender's allowance over owner's balance.
func (l *MemoryLedger) Approve(_ context.Context, owner, spender domain.Account, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[domain.Account]*uint256.Int)
	}
	l.allowances[owner][spender] = amount.Clone()
}

func (l *MemoryLedger) balanceLocked(account domain.Account) *uint256.Int {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return uint256.NewInt(0)
}

func (l *MemoryLedger) allowanceLocked(owner, spender domain.Account) *uint256.Int {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return uint256.NewInt(0)
}

func (l *MemoryLedger) moveLocked(from, to domain.Account, amount *uint256.Int) error {
	balance := l.balanceLocked(from)
	if balance.Lt(amount) {
		return fmt.Errorf("balance %s below transfer %s: %w", balance.Dec(), amount.Dec(), sentinel.ErrConflict)
	}
	l.balances[from] = new(uint256.Int).Sub(balance, amount)
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), amount)
	return nil
}
