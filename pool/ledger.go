package pool

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/defistate/defistate-amm-go/fixedpoint"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LiquidityLedger tracks per-provider share balances. The sum of all balances
// always equals the total supply. It is not safe for concurrent use.
type LiquidityLedger struct {
	balances map[common.Address]*uint256.Int
	total    *uint256.Int
}

// NewLiquidityLedger returns an empty ledger.
func NewLiquidityLedger() *LiquidityLedger {
	return &LiquidityLedger{
		balances: make(map[common.Address]*uint256.Int),
		total:    new(uint256.Int),
	}
}

// Mint credits shares to provider and grows the supply.
func (l *LiquidityLedger) Mint(provider common.Address, shares *uint256.Int) error {
	if shares == nil || shares.IsZero() {
		return fmt.Errorf("%w: mint of zero shares", ErrInvalidAmount)
	}
	total, err := fixedpoint.Add(l.total, shares)
	if err != nil {
		return fmt.Errorf("share supply: %w", err)
	}
	balance, ok := l.balances[provider]
	if !ok {
		balance = new(uint256.Int)
	}
	// balance <= total, so this cannot overflow once the supply did not
	l.balances[provider] = new(uint256.Int).Add(balance, shares)
	l.total = total
	return nil
}

// Burn debits shares from provider and shrinks the supply.
func (l *LiquidityLedger) Burn(provider common.Address, shares *uint256.Int) error {
	if shares == nil || shares.IsZero() {
		return fmt.Errorf("%w: burn of zero shares", ErrInvalidAmount)
	}
	balance, ok := l.balances[provider]
	if !ok || balance.Lt(shares) {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShares, provider.Hex(), l.balanceOf(provider).Dec(), shares.Dec())
	}
	remaining := new(uint256.Int).Sub(balance, shares)
	if remaining.IsZero() {
		delete(l.balances, provider)
	} else {
		l.balances[provider] = remaining
	}
	l.total = new(uint256.Int).Sub(l.total, shares)
	return nil
}

func (l *LiquidityLedger) balanceOf(provider common.Address) *uint256.Int {
	if balance, ok := l.balances[provider]; ok {
		return balance
	}
	return new(uint256.Int)
}

// BalanceOf returns a copy of provider's share balance.
func (l *LiquidityLedger) BalanceOf(provider common.Address) *uint256.Int {
	return l.balanceOf(provider).Clone()
}

// TotalSupply returns a copy of the share supply.
func (l *LiquidityLedger) TotalSupply() *uint256.Int {
	return l.total.Clone()
}

// Providers returns the number of providers holding shares.
func (l *LiquidityLedger) Providers() int {
	return len(l.balances)
}

// Positions returns every non-zero balance sorted by provider address.
func (l *LiquidityLedger) Positions() []constantproduct.Position {
	positions := make([]constantproduct.Position, 0, len(l.balances))
	for provider, shares := range l.balances {
		positions = append(positions, constantproduct.Position{Provider: provider, Shares: shares.Clone()})
	}
	sort.Slice(positions, func(i, j int) bool {
		return bytes.Compare(positions[i].Provider[:], positions[j].Provider[:]) < 0
	})
	return positions
}
