package snapshot

import (
	"context"
	"fmt"

	"margin-repeater/contracts"

	"github.com/ethereum/go-ethereum/common"
)

// Owner returns the owner of a smart margin account.
func (p *ChainProvider) Owner(ctx context.Context, account common.Address) (common.Address, error) {
	out, err := p.call(ctx, contracts.SmartMarginAccount, account, "owner")
	if err != nil {
		return common.Address{}, fmt.Errorf("fetch owner of %s: %w", account.Hex(), err)
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("owner: unexpected result type %T", out[0])
	}
	return owner, nil
}

// CanExecute reports whether executor may call execute on the account,
// either as its owner or as a registered delegate.
func (p *ChainProvider) CanExecute(ctx context.Context, account, executor common.Address) (bool, error) {
	owner, err := p.Owner(ctx, account)
	if err != nil {
		return false, err
	}
	if owner == executor {
		return true, nil
	}
	out, err := p.call(ctx, contracts.SmartMarginAccount, account, "delegates", executor)
	if err != nil {
		return false, fmt.Errorf("fetch delegate status: %w", err)
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

// AccountsOwnedBy lists the smart margin accounts the factory created for owner.
func (p *ChainProvider) AccountsOwnedBy(ctx context.Context, factory, owner common.Address) ([]common.Address, error) {
	out, err := p.call(ctx, contracts.SmartMarginFactory, factory, "getAccountsOwnedBy", owner)
	if err != nil {
		return nil, fmt.Errorf("fetch accounts of %s: %w", owner.Hex(), err)
	}
	accounts, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("getAccountsOwnedBy: unexpected result type %T", out[0])
	}
	return accounts, nil
}
