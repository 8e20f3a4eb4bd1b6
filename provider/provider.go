// Package provider is the wallet-provider boundary: the narrow surface the
// engine needs from an injected wallet (account access, active network,
// change notifications). The wallet itself — key custody, signing prompts —
// lives behind this interface and is never reimplemented here.
package provider

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnavailable means no wallet provider is reachable. Fatal for the
	// session; never retried automatically.
	ErrUnavailable = errors.New("wallet provider unavailable")

	// ErrRejected means the user declined the request in the wallet.
	ErrRejected = errors.New("request rejected by user")
)

// Events carries provider-emitted notifications. Either callback may be nil.
type Events struct {
	// OnAccountsChanged fires with the full new account list. An empty
	// list means the wallet revoked access.
	OnAccountsChanged func(accounts []string)

	// OnChainChanged fires with the new active network id.
	OnChainChanged func(chainID uint64)
}

// Provider is the injected browser-extension equivalent.
type Provider interface {
	// RequestAccounts prompts for account access and returns the unlocked
	// addresses. An empty list is "no account".
	RequestAccounts() ([]string, error)

	// ChainID returns the provider's active network id.
	ChainID() (uint64, error)

	// SwitchChain asks the wallet to activate the given network.
	SwitchChain(chainID uint64) error

	// AddChain registers a network unknown to the wallet, then activates it.
	AddChain(chainID uint64, name string, rpcURL string) error

	// Subscribe starts delivering change notifications. The returned stop
	// function unsubscribes; it must be safe to call more than once.
	Subscribe(ev Events) (stop func(), err error)
}
