// Copyright (c) 2024 VibeFeed
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

// Package wallet owns the connection lifecycle: are we connected, to whom,
// on what network. It is the single writer of the local account state.
package wallet

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/vibefeed/vibefeed/conf"
	"github.com/vibefeed/vibefeed/log"
	"github.com/vibefeed/vibefeed/provider"
)

var (
	// ErrWrongNetwork means the provider sits on a different network and
	// the user declined to switch. Blocks all writes until resolved.
	ErrWrongNetwork = errors.New("wallet is on the wrong network")

	// ErrNotConnected is returned by operations that need an active account.
	ErrNotConnected = errors.New("no wallet connected")
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Hooks are invoked by the manager when the provider reports a change.
// They run on the provider's event goroutine; keep them short.
type Hooks struct {
	// OnAccountChanged fires with the new active address after the wallet
	// switched accounts. The previous snapshot is already invalid.
	OnAccountChanged func(address string)

	// OnDisconnected fires when the wallet revoked access (empty account
	// list) or Disconnect was called while connected.
	OnDisconnected func()

	// OnNetworkChanged fires with the new chain id. Contract bindings are
	// network-specific, so the host must restart the session; there is no
	// partial resync.
	OnNetworkChanged func(chainID uint64)
}

// Manager tracks one wallet connection.
type Manager struct {
	mu sync.Mutex

	prov  provider.Provider
	hooks Hooks

	status  Status
	address string

	stopEvents func()
}

func NewManager(prov provider.Provider, hooks Hooks) *Manager {
	return &Manager{
		prov:  prov,
		hooks: hooks,
	}
}

// Connect requests account access and begins listening for provider
// notifications. Returns the lowercase-normalized active address.
func (m *Manager) Connect() (string, error) {
	m.mu.Lock()

	if m.prov == nil {
		m.mu.Unlock()
		return "", provider.ErrUnavailable
	}

	m.status = StatusConnecting
	m.mu.Unlock()

	accounts, err := m.prov.RequestAccounts()
	if err != nil {
		m.setDisconnected()
		return "", err
	}

	if len(accounts) == 0 {
		m.setDisconnected()
		return "", errors.Wrap(provider.ErrRejected, "wallet returned no accounts")
	}

	addr, err := provider.NormalizeAddress(accounts[0])
	if err != nil {
		m.setDisconnected()
		return "", err
	}

	m.mu.Lock()

	m.address = addr
	m.status = StatusConnected

	if m.stopEvents == nil {
		stop, err := m.prov.Subscribe(provider.Events{
			OnAccountsChanged: m.accountsChanged,
			OnChainChanged:    m.chainChanged,
		})
		if err != nil {
			m.address = ""
			m.status = StatusDisconnected
			m.mu.Unlock()

			return "", err
		}

		m.stopEvents = stop
	}

	m.mu.Unlock()

	log.Wallet("connected").Info().Str("address", addr).Msg("Wallet connected.")

	return addr, nil
}

// Disconnect clears the local account and unsubscribes from provider
// notifications. Local-only and idempotent: wallets expose no remote
// disconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()

	wasConnected := m.status == StatusConnected

	if m.stopEvents != nil {
		m.stopEvents()
		m.stopEvents = nil
	}

	m.address = ""
	m.status = StatusDisconnected

	hook := m.hooks.OnDisconnected
	m.mu.Unlock()

	if wasConnected {
		log.Wallet("disconnected").Info().Msg("Wallet disconnected.")

		if hook != nil {
			hook()
		}
	}
}

// EnsureNetwork verifies the provider is on the expected network, asking it
// to switch (or add the network) if not. Must succeed before any write.
func (m *Manager) EnsureNetwork(expected uint64) error {
	if m.prov == nil {
		return provider.ErrUnavailable
	}

	current, err := m.prov.ChainID()
	if err != nil {
		return err
	}

	if current == expected {
		return nil
	}

	log.Wallet("network").Info().
		Uint64("current", current).
		Uint64("expected", expected).
		Msg("Requesting a network switch.")

	if err := m.prov.SwitchChain(expected); err == nil {
		return nil
	}

	// The wallet may simply not know the network yet.
	if err := m.prov.AddChain(expected, conf.GetChainName(), conf.GetLedgerAPI()); err != nil {
		return errors.Wrapf(ErrWrongNetwork, "expected chain %d", expected)
	}

	return nil
}

// Address returns the active normalized address, or ErrNotConnected.
func (m *Manager) Address() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusConnected {
		return "", ErrNotConnected
	}

	return m.address, nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

func (m *Manager) setDisconnected() {
	m.mu.Lock()
	m.address = ""
	m.status = StatusDisconnected
	m.mu.Unlock()
}

// accountsChanged handles the provider notification. An empty list is a
// revocation; anything else invalidates the whole snapshot, so the new
// account goes through the full connect path again.
func (m *Manager) accountsChanged(accounts []string) {
	if len(accounts) == 0 {
		m.Disconnect()
		return
	}

	addr, err := provider.NormalizeAddress(accounts[0])
	if err != nil {
		log.Wallet("accounts_changed").Warn().Err(err).Msg("Ignored a malformed account address.")
		return
	}

	m.mu.Lock()

	if m.status == StatusConnected && m.address == addr {
		m.mu.Unlock()
		return
	}

	m.address = addr
	m.status = StatusConnected

	hook := m.hooks.OnAccountChanged
	m.mu.Unlock()

	log.Wallet("accounts_changed").Info().Str("address", addr).Msg("Active account switched.")

	if hook != nil {
		hook(addr)
	}
}

func (m *Manager) chainChanged(chainID uint64) {
	m.mu.Lock()
	hook := m.hooks.OnNetworkChanged
	m.mu.Unlock()

	log.Wallet("chain_changed").Warn().
		Uint64("chain_id", chainID).
		Msg("Network changed; session must restart.")

	if hook != nil {
		hook(chainID)
	}
}
