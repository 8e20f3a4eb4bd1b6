package provider

import (
	"sync"
)

// Mock is a scripted Provider for tests: accounts and chain id are set
// directly, and Emit* methods stand in for wallet-emitted notifications.
type Mock struct {
	sync.Mutex

	Accounts []string
	Chain    uint64

	// Known networks the mock will accept a switch to.
	KnownChains map[uint64]bool

	// Errors to return from the next matching call, if set.
	RequestAccountsErr error
	SwitchChainErr     error

	subscribers []Events
}

var _ Provider = (*Mock)(nil)

func NewMock(accounts []string, chain uint64) *Mock {
	return &Mock{
		Accounts:    accounts,
		Chain:       chain,
		KnownChains: map[uint64]bool{chain: true},
	}
}

func (m *Mock) RequestAccounts() ([]string, error) {
	m.Lock()
	defer m.Unlock()

	if m.RequestAccountsErr != nil {
		return nil, m.RequestAccountsErr
	}

	out := make([]string, len(m.Accounts))
	copy(out, m.Accounts)

	return out, nil
}

func (m *Mock) ChainID() (uint64, error) {
	m.Lock()
	defer m.Unlock()

	return m.Chain, nil
}

func (m *Mock) SwitchChain(chainID uint64) error {
	m.Lock()
	defer m.Unlock()

	if m.SwitchChainErr != nil {
		return m.SwitchChainErr
	}

	if !m.KnownChains[chainID] {
		return ErrRejected
	}

	m.Chain = chainID

	return nil
}

func (m *Mock) AddChain(chainID uint64, name string, rpcURL string) error {
	m.Lock()
	defer m.Unlock()

	if m.KnownChains == nil {
		m.KnownChains = make(map[uint64]bool)
	}

	m.KnownChains[chainID] = true
	m.Chain = chainID

	return nil
}

func (m *Mock) Subscribe(ev Events) (func(), error) {
	m.Lock()
	defer m.Unlock()

	i := len(m.subscribers)
	m.subscribers = append(m.subscribers, ev)

	return func() {
		m.Lock()
		defer m.Unlock()

		m.subscribers[i] = Events{}
	}, nil
}

// EmitAccountsChanged delivers an accounts-changed notification to every
// live subscriber, synchronously.
func (m *Mock) EmitAccountsChanged(accounts []string) {
	m.Lock()
	m.Accounts = accounts
	subs := append([]Events(nil), m.subscribers...)
	m.Unlock()

	for _, s := range subs {
		if s.OnAccountsChanged != nil {
			s.OnAccountsChanged(accounts)
		}
	}
}

// EmitChainChanged delivers a chain-changed notification.
func (m *Mock) EmitChainChanged(chainID uint64) {
	m.Lock()
	m.Chain = chainID
	subs := append([]Events(nil), m.subscribers...)
	m.Unlock()

	for _, s := range subs {
		if s.OnChainChanged != nil {
			s.OnChainChanged(chainID)
		}
	}
}
