package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"strapt/core/types"
	"strapt/native/registry"
	"strapt/storage"
)

// ErrInsufficientBalance is surfaced when a debit would drive a balance
// negative.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

// Manager persists accounts, engine params and escrow records in a keccak
// prefixed key-value store using RLP codecs. Compound ledger mutations are
// serialized by an internal mutex; the engines own the wider record-level
// locking around their status checks and writes.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func prefixedKey(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

// --- accounts ---

type storedAccount struct {
	Nonce    uint64
	Balances []types.TokenBalance
}

// GetAccount loads the account for the address, returning an empty account
// when none is stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, err := m.db.Get(prefixedKey(accountPrefix, addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{}, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	account := &types.Account{Nonce: stored.Nonce}
	for _, tb := range stored.Balances {
		account.SetBalance(tb.Token, tb.Amount)
	}
	return account, nil
}

// PutAccount persists the account.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{Nonce: account.Nonce, Balances: account.Clone().Balances})
	if err != nil {
		return err
	}
	return m.db.Put(prefixedKey(accountPrefix, addr), encoded)
}

// Move debits `amount` of `token` from one address and credits it to another.
// Both account writes happen under the manager lock; the first write is rolled
// back if the second fails so custody totals stay conserved.
func (m *Manager) Move(from, to [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("state: negative transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fromAcc, err := m.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := m.GetAccount(to[:])
	if err != nil {
		return err
	}
	originalFrom := fromAcc.Clone()
	balance := fromAcc.Balance(token)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(balance, amount))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amount))
	if err := m.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := m.PutAccount(to[:], toAcc); err != nil {
		if restoreErr := m.PutAccount(from[:], originalFrom); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback sender: %w", restoreErr))
		}
		return err
	}
	return nil
}

// Mint credits an address without a debit. Test and genesis helper.
func (m *Manager) Mint(addr [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("state: mint amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.SetBalance(token, new(big.Int).Add(account.Balance(token), amount))
	return m.PutAccount(addr[:], account)
}

// VaultAddress derives the custody address for a token. The address is the
// trailing twenty bytes of keccak256("strapt/vault/" + token), mirroring how
// module accounts are derived elsewhere so vaults can never collide with
// externally controlled keys.
func (m *Manager) VaultAddress(token string) ([20]byte, error) {
	if token == "" {
		return [20]byte{}, errors.New("state: empty token")
	}
	seed := make([]byte, len(vaultSeedPrefix)+len(token))
	copy(seed, vaultSeedPrefix)
	copy(seed[len(vaultSeedPrefix):], token)
	hash := ethcrypto.Keccak256(seed)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr, nil
}

// --- creator nonces ---

// NextEscrowNonce allocates the next per-creator nonce used in identifier
// derivation. Callers must invoke RevertEscrowNonce if the creation fails
// after allocation.
func (m *Manager) NextEscrowNonce(creator [20]byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefixedKey(creatorNoncePrefix, creator[:])
	current, err := m.loadUint64(key)
	if err != nil {
		return 0, err
	}
	if err := m.writeUint64(key, current+1); err != nil {
		return 0, err
	}
	return current, nil
}

// RevertEscrowNonce winds the creator nonce back after a failed creation.
func (m *Manager) RevertEscrowNonce(creator [20]byte, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefixedKey(creatorNoncePrefix, creator[:])
	_ = m.writeUint64(key, nonce)
}

func (m *Manager) loadUint64(key []byte) (uint64, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("state: corrupt counter width %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (m *Manager) writeUint64(key []byte, value uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	return m.db.Put(key, buf)
}

// --- engine params ---

type storedParams struct {
	Owner        [20]byte
	FeeBps       uint32
	FeeCollector [20]byte
	Tokens       []string
}

// ParamsGet loads the committed engine configuration.
func (m *Manager) ParamsGet() (*registry.Params, bool, error) {
	data, err := m.db.Get(prefixedKey(paramsKeyBytes, nil))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored := new(storedParams)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode params: %w", err)
	}
	return &registry.Params{
		Owner:        stored.Owner,
		FeeBps:       stored.FeeBps,
		FeeCollector: stored.FeeCollector,
		Tokens:       append([]string(nil), stored.Tokens...),
	}, true, nil
}

// ParamsPut persists the engine configuration.
func (m *Manager) ParamsPut(params *registry.Params) error {
	if params == nil {
		return errors.New("state: nil params")
	}
	encoded, err := rlp.EncodeToBytes(&storedParams{
		Owner:        params.Owner,
		FeeBps:       params.FeeBps,
		FeeCollector: params.FeeCollector,
		Tokens:       params.Tokens,
	})
	if err != nil {
		return err
	}
	return m.db.Put(prefixedKey(paramsKeyBytes, nil), encoded)
}
