package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"feedmint/core/types"
	"feedmint/storage"
)

// ErrUnknownToken is returned when a fungible-token operation targets an
// address that was never registered as a token contract. The zero address is
// never registered, so native-currency values can never reach the token rail.
var ErrUnknownToken = errors.New("state: unknown token contract")

// Manager persists the marketplace ledger: wallet accounts, content-token
// supply and balances, subscription price/fee tables and expiries, and the
// registered fungible payment tokens. All mutating calls are serialized; the
// engines assume one settlement runs to completion before the next begins.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps a key-value database in a ledger manager.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) getAmount(key []byte) (*big.Int, bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	amount, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, false, fmt.Errorf("state: corrupt amount at %q", key)
	}
	return amount, true, nil
}

func (m *Manager) putAmount(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return m.db.Put(key, []byte(amount.String()))
}

// --- native accounts ---

// GetAccount loads the account for addr, returning a zeroed account when the
// address has never been seen.
func (m *Manager) GetAccount(addr common.Address) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return (&types.Account{}).Normalize(), nil
	}
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr.Hex(), err)
	}
	return account.Normalize(), nil
}

// PutAccount stores the account for addr.
func (m *Manager) PutAccount(addr common.Address, account *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(account.Normalize())
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), raw)
}

// --- content token supply and balances ---

func (m *Manager) MarketSupplyGet(tokenID *uint256.Int) (*big.Int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAmount(marketSupplyKey(tokenID))
}

func (m *Manager) MarketSupplyPut(tokenID *uint256.Int, minted *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAmount(marketSupplyKey(tokenID), minted)
}

func (m *Manager) MarketBalanceGet(tokenID *uint256.Int, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok, err := m.getAmount(marketBalanceKey(tokenID, owner))
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (m *Manager) MarketBalancePut(tokenID *uint256.Int, owner common.Address, balance *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAmount(marketBalanceKey(tokenID, owner), balance)
}

// --- subscription pass tables ---

func (m *Manager) PassPriceGet(token, referrer common.Address) (*big.Int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAmount(passPriceKey(token, referrer))
}

func (m *Manager) PassPricePut(token, referrer common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAmount(passPriceKey(token, referrer), amount)
}

func (m *Manager) PassFeeGet(token, referrer common.Address) (*big.Int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAmount(passFeeKey(token, referrer))
}

func (m *Manager) PassFeePut(token, referrer common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAmount(passFeeKey(token, referrer), amount)
}

func (m *Manager) PassTokenAllowed(token common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(passAllowedKey(token))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return string(raw) == "1", nil
}

func (m *Manager) PassTokenAllowPut(token common.Address, allowed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	value := "0"
	if allowed {
		value = "1"
	}
	return m.db.Put(passAllowedKey(token), []byte(value))
}

func (m *Manager) PassCounterGet() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(passCounterKey())
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

func (m *Manager) PassCounterPut(next uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(passCounterKey(), []byte(strconv.FormatUint(next, 10)))
}

func (m *Manager) PassOwnerPut(passID uint64, owner common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(passOwnerKey(passID), owner.Bytes())
}

// PassOwnerGet resolves the wallet a pass was minted to.
func (m *Manager) PassOwnerGet(passID uint64) (common.Address, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(passOwnerKey(passID))
	if errors.Is(err, storage.ErrNotFound) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	return common.BytesToAddress(raw), true, nil
}

func (m *Manager) PassExpiryGet(passID uint64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(passExpiryKey(passID))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	expiry, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("state: corrupt expiry for pass %d: %w", passID, err)
	}
	return expiry, true, nil
}

func (m *Manager) PassExpiryPut(passID uint64, expiry int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(passExpiryKey(passID), []byte(strconv.FormatInt(expiry, 10)))
}

// --- fungible token ledger ---

// RegisterToken lists an address as a known fungible-token contract. Only
// registered tokens can hold balances or be pulled from.
func (m *Manager) RegisterToken(token common.Address) error {
	if token == (common.Address{}) {
		return fmt.Errorf("state: cannot register the zero address as a token")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(tokenListedKey(token), []byte("1"))
}

func (m *Manager) tokenRegistered(token common.Address) (bool, error) {
	raw, err := m.db.Get(tokenListedKey(token))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return string(raw) == "1", nil
}

func (m *Manager) requireToken(token common.Address) error {
	ok, err := m.tokenRegistered(token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return nil
}

// CreditToken mints amount units of token to the owner. This stands in for
// token supply arriving from outside the marketplace.
func (m *Manager) CreditToken(token, owner common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireToken(token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	balance, _, err := m.getAmount(tokenBalanceKey(token, owner))
	if err != nil {
		return err
	}
	if balance == nil {
		balance = big.NewInt(0)
	}
	return m.putAmount(tokenBalanceKey(token, owner), new(big.Int).Add(balance, amount))
}

// Approve records owner's allowance for spender on token, replacing any
// previous value.
func (m *Manager) Approve(token, owner, spender common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireToken(token); err != nil {
		return err
	}
	return m.putAmount(tokenAllowanceKey(token, owner, spender), amount)
}

// BalanceOf implements the token ledger collaborator.
func (m *Manager) BalanceOf(token, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireToken(token); err != nil {
		return nil, err
	}
	balance, _, err := m.getAmount(tokenBalanceKey(token, owner))
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = big.NewInt(0)
	}
	return balance, nil
}

// Allowance implements the token ledger collaborator.
func (m *Manager) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireToken(token); err != nil {
		return nil, err
	}
	allowance, _, err := m.getAmount(tokenAllowanceKey(token, owner, spender))
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		allowance = big.NewInt(0)
	}
	return allowance, nil
}

// TransferFrom moves amount of token between wallets. The engines check
// balance and allowance before pulling, so a shortfall here indicates a
// caller bypassing the settlement path.
func (m *Manager) TransferFrom(token, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireToken(token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: transfer amount must be positive")
	}
	balance, _, err := m.getAmount(tokenBalanceKey(token, from))
	if err != nil {
		return err
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return fmt.Errorf("state: token balance too low for transfer")
	}
	if err := m.putAmount(tokenBalanceKey(token, from), new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	toBalance, _, err := m.getAmount(tokenBalanceKey(token, to))
	if err != nil {
		return err
	}
	if toBalance == nil {
		toBalance = big.NewInt(0)
	}
	return m.putAmount(tokenBalanceKey(token, to), new(big.Int).Add(toBalance, amount))
}
