package pass

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"feedmint/core/types"
)

type entryKey struct {
	token    common.Address
	referrer common.Address
}

type mockState struct {
	accounts map[common.Address]*types.Account
	prices   map[entryKey]*big.Int
	fees     map[entryKey]*big.Int
	allowed  map[common.Address]bool
	counter  uint64
	owners   map[uint64]common.Address
	expiries map[uint64]int64
}

func newMockState() *mockState {
	return &mockState{
		accounts: make(map[common.Address]*types.Account),
		prices:   make(map[entryKey]*big.Int),
		fees:     make(map[entryKey]*big.Int),
		allowed:  make(map[common.Address]bool),
		owners:   make(map[uint64]common.Address),
		expiries: make(map[uint64]int64),
	}
}

func (m *mockState) GetAccount(addr common.Address) (*types.Account, error) {
	if acc, ok := m.accounts[addr]; ok {
		return acc.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutAccount(addr common.Address, account *types.Account) error {
	if account == nil {
		delete(m.accounts, addr)
		return nil
	}
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) PassPriceGet(token, referrer common.Address) (*big.Int, bool, error) {
	amount, ok := m.prices[entryKey{token, referrer}]
	if !ok {
		return nil, false, nil
	}
	return new(big.Int).Set(amount), true, nil
}

func (m *mockState) PassPricePut(token, referrer common.Address, amount *big.Int) error {
	m.prices[entryKey{token, referrer}] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) PassFeeGet(token, referrer common.Address) (*big.Int, bool, error) {
	amount, ok := m.fees[entryKey{token, referrer}]
	if !ok {
		return nil, false, nil
	}
	return new(big.Int).Set(amount), true, nil
}

func (m *mockState) PassFeePut(token, referrer common.Address, amount *big.Int) error {
	m.fees[entryKey{token, referrer}] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) PassTokenAllowed(token common.Address) (bool, error) {
	return m.allowed[token], nil
}

func (m *mockState) PassTokenAllowPut(token common.Address, allowed bool) error {
	m.allowed[token] = allowed
	return nil
}

func (m *mockState) PassCounterGet() (uint64, error)     { return m.counter, nil }
func (m *mockState) PassCounterPut(next uint64) error    { m.counter = next; return nil }
func (m *mockState) PassOwnerPut(id uint64, owner common.Address) error {
	m.owners[id] = owner
	return nil
}

func (m *mockState) PassExpiryGet(id uint64) (int64, bool, error) {
	expiry, ok := m.expiries[id]
	return expiry, ok, nil
}

func (m *mockState) PassExpiryPut(id uint64, expiry int64) error {
	m.expiries[id] = expiry
	return nil
}

func (m *mockState) setBalance(addr common.Address, amount int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

func (m *mockState) balance(addr common.Address) *big.Int {
	if acc, ok := m.accounts[addr]; ok && acc.Balance != nil {
		return new(big.Int).Set(acc.Balance)
	}
	return big.NewInt(0)
}

type mockTokenLedger struct {
	tokens     map[common.Address]bool
	balances   map[string]*big.Int
	allowances map[string]*big.Int
	transfers  int
}

func newMockTokenLedger(tokens ...common.Address) *mockTokenLedger {
	ledger := &mockTokenLedger{
		tokens:     make(map[common.Address]bool),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
	for _, token := range tokens {
		ledger.tokens[token] = true
	}
	return ledger
}

func holdingKey(token, owner common.Address) string {
	return token.Hex() + "/" + owner.Hex()
}

func grantKey(token, owner, spender common.Address) string {
	return token.Hex() + "/" + owner.Hex() + "/" + spender.Hex()
}

func (l *mockTokenLedger) credit(token, owner common.Address, amount int64) {
	l.balances[holdingKey(token, owner)] = big.NewInt(amount)
}

func (l *mockTokenLedger) approve(token, owner, spender common.Address, amount int64) {
	l.allowances[grantKey(token, owner, spender)] = big.NewInt(amount)
}

func (l *mockTokenLedger) BalanceOf(token, owner common.Address) (*big.Int, error) {
	if !l.tokens[token] {
		return nil, fmt.Errorf("unknown token %s", token.Hex())
	}
	if balance, ok := l.balances[holdingKey(token, owner)]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (l *mockTokenLedger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	if !l.tokens[token] {
		return nil, fmt.Errorf("unknown token %s", token.Hex())
	}
	if allowance, ok := l.allowances[grantKey(token, owner, spender)]; ok {
		return new(big.Int).Set(allowance), nil
	}
	return big.NewInt(0), nil
}

func (l *mockTokenLedger) TransferFrom(token, from, to common.Address, amount *big.Int) error {
	if !l.tokens[token] {
		return fmt.Errorf("unknown token %s", token.Hex())
	}
	balance, _ := l.BalanceOf(token, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("balance too low")
	}
	l.balances[holdingKey(token, from)] = balance.Sub(balance, amount)
	toBalance, _ := l.BalanceOf(token, to)
	l.balances[holdingKey(token, to)] = toBalance.Add(toBalance, amount)
	l.transfers++
	return nil
}

var (
	treasury = common.HexToAddress("0xFEE0000000000000000000000000000000000000")
	spender  = common.HexToAddress("0x00000000000000000000000000000000000000FE")
	native   = common.Address{}
)

func newTestEngine(state *mockState) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	engine.SetTreasury(treasury)
	engine.SetSpender(spender)
	engine.SetNowFunc(func() int64 { return 1_000 })
	return engine
}

func TestDefaultPriceEntryGuards(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	if err := engine.SetPrice(native, common.Address{}, big.NewInt(100)); err != nil {
		t.Fatalf("default price write failed: %v", err)
	}
	if err := engine.SetFee(native, common.Address{}, big.NewInt(101)); !errors.Is(err, ErrPriceBelowFee) {
		t.Fatalf("expected fee above price rejection, got %v", err)
	}
	if err := engine.SetFee(native, common.Address{}, big.NewInt(100)); err != nil {
		t.Fatalf("fee equal to price should be accepted: %v", err)
	}
	if err := engine.SetPrice(native, common.Address{}, big.NewInt(99)); !errors.Is(err, ErrPriceBelowFee) {
		t.Fatalf("expected price below fee rejection, got %v", err)
	}

	// Referrer-specific entries are written without any cross-check.
	referrer := common.HexToAddress("0x0a")
	if err := engine.SetFee(native, referrer, big.NewInt(10_000)); err != nil {
		t.Fatalf("referrer fee write failed: %v", err)
	}
}

func TestSetPriceByDirection(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	referrer := common.HexToAddress("0x0a")

	if err := engine.SetFee(native, common.Address{}, big.NewInt(0)); err != nil {
		t.Fatalf("default fee write failed: %v", err)
	}
	if err := engine.SetPriceByDirection(common.Address{}, native, big.NewInt(50)); !errors.Is(err, ErrInvalidWallet) {
		t.Fatalf("expected zero referrer rejection, got %v", err)
	}

	if err := engine.SetPrice(native, common.Address{}, big.NewInt(100)); err != nil {
		t.Fatalf("default price write failed: %v", err)
	}
	if err := engine.SetFee(native, common.Address{}, big.NewInt(40)); err != nil {
		t.Fatalf("default fee write failed: %v", err)
	}
	if err := engine.SetPriceByDirection(referrer, native, big.NewInt(39)); !errors.Is(err, ErrPriceBelowFee) {
		t.Fatalf("expected default fee to bound the referrer price, got %v", err)
	}
	if err := engine.SetPriceByDirection(referrer, native, big.NewInt(80)); err != nil {
		t.Fatalf("referrer price write failed: %v", err)
	}
	quote, err := engine.Quote(native, referrer, 2)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.Cmp(big.NewInt(160)) != 0 {
		t.Fatalf("quote under referrer entry: %s, want 160", quote)
	}
}

func TestQuoteHasNoFallback(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	referrer := common.HexToAddress("0x0a")

	if err := engine.SetPrice(native, common.Address{}, big.NewInt(100)); err != nil {
		t.Fatalf("default price write failed: %v", err)
	}
	// A referrer without its own entry quotes zero even though a default
	// entry exists.
	quote, err := engine.Quote(native, referrer, 3)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.Sign() != 0 {
		t.Fatalf("missing entry quoted %s, want 0", quote)
	}
}

func TestMintArgumentGuards(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	buyer := common.HexToAddress("0x0b")

	if _, err := engine.Mint(buyer, buyer, 0, native, common.Address{}, big.NewInt(0)); !errors.Is(err, ErrAmountIsZero) {
		t.Fatalf("expected zero quantity rejection, got %v", err)
	}
	if _, err := engine.Mint(buyer, common.Address{}, 1, native, common.Address{}, big.NewInt(0)); !errors.Is(err, ErrInvalidWallet) {
		t.Fatalf("expected zero target rejection, got %v", err)
	}
}

func TestMintNativeWithReferrerSplit(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	buyer := common.HexToAddress("0x0b")
	referrer := common.HexToAddress("0x0a")
	state.setBalance(buyer, 1_000)

	if err := engine.SetPrice(native, referrer, big.NewInt(100)); err != nil {
		t.Fatalf("price write failed: %v", err)
	}
	if err := engine.SetFee(native, referrer, big.NewInt(10)); err != nil {
		t.Fatalf("fee write failed: %v", err)
	}

	if _, err := engine.Mint(buyer, buyer, 2, native, referrer, big.NewInt(199)); !errors.Is(err, ErrInsufficientValue) {
		t.Fatalf("expected short value rejection, got %v", err)
	}

	result, err := engine.Mint(buyer, buyer, 2, native, referrer, big.NewInt(200))
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if result.Cost.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("cost: %s, want 200", result.Cost)
	}
	if len(result.PassIDs) != 2 || result.PassIDs[0] != 1 || result.PassIDs[1] != 2 {
		t.Fatalf("pass ids: %v, want sequential from 1", result.PassIDs)
	}
	if result.Expiry != 1_000+defaultPeriodSeconds {
		t.Fatalf("expiry: %d, want one period from now", result.Expiry)
	}
	if state.balance(buyer).Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("buyer balance: %s, want 800", state.balance(buyer))
	}
	if state.balance(referrer).Cmp(big.NewInt(180)) != 0 {
		t.Fatalf("referrer share: %s, want 180", state.balance(referrer))
	}
	if state.balance(treasury).Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("treasury fee: %s, want 20", state.balance(treasury))
	}
	if state.owners[1] != buyer || state.owners[2] != buyer {
		t.Fatalf("pass ownership not recorded")
	}
}

func TestMintWithoutReferrerPaysTreasury(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	buyer := common.HexToAddress("0x0b")
	state.setBalance(buyer, 1_000)

	if err := engine.SetPrice(native, common.Address{}, big.NewInt(100)); err != nil {
		t.Fatalf("price write failed: %v", err)
	}
	if err := engine.SetFee(native, common.Address{}, big.NewInt(10)); err != nil {
		t.Fatalf("fee write failed: %v", err)
	}
	if _, err := engine.Mint(buyer, buyer, 1, native, common.Address{}, big.NewInt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if state.balance(treasury).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("treasury received %s, want the full cost", state.balance(treasury))
	}
}

func TestMintShareUnderflowMovesNoFunds(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	token := common.HexToAddress("0xE20E20E20E20E20E20E20E20E20E20E20E20E20E")
	ledger := newMockTokenLedger(token)
	engine.SetTokenLedger(ledger)
	buyer := common.HexToAddress("0x0b")
	referrer := common.HexToAddress("0x0a")

	if err := engine.SetAllowedToken(token, true); err != nil {
		t.Fatalf("token listing failed: %v", err)
	}
	if err := engine.SetPrice(token, referrer, big.NewInt(10)); err != nil {
		t.Fatalf("price write failed: %v", err)
	}
	// A referrer fee above the referrer price passes the setter but must
	// fail at mint, before anything moves.
	if err := engine.SetFee(token, referrer, big.NewInt(20)); err != nil {
		t.Fatalf("fee write failed: %v", err)
	}
	ledger.credit(token, buyer, 1_000)
	ledger.approve(token, buyer, spender, 1_000)

	if _, err := engine.Mint(buyer, buyer, 1, token, referrer, nil); err == nil {
		t.Fatalf("expected share underflow failure")
	}
	if ledger.transfers != 0 {
		t.Fatalf("underflowing mint executed %d transfers", ledger.transfers)
	}
	if state.counter != 0 {
		t.Fatalf("underflowing mint advanced the pass counter")
	}
}

func TestMintTokenRailGuards(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	token := common.HexToAddress("0xE20E20E20E20E20E20E20E20E20E20E20E20E20E")
	ledger := newMockTokenLedger(token)
	engine.SetTokenLedger(ledger)
	buyer := common.HexToAddress("0x0b")

	if err := engine.SetPrice(token, common.Address{}, big.NewInt(100)); err != nil {
		t.Fatalf("price write failed: %v", err)
	}

	// Unlisted token.
	if _, err := engine.Mint(buyer, buyer, 1, token, common.Address{}, nil); !errors.Is(err, ErrUnsupportedToken) {
		t.Fatalf("expected unsupported token, got %v", err)
	}

	if err := engine.SetAllowedToken(token, true); err != nil {
		t.Fatalf("token listing failed: %v", err)
	}
	ledger.credit(token, buyer, 99)
	if _, err := engine.Mint(buyer, buyer, 1, token, common.Address{}, nil); !errors.Is(err, ErrInsufficientApprove) {
		t.Fatalf("expected balance shortfall, got %v", err)
	}
	ledger.credit(token, buyer, 100)
	if _, err := engine.Mint(buyer, buyer, 1, token, common.Address{}, nil); !errors.Is(err, ErrInsufficientApprove) {
		t.Fatalf("expected allowance shortfall, got %v", err)
	}
	ledger.approve(token, buyer, spender, 100)
	if _, err := engine.Mint(buyer, buyer, 1, token, common.Address{}, nil); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if got, _ := ledger.BalanceOf(token, treasury); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("treasury token balance: %s, want 100", got)
	}
}

func TestExtendIsAdditiveFromStoredExpiry(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	buyer := common.HexToAddress("0x0b")
	state.setBalance(buyer, 10_000)

	if err := engine.SetPrice(native, common.Address{}, big.NewInt(10)); err != nil {
		t.Fatalf("price write failed: %v", err)
	}
	if err := engine.SetPeriod(100); err != nil {
		t.Fatalf("period write failed: %v", err)
	}

	if _, err := engine.Extend(buyer, 42, 1, native, common.Address{}, big.NewInt(10)); !errors.Is(err, ErrUnknownPass) {
		t.Fatalf("expected unknown pass, got %v", err)
	}

	result, err := engine.Mint(buyer, buyer, 1, native, common.Address{}, big.NewInt(10))
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	id := result.PassIDs[0]
	if result.Expiry != 1_100 {
		t.Fatalf("fresh expiry: %d, want 1100", result.Expiry)
	}

	// Future expiry extends from the stored value, not from now.
	extended, err := engine.Extend(buyer, id, 2, native, common.Address{}, big.NewInt(20))
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if extended.Expiry != 1_300 {
		t.Fatalf("extended expiry: %d, want 1300", extended.Expiry)
	}

	// A lapsed pass also extends from its stored expiry; the gap is not
	// forgiven.
	if err := state.PassExpiryPut(id, 500); err != nil {
		t.Fatalf("seed expiry failed: %v", err)
	}
	lapsed, err := engine.Extend(buyer, id, 1, native, common.Address{}, big.NewInt(10))
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if lapsed.Expiry != 600 {
		t.Fatalf("lapsed extension expiry: %d, want 600", lapsed.Expiry)
	}
}
