package pass

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"feedmint/core/events"
	"feedmint/core/types"
	"feedmint/native/market"
	"feedmint/observability/metrics"
)

var (
	ErrNilState            = errors.New("pass engine: state not configured")
	ErrNilTokenLedger      = errors.New("pass engine: token ledger not configured")
	ErrAmountIsZero        = errors.New("pass engine: amount is zero")
	ErrInvalidWallet       = errors.New("pass engine: invalid wallet address")
	ErrInsufficientValue   = errors.New("pass engine: insufficient value")
	ErrInsufficientApprove = errors.New("pass engine: insufficient approve")
	ErrPriceBelowFee       = errors.New("pass engine: the price cannot be less than the fee")
	ErrUnsupportedToken    = errors.New("pass engine: unsupported payment token")
	ErrUnknownPass         = errors.New("pass engine: unknown pass")
)

// Subscription passes extend in fixed periods. Thirty days per purchased unit
// unless reconfigured.
const defaultPeriodSeconds int64 = 30 * 24 * 60 * 60

const (
	railNative = "native"
	railToken  = "token"
)

type engineState interface {
	GetAccount(addr common.Address) (*types.Account, error)
	PutAccount(addr common.Address, account *types.Account) error
	PassPriceGet(token, referrer common.Address) (*big.Int, bool, error)
	PassPricePut(token, referrer common.Address, amount *big.Int) error
	PassFeeGet(token, referrer common.Address) (*big.Int, bool, error)
	PassFeePut(token, referrer common.Address, amount *big.Int) error
	PassTokenAllowed(token common.Address) (bool, error)
	PassTokenAllowPut(token common.Address, allowed bool) error
	PassCounterGet() (uint64, error)
	PassCounterPut(next uint64) error
	PassOwnerPut(passID uint64, owner common.Address) error
	PassExpiryGet(passID uint64) (int64, bool, error)
	PassExpiryPut(passID uint64, expiry int64) error
}

// MintResult reports the passes created or extended by a purchase.
type MintResult struct {
	PassIDs []uint64
	Owner   common.Address
	Expiry  int64
	Cost    *big.Int
}

// Engine prices, mints and extends subscription passes. Price and fee tables
// are keyed by (payment token, referrer); the zero-address referrer row is
// the default entry. Administrative gating of the setters is the caller's
// responsibility.
type Engine struct {
	state    engineState
	tokens   market.TokenLedger
	emitter  events.Emitter
	nowFn    func() int64
	treasury common.Address
	spender  common.Address
	period   int64
}

// NewEngine constructs a pass engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		period:  defaultPeriodSeconds,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenLedger configures the fungible-token collaborator.
func (e *Engine) SetTokenLedger(tokens market.TokenLedger) { e.tokens = tokens }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for expiry arithmetic in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetTreasury configures the platform account credited with fees and with the
// referrer share when no referrer is named.
func (e *Engine) SetTreasury(addr common.Address) { e.treasury = addr }

// SetSpender configures the engine identity checked against token allowances.
func (e *Engine) SetSpender(addr common.Address) { e.spender = addr }

// SetPeriod configures the extension period granted per purchased unit.
func (e *Engine) SetPeriod(seconds int64) error {
	if seconds <= 0 {
		return fmt.Errorf("pass engine: period must be positive: %d", seconds)
	}
	e.period = seconds
	return nil
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// SetPrice writes the per-unit price for (token, referrer). Writing the
// default entry is rejected when it would fall below the default fee;
// referrer-specific entries are written without any cross-check.
func (e *Engine) SetPrice(token, referrer common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("pass engine: invalid price amount")
	}
	if referrer == (common.Address{}) {
		fee, err := e.feeEntry(token, common.Address{})
		if err != nil {
			return err
		}
		if amount.Cmp(fee) < 0 {
			return ErrPriceBelowFee
		}
	}
	if err := e.state.PassPricePut(token, referrer, amount); err != nil {
		return err
	}
	e.emit(PriceUpdatedEvent(token, referrer, amount))
	return nil
}

// SetPriceByDirection lets a referrer write its own price entry for a payment
// token. The default fee still bounds it from below.
func (e *Engine) SetPriceByDirection(referrer common.Address, token common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if referrer == (common.Address{}) {
		return ErrInvalidWallet
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("pass engine: invalid price amount")
	}
	fee, err := e.feeEntry(token, common.Address{})
	if err != nil {
		return err
	}
	if amount.Cmp(fee) < 0 {
		return ErrPriceBelowFee
	}
	if err := e.state.PassPricePut(token, referrer, amount); err != nil {
		return err
	}
	e.emit(PriceUpdatedEvent(token, referrer, amount))
	return nil
}

// SetFee writes the per-unit platform fee for (token, referrer). The default
// entry may not exceed the default price; referrer-specific entries are
// written without a cross-check and surface only at mint time if they exceed
// the price actually used.
func (e *Engine) SetFee(token, referrer common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("pass engine: invalid fee amount")
	}
	if referrer == (common.Address{}) {
		price, err := e.priceEntry(token, common.Address{})
		if err != nil {
			return err
		}
		if price.Cmp(amount) < 0 {
			return ErrPriceBelowFee
		}
	}
	if err := e.state.PassFeePut(token, referrer, amount); err != nil {
		return err
	}
	e.emit(FeeUpdatedEvent(token, referrer, amount))
	return nil
}

// SetAllowedToken lists or delists a fungible token for the payment rail.
func (e *Engine) SetAllowedToken(token common.Address, allowed bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if token == (common.Address{}) {
		return fmt.Errorf("pass engine: native currency cannot be delisted")
	}
	if err := e.state.PassTokenAllowPut(token, allowed); err != nil {
		return err
	}
	e.emit(TokenAllowedEvent(token, allowed))
	return nil
}

// Quote returns the total cost of quantity units under the (token, referrer)
// entry. There is no fallback chain: a missing entry quotes as zero, and the
// zero-address referrer reads the default entry.
func (e *Engine) Quote(token, referrer common.Address, quantity uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	price, err := e.priceEntry(token, referrer)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(quantity)), nil
}

// Mint sells quantity fresh passes to target, paid by buyer on the token's
// rail, and credits the referrer share. Each pass starts with one period of
// validity from now.
func (e *Engine) Mint(buyer, target common.Address, quantity uint64, token, referrer common.Address, value *big.Int) (*MintResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if quantity == 0 {
		return nil, ErrAmountIsZero
	}
	if target == (common.Address{}) {
		return nil, ErrInvalidWallet
	}
	cost, share, fee, err := e.collect(buyer, quantity, token, referrer, value)
	if err != nil {
		return nil, err
	}
	if err := e.payout(buyer, token, referrer, cost, share, fee); err != nil {
		return nil, err
	}

	next, err := e.state.PassCounterGet()
	if err != nil {
		return nil, err
	}
	expiry := e.now() + e.period
	ids := make([]uint64, 0, quantity)
	for i := uint64(0); i < quantity; i++ {
		next++
		if err := e.state.PassOwnerPut(next, target); err != nil {
			return nil, err
		}
		if err := e.state.PassExpiryPut(next, expiry); err != nil {
			return nil, err
		}
		ids = append(ids, next)
		e.emit(ActivatedEvent(next, target, expiry))
	}
	if err := e.state.PassCounterPut(next); err != nil {
		return nil, err
	}
	metrics.Market().PassActivated(railFor(token), quantity, cost)
	return &MintResult{PassIDs: ids, Owner: target, Expiry: expiry, Cost: cost}, nil
}

// Extend pushes the stored expiry of an existing pass forward by quantity
// periods, paid exactly like Mint. The extension is additive from the stored
// expiry whether it lies in the past or the future.
func (e *Engine) Extend(buyer common.Address, passID uint64, quantity uint64, token, referrer common.Address, value *big.Int) (*MintResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if quantity == 0 {
		return nil, ErrAmountIsZero
	}
	expiry, ok, err := e.state.PassExpiryGet(passID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownPass
	}
	cost, share, fee, err := e.collect(buyer, quantity, token, referrer, value)
	if err != nil {
		return nil, err
	}
	if err := e.payout(buyer, token, referrer, cost, share, fee); err != nil {
		return nil, err
	}
	newExpiry := expiry + int64(quantity)*e.period
	if err := e.state.PassExpiryPut(passID, newExpiry); err != nil {
		return nil, err
	}
	e.emit(ExtendedEvent(passID, newExpiry))
	metrics.Market().PassExtended(railFor(token), cost)
	return &MintResult{PassIDs: []uint64{passID}, Expiry: newExpiry, Cost: cost}, nil
}

// collect validates the payment rail and computes the split without mutating
// any state. It returns the total cost, the referrer share and the platform
// fee. A fee entry exceeding the price entry actually used makes the share
// negative; that is surfaced as a hard failure, never clamped.
func (e *Engine) collect(buyer common.Address, quantity uint64, token, referrer common.Address, value *big.Int) (cost, share, fee *big.Int, err error) {
	price, err := e.priceEntry(token, referrer)
	if err != nil {
		return nil, nil, nil, err
	}
	feePerUnit, err := e.feeEntry(token, referrer)
	if err != nil {
		return nil, nil, nil, err
	}
	qty := new(big.Int).SetUint64(quantity)
	cost = new(big.Int).Mul(price, qty)

	perUnitShare := new(big.Int).Sub(price, feePerUnit)
	if perUnitShare.Sign() < 0 {
		return nil, nil, nil, fmt.Errorf("pass engine: referrer share underflow: fee %s exceeds price %s", feePerUnit, price)
	}
	share = new(big.Int).Mul(perUnitShare, qty)
	fee = new(big.Int).Mul(feePerUnit, qty)

	if token == (common.Address{}) {
		if value == nil || value.Cmp(cost) < 0 {
			return nil, nil, nil, ErrInsufficientValue
		}
		account, err := e.state.GetAccount(buyer)
		if err != nil {
			return nil, nil, nil, err
		}
		if account.Normalize().Balance.Cmp(cost) < 0 {
			return nil, nil, nil, ErrInsufficientValue
		}
		return cost, share, fee, nil
	}

	allowed, err := e.state.PassTokenAllowed(token)
	if err != nil {
		return nil, nil, nil, err
	}
	if !allowed {
		return nil, nil, nil, ErrUnsupportedToken
	}
	if e.tokens == nil {
		return nil, nil, nil, ErrNilTokenLedger
	}
	balance, err := e.tokens.BalanceOf(token, buyer)
	if err != nil {
		return nil, nil, nil, err
	}
	if balance.Cmp(cost) < 0 {
		return nil, nil, nil, ErrInsufficientApprove
	}
	allowance, err := e.tokens.Allowance(token, buyer, e.spender)
	if err != nil {
		return nil, nil, nil, err
	}
	if allowance.Cmp(cost) < 0 {
		return nil, nil, nil, ErrInsufficientApprove
	}
	return cost, share, fee, nil
}

// payout moves the collected cost: the referrer share to the referrer (or the
// treasury when none is named) and the fee to the treasury.
func (e *Engine) payout(buyer common.Address, token, referrer common.Address, cost, share, fee *big.Int) error {
	recipient := referrer
	if recipient == (common.Address{}) {
		recipient = e.treasury
	}
	if token == (common.Address{}) {
		account, err := e.state.GetAccount(buyer)
		if err != nil {
			return err
		}
		account = account.Normalize()
		account.Balance = new(big.Int).Sub(account.Balance, cost)
		if err := e.state.PutAccount(buyer, account); err != nil {
			return err
		}
		if err := e.creditNative(recipient, share); err != nil {
			return err
		}
		return e.creditNative(e.treasury, fee)
	}
	if share.Sign() > 0 {
		if err := e.tokens.TransferFrom(token, buyer, recipient, share); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if err := e.tokens.TransferFrom(token, buyer, e.treasury, fee); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) creditNative(addr common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return err
	}
	account = account.Normalize()
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return e.state.PutAccount(addr, account)
}

func (e *Engine) priceEntry(token, referrer common.Address) (*big.Int, error) {
	amount, ok, err := e.state.PassPriceGet(token, referrer)
	if err != nil {
		return nil, err
	}
	if !ok || amount == nil {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (e *Engine) feeEntry(token, referrer common.Address) (*big.Int, error) {
	amount, ok, err := e.state.PassFeeGet(token, referrer)
	if err != nil {
		return nil, err
	}
	if !ok || amount == nil {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func railFor(token common.Address) string {
	if token == (common.Address{}) {
		return railNative
	}
	return railToken
}
