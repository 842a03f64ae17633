package market

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"feedmint/core/events"
	"feedmint/core/types"
	"feedmint/observability/metrics"
)

var (
	ErrNilState              = errors.New("market engine: state not configured")
	ErrNilTokenLedger        = errors.New("market engine: token ledger not configured")
	ErrUnauthorizedSigner    = errors.New("market engine: signer is not creator")
	ErrUnauthorized          = errors.New("market engine: unauthorized")
	ErrInsufficientAmount    = errors.New("market engine: insufficient amount")
	ErrInsufficientAllowance = errors.New("market engine: insufficient allowance")
	ErrSupplyExceeded        = errors.New("market engine: supply exceeded")
)

// Fee split applied to every settlement, in basis points taken by the
// platform. Configurable per engine instance.
const defaultPlatformFeeBps = 1_000

const (
	railNative = "native"
	railToken  = "token"
)

type engineState interface {
	GetAccount(addr common.Address) (*types.Account, error)
	PutAccount(addr common.Address, account *types.Account) error
	MarketSupplyGet(tokenID *uint256.Int) (*big.Int, bool, error)
	MarketSupplyPut(tokenID *uint256.Int, minted *big.Int) error
	MarketBalanceGet(tokenID *uint256.Int, owner common.Address) (*big.Int, error)
	MarketBalancePut(tokenID *uint256.Int, owner common.Address, balance *big.Int) error
}

// TokenLedger is the fungible-token collaborator used for the pull-payment
// rail. Implementations must reject tokens they do not know about, including
// the zero address.
type TokenLedger interface {
	BalanceOf(token, owner common.Address) (*big.Int, error)
	Allowance(token, owner, spender common.Address) (*big.Int, error)
	TransferFrom(token, from, to common.Address, amount *big.Int) error
}

// MintReceipt summarises a completed settlement.
type MintReceipt struct {
	TokenID       *uint256.Int
	Recipient     common.Address
	Quantity      *big.Int
	PaymentToken  common.Address
	TotalPaid     *big.Int
	PlatformFee   *big.Int
	CreatorPayout *big.Int
}

// Engine verifies vouchers and executes the mint plus payment split. It also
// hosts the auction matcher, since both paths share the verification domain,
// the fee split and the supply accounting.
type Engine struct {
	state    engineState
	tokens   TokenLedger
	domain   *SigningDomain
	emitter  events.Emitter
	treasury common.Address
	feeBps   uint32
}

// NewEngine constructs a settlement engine bound to a signing domain.
func NewEngine(domain *SigningDomain) *Engine {
	return &Engine{
		domain:  domain,
		emitter: events.NoopEmitter{},
		feeBps:  defaultPlatformFeeBps,
	}
}

// SetState configures the ledger state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenLedger configures the fungible-token collaborator.
func (e *Engine) SetTokenLedger(tokens TokenLedger) { e.tokens = tokens }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetTreasury configures the platform account credited with the fee share.
func (e *Engine) SetTreasury(addr common.Address) { e.treasury = addr }

// SetFeeBps configures the platform share of every settlement in basis points.
func (e *Engine) SetFeeBps(bps uint32) error {
	if bps > 10_000 {
		return fmt.Errorf("market engine: fee bps out of range: %d", bps)
	}
	e.feeBps = bps
	return nil
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

// Redeem settles a sale voucher: it verifies the signature against the
// claimed creator, collects payment on the voucher's rail, splits the
// proceeds and mints the requested units to the buyer.
//
// The creator identity is an input of the redemption, not derived from the
// token id; the authorization check is recovered signer == claimed creator.
// value is the native currency attached by the buyer; only the amount due is
// drawn from the buyer's balance, any excess stays untouched.
func (e *Engine) Redeem(voucher *SaleVoucher, claimedCreator, buyer common.Address, requested *big.Int, value *big.Int) (*MintReceipt, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if voucher == nil || voucher.TokenID == nil {
		return nil, fmt.Errorf("market engine: invalid sale voucher")
	}
	if requested == nil || requested.Sign() <= 0 {
		return nil, fmt.Errorf("market engine: requested quantity must be positive")
	}
	price := cloneAmount(voucher.Price)
	ceiling := cloneAmount(voucher.Quantity)

	signer, err := RecoverSaleSigner(e.domain, voucher)
	if err != nil {
		return nil, fmt.Errorf("market engine: recover sale signer: %w", err)
	}
	if signer != claimedCreator {
		return nil, ErrUnauthorizedSigner
	}

	totalDue := new(big.Int).Mul(price, requested)
	native := voucher.Payments == (common.Address{})
	var buyerAccount *types.Account
	if native {
		if value == nil || value.Cmp(totalDue) < 0 {
			return nil, ErrInsufficientAmount
		}
		buyerAccount, err = e.state.GetAccount(buyer)
		if err != nil {
			return nil, err
		}
		buyerAccount = buyerAccount.Normalize()
		if buyerAccount.Balance.Cmp(totalDue) < 0 {
			return nil, ErrInsufficientAmount
		}
	} else {
		if e.tokens == nil {
			return nil, ErrNilTokenLedger
		}
		balance, err := e.tokens.BalanceOf(voucher.Payments, buyer)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(totalDue) < 0 {
			return nil, ErrInsufficientAmount
		}
		allowance, err := e.tokens.Allowance(voucher.Payments, buyer, e.domain.VerifyingContract())
		if err != nil {
			return nil, err
		}
		if allowance.Cmp(totalDue) < 0 {
			return nil, ErrInsufficientAmount
		}
	}

	minted, _, err := e.state.MarketSupplyGet(voucher.TokenID)
	if err != nil {
		return nil, err
	}
	if minted == nil {
		minted = big.NewInt(0)
	}
	after := new(big.Int).Add(minted, requested)
	if after.Cmp(ceiling) > 0 {
		return nil, ErrSupplyExceeded
	}

	fee, payout := e.split(totalDue)
	if native {
		if err := e.settleNative(buyerAccount, buyer, claimedCreator, payout, fee); err != nil {
			return nil, err
		}
	} else {
		if err := e.settleToken(voucher.Payments, buyer, claimedCreator, payout, fee); err != nil {
			return nil, err
		}
	}

	if err := e.state.MarketSupplyPut(voucher.TokenID, after); err != nil {
		return nil, err
	}
	if err := e.creditToken(voucher.TokenID, buyer, requested); err != nil {
		return nil, err
	}

	e.emit(SaleRedeemedEvent(voucher.TokenID, claimedCreator, buyer, requested, totalDue, fee))
	metrics.Market().SaleRedeemed(railName(native), requested, totalDue)
	return &MintReceipt{
		TokenID:       voucher.TokenID,
		Recipient:     buyer,
		Quantity:      requested,
		PaymentToken:  voucher.Payments,
		TotalPaid:     totalDue,
		PlatformFee:   fee,
		CreatorPayout: payout,
	}, nil
}

// AcceptBid cross-validates an auction voucher against a bid voucher and
// settles the match. Only the auction creator may invoke it. The check order
// is part of the contract: identity checks first, then cross-field checks,
// then funds checks, so a malformed pairing is rejected before any balance
// inspection.
//
// Settlement is pull-payment only; a native-currency pairing fails at the
// token ledger because the zero address is not a token contract.
func (e *Engine) AcceptBid(bid *BidVoucher, bidder common.Address, auction *AuctionVoucher, auctionCreator, caller common.Address) (*MintReceipt, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if bid == nil || bid.TokenID == nil || auction == nil || auction.TokenID == nil {
		return nil, fmt.Errorf("market engine: invalid voucher pairing")
	}
	if caller != auctionCreator {
		return nil, ErrUnauthorized
	}
	bidSigner, err := RecoverBidSigner(e.domain, bid)
	if err != nil {
		return nil, fmt.Errorf("market engine: recover bid signer: %w", err)
	}
	if bidSigner != bidder {
		return nil, ErrUnauthorized
	}
	auctionSigner, err := RecoverAuctionSigner(e.domain, auction)
	if err != nil {
		return nil, fmt.Errorf("market engine: recover auction signer: %w", err)
	}
	if auctionSigner != auctionCreator {
		return nil, ErrUnauthorized
	}
	if !bid.TokenID.Eq(auction.TokenID) {
		return nil, fmt.Errorf("market engine: voucher token id mismatch")
	}
	if bid.Payments != auction.Payments {
		return nil, fmt.Errorf("market engine: voucher payment token mismatch")
	}
	bidPrice := cloneAmount(bid.Price)
	if bidPrice.Cmp(cloneAmount(auction.Price)) < 0 {
		return nil, fmt.Errorf("market engine: bid below reserve price")
	}

	if e.tokens == nil {
		return nil, ErrNilTokenLedger
	}
	balance, err := e.tokens.BalanceOf(bid.Payments, bidder)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(bidPrice) < 0 {
		return nil, ErrInsufficientAmount
	}
	allowance, err := e.tokens.Allowance(bid.Payments, bidder, e.domain.VerifyingContract())
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(bidPrice) < 0 {
		return nil, ErrInsufficientAllowance
	}

	fee, payout := e.split(bidPrice)
	if err := e.settleToken(bid.Payments, bidder, auctionCreator, payout, fee); err != nil {
		return nil, err
	}

	minted, _, err := e.state.MarketSupplyGet(bid.TokenID)
	if err != nil {
		return nil, err
	}
	if minted == nil {
		minted = big.NewInt(0)
	}
	one := big.NewInt(1)
	if err := e.state.MarketSupplyPut(bid.TokenID, new(big.Int).Add(minted, one)); err != nil {
		return nil, err
	}
	if err := e.creditToken(bid.TokenID, bidder, one); err != nil {
		return nil, err
	}

	e.emit(BidAcceptedEvent(bid.TokenID, auctionCreator, bidder, bidPrice, fee))
	metrics.Market().BidAccepted(railToken, bidPrice)
	return &MintReceipt{
		TokenID:       bid.TokenID,
		Recipient:     bidder,
		Quantity:      one,
		PaymentToken:  bid.Payments,
		TotalPaid:     bidPrice,
		PlatformFee:   fee,
		CreatorPayout: payout,
	}, nil
}

func (e *Engine) split(total *big.Int) (fee, payout *big.Int) {
	fee = new(big.Int).Mul(total, big.NewInt(int64(e.feeBps)))
	fee = fee.Div(fee, big.NewInt(10_000))
	payout = new(big.Int).Sub(total, fee)
	return fee, payout
}

func (e *Engine) settleNative(buyerAccount *types.Account, buyer, creator common.Address, payout, fee *big.Int) error {
	total := new(big.Int).Add(payout, fee)
	buyerAccount.Balance = new(big.Int).Sub(buyerAccount.Balance, total)
	if err := e.state.PutAccount(buyer, buyerAccount); err != nil {
		return err
	}
	if err := e.creditNative(creator, payout); err != nil {
		return err
	}
	return e.creditNative(e.treasury, fee)
}

func (e *Engine) settleToken(token, from, creator common.Address, payout, fee *big.Int) error {
	if payout.Sign() > 0 {
		if err := e.tokens.TransferFrom(token, from, creator, payout); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if err := e.tokens.TransferFrom(token, from, e.treasury, fee); err != nil {
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

func (e *Engine) creditToken(tokenID *uint256.Int, owner common.Address, amount *big.Int) error {
	balance, err := e.state.MarketBalanceGet(tokenID, owner)
	if err != nil {
		return err
	}
	if balance == nil {
		balance = big.NewInt(0)
	}
	return e.state.MarketBalancePut(tokenID, owner, new(big.Int).Add(balance, amount))
}

func railName(native bool) string {
	if native {
		return railNative
	}
	return railToken
}
