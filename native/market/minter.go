package market

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"feedmint/crypto"
)

var errNilMinterKey = errors.New("market minter: signing key not configured")

// Minter builds signed vouchers off-chain on behalf of a single key. The
// token identity always embeds the minter's own address, so a creator can
// only authorize sales of content originated under its identity.
//
// The minter shares one SigningDomain across all vouchers it produces, so the
// domain separators are resolved once and amortized over every signature.
type Minter struct {
	key    *crypto.PrivateKey
	domain *SigningDomain
}

// NewMinter binds a signing key to the settlement domain it vouches under.
func NewMinter(key *crypto.PrivateKey, domain *SigningDomain) *Minter {
	return &Minter{key: key, domain: domain}
}

// Address reports the minter's account address, the originator embedded in
// every token identity it produces.
func (m *Minter) Address() common.Address {
	return m.key.PubKey().Address()
}

// CreateSaleVoucher signs a lazy-mint authorization for quantity units at
// price per unit.
func (m *Minter) CreateSaleVoucher(platform Platform, index uint64, payments common.Address, price, quantity *big.Int) (*SaleVoucher, error) {
	if m == nil || m.key == nil {
		return nil, errNilMinterKey
	}
	tokenID, err := EncodeTokenID(m.Address(), platform, index)
	if err != nil {
		return nil, err
	}
	v := &SaleVoucher{
		TokenID:  tokenID,
		Payments: payments,
		Price:    cloneAmount(price),
		Quantity: cloneAmount(quantity),
	}
	sig, err := m.key.Sign(m.domain.Digest(SaleVoucherKind, v.StructHash()))
	if err != nil {
		return nil, err
	}
	v.Signature = sig
	return v, nil
}

// CreateAuctionVoucher signs an auction authorization with price as reserve.
func (m *Minter) CreateAuctionVoucher(platform Platform, index uint64, payments common.Address, price *big.Int, expired int64) (*AuctionVoucher, error) {
	if m == nil || m.key == nil {
		return nil, errNilMinterKey
	}
	tokenID, err := EncodeTokenID(m.Address(), platform, index)
	if err != nil {
		return nil, err
	}
	v := &AuctionVoucher{
		TokenID:  tokenID,
		Payments: payments,
		Price:    cloneAmount(price),
		Expired:  big.NewInt(expired),
	}
	sig, err := m.key.Sign(m.domain.Digest(AuctionVoucherKind, v.StructHash()))
	if err != nil {
		return nil, err
	}
	v.Signature = sig
	return v, nil
}

// CreateBidVoucher signs a bid commitment at price. Like the other kinds the
// token identity is derived from the signer's own address, so bidding against
// another originator's token means hashing and signing a BidVoucher with that
// token's identity directly.
func (m *Minter) CreateBidVoucher(platform Platform, index uint64, payments common.Address, price *big.Int, expired int64, nonce uint64) (*BidVoucher, error) {
	if m == nil || m.key == nil {
		return nil, errNilMinterKey
	}
	tokenID, err := EncodeTokenID(m.Address(), platform, index)
	if err != nil {
		return nil, err
	}
	v := &BidVoucher{
		TokenID:  tokenID,
		Payments: payments,
		Price:    cloneAmount(price),
		Expired:  big.NewInt(expired),
		Nonce:    new(big.Int).SetUint64(nonce),
	}
	sig, err := m.key.Sign(m.domain.Digest(BidVoucherKind, v.StructHash()))
	if err != nil {
		return nil, err
	}
	v.Signature = sig
	return v, nil
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
