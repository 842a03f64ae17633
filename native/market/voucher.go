package market

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"feedmint/crypto"
)

// Voucher kind names double as the signing-domain names, so a signature over
// one kind can never verify as another.
const (
	SaleVoucherKind    = "SaleVoucher"
	AuctionVoucherKind = "AuctionVoucher"
	BidVoucherKind     = "BidVoucher"

	signingDomainVersion = "1"
)

var (
	domainTypeHash = ethcrypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	saleTypeHash    = ethcrypto.Keccak256Hash([]byte("SaleVoucher(uint256 tokenId,address payments,uint256 price,uint256 quantity)"))
	auctionTypeHash = ethcrypto.Keccak256Hash([]byte("AuctionVoucher(uint256 tokenId,address payments,uint256 price,uint256 expired)"))
	bidTypeHash     = ethcrypto.Keccak256Hash([]byte("BidVoucher(uint256 tokenId,address payments,uint256 price,uint256 expired,uint256 nonce)"))

	versionHash = ethcrypto.Keccak256Hash([]byte(signingDomainVersion))
)

// SigningDomain derives the per-kind domain separators for one verifying
// engine instance. Chain id and verifying contract are fixed for the lifetime
// of the domain; separators are computed once per kind and reused.
type SigningDomain struct {
	chainID           *big.Int
	verifyingContract common.Address

	mu         sync.Mutex
	separators map[string]common.Hash
}

// NewSigningDomain binds a domain to the chain and verifying-contract identity
// under which vouchers are settled.
func NewSigningDomain(chainID uint64, verifyingContract common.Address) *SigningDomain {
	return &SigningDomain{
		chainID:           new(big.Int).SetUint64(chainID),
		verifyingContract: verifyingContract,
		separators:        make(map[string]common.Hash),
	}
}

// ChainID reports the chain identifier the domain signs for.
func (d *SigningDomain) ChainID() uint64 { return d.chainID.Uint64() }

// VerifyingContract reports the settlement identity vouchers are bound to.
// It is also the spender checked against fungible-token allowances.
func (d *SigningDomain) VerifyingContract() common.Address { return d.verifyingContract }

// Separator returns the cached domain separator for the given voucher kind,
// computing it on first use.
func (d *SigningDomain) Separator(kind string) common.Hash {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sep, ok := d.separators[kind]; ok {
		return sep
	}
	sep := hashWords(domainTypeHash,
		ethcrypto.Keccak256Hash([]byte(kind)),
		versionHash,
		common.BigToHash(d.chainID),
		addressWord(d.verifyingContract),
	)
	d.separators[kind] = sep
	return sep
}

// Digest produces the signable 32-byte digest for a struct hash under the
// given voucher kind.
func (d *SigningDomain) Digest(kind string, structHash common.Hash) []byte {
	sep := d.Separator(kind)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, sep[:], structHash[:])
}

// SaleVoucher authorizes the lazy mint of up to Quantity units of TokenID at
// Price per unit. Payments holds the fungible-token contract address, or the
// zero address for the native currency.
type SaleVoucher struct {
	TokenID   *uint256.Int   `json:"tokenId"`
	Payments  common.Address `json:"payments"`
	Price     *big.Int       `json:"price"`
	Quantity  *big.Int       `json:"quantity"`
	Signature []byte         `json:"signature"`
}

// StructHash hashes the voucher's typed fields, excluding the signature.
func (v *SaleVoucher) StructHash() common.Hash {
	return hashWords(saleTypeHash,
		tokenIDWord(v.TokenID),
		addressWord(v.Payments),
		amountWord(v.Price),
		amountWord(v.Quantity),
	)
}

// AuctionVoucher authorizes an auction of TokenID with Price as the reserve.
// Expired is advisory metadata carried in the signature; the matcher does not
// enforce it.
type AuctionVoucher struct {
	TokenID   *uint256.Int   `json:"tokenId"`
	Payments  common.Address `json:"payments"`
	Price     *big.Int       `json:"price"`
	Expired   *big.Int       `json:"expired"`
	Signature []byte         `json:"signature"`
}

// StructHash hashes the voucher's typed fields, excluding the signature.
func (v *AuctionVoucher) StructHash() common.Hash {
	return hashWords(auctionTypeHash,
		tokenIDWord(v.TokenID),
		addressWord(v.Payments),
		amountWord(v.Price),
		amountWord(v.Expired),
	)
}

// BidVoucher commits the signer to buy TokenID at Price. Nonce disambiguates
// repeated bids at the same price; replay protection is a caller concern.
type BidVoucher struct {
	TokenID   *uint256.Int   `json:"tokenId"`
	Payments  common.Address `json:"payments"`
	Price     *big.Int       `json:"price"`
	Expired   *big.Int       `json:"expired"`
	Nonce     *big.Int       `json:"nonce"`
	Signature []byte         `json:"signature"`
}

// StructHash hashes the voucher's typed fields, excluding the signature.
func (v *BidVoucher) StructHash() common.Hash {
	return hashWords(bidTypeHash,
		tokenIDWord(v.TokenID),
		addressWord(v.Payments),
		amountWord(v.Price),
		amountWord(v.Expired),
		amountWord(v.Nonce),
	)
}

// RecoverSaleSigner returns the address that signed the sale voucher under the
// supplied domain.
func RecoverSaleSigner(domain *SigningDomain, v *SaleVoucher) (common.Address, error) {
	if v == nil {
		return common.Address{}, fmt.Errorf("market: nil sale voucher")
	}
	return crypto.RecoverAddress(domain.Digest(SaleVoucherKind, v.StructHash()), v.Signature)
}

// RecoverAuctionSigner returns the address that signed the auction voucher.
func RecoverAuctionSigner(domain *SigningDomain, v *AuctionVoucher) (common.Address, error) {
	if v == nil {
		return common.Address{}, fmt.Errorf("market: nil auction voucher")
	}
	return crypto.RecoverAddress(domain.Digest(AuctionVoucherKind, v.StructHash()), v.Signature)
}

// RecoverBidSigner returns the address that signed the bid voucher.
func RecoverBidSigner(domain *SigningDomain, v *BidVoucher) (common.Address, error) {
	if v == nil {
		return common.Address{}, fmt.Errorf("market: nil bid voucher")
	}
	return crypto.RecoverAddress(domain.Digest(BidVoucherKind, v.StructHash()), v.Signature)
}

func hashWords(typeHash common.Hash, words ...common.Hash) common.Hash {
	buf := make([]byte, 0, 32*(1+len(words)))
	buf = append(buf, typeHash[:]...)
	for _, w := range words {
		buf = append(buf, w[:]...)
	}
	return ethcrypto.Keccak256Hash(buf)
}

func tokenIDWord(id *uint256.Int) common.Hash {
	if id == nil {
		return common.Hash{}
	}
	return common.Hash(id.Bytes32())
}

func addressWord(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func amountWord(v *big.Int) common.Hash {
	if v == nil {
		return common.Hash{}
	}
	return common.BigToHash(v)
}
