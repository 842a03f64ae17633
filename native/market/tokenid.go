package market

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Platform tags the execution environment where a creator's identity was
// established. It is embedded in every token identity so the same content can
// be represented across environments without id collisions.
type Platform uint64

const (
	PlatformEthereum Platform = 1
	PlatformPolygon  Platform = 137
	PlatformKlaytn   Platform = 8217
)

// Token identity layout: 20 bytes originator address, 7 bytes platform tag,
// 5 bytes sequence index, all big-endian and right-aligned.
const (
	platformWidth = 7
	indexWidth    = 5
)

var (
	ErrPlatformOverflow = errors.New("market: platform tag exceeds 7 bytes")
	ErrIndexOverflow    = errors.New("market: sequence index exceeds 5 bytes")
	ErrNilTokenID       = errors.New("market: nil token id")
)

// EncodeTokenID packs the originator address, platform tag and sequence index
// into a 256-bit token identity. It fails when either numeric field does not
// fit its allotted width.
func EncodeTokenID(originator common.Address, platform Platform, index uint64) (*uint256.Int, error) {
	if uint64(platform) >= 1<<(8*platformWidth) {
		return nil, ErrPlatformOverflow
	}
	if index >= 1<<(8*indexWidth) {
		return nil, ErrIndexOverflow
	}
	var buf [32]byte
	copy(buf[:20], originator[:])
	p := uint64(platform)
	for i := 0; i < platformWidth; i++ {
		buf[20+platformWidth-1-i] = byte(p >> (8 * i))
	}
	for i := 0; i < indexWidth; i++ {
		buf[31-i] = byte(index >> (8 * i))
	}
	return new(uint256.Int).SetBytes(buf[:]), nil
}

// DecodeTokenID is the exact inverse of EncodeTokenID and recovers the three
// fields byte-for-byte from any identity the encoder produced.
func DecodeTokenID(id *uint256.Int) (common.Address, Platform, uint64, error) {
	if id == nil {
		return common.Address{}, 0, 0, ErrNilTokenID
	}
	buf := id.Bytes32()
	var originator common.Address
	copy(originator[:], buf[:20])
	var platform uint64
	for _, b := range buf[20 : 20+platformWidth] {
		platform = platform<<8 | uint64(b)
	}
	var index uint64
	for _, b := range buf[20+platformWidth:] {
		index = index<<8 | uint64(b)
	}
	return originator, Platform(platform), index, nil
}
