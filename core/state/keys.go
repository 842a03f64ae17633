package state

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	accountPrefix        = []byte("account/")
	marketSupplyPrefix   = []byte("market/supply/")
	marketBalancePrefix  = []byte("market/balance/")
	passPricePrefix      = []byte("pass/price/")
	passFeePrefix        = []byte("pass/fee/")
	passOwnerPrefix      = []byte("pass/owner/")
	passExpiryPrefix     = []byte("pass/expiry/")
	passAllowedPrefix    = []byte("pass/allowed/")
	passCounterKeyBytes  = []byte("pass/counter")
	tokenBalancePrefix   = []byte("token/balance/")
	tokenAllowancePrefix = []byte("token/allowance/")
	tokenListedPrefix    = []byte("token/listed/")
)

func addrHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func joinKey(prefix []byte, parts ...string) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, part...)
	}
	return buf
}

func accountKey(addr common.Address) []byte {
	return joinKey(accountPrefix, addrHex(addr))
}

func marketSupplyKey(tokenID *uint256.Int) []byte {
	return joinKey(marketSupplyPrefix, tokenID.Hex())
}

func marketBalanceKey(tokenID *uint256.Int, owner common.Address) []byte {
	return joinKey(marketBalancePrefix, tokenID.Hex(), addrHex(owner))
}

func passPriceKey(token, referrer common.Address) []byte {
	return joinKey(passPricePrefix, addrHex(token), addrHex(referrer))
}

func passFeeKey(token, referrer common.Address) []byte {
	return joinKey(passFeePrefix, addrHex(token), addrHex(referrer))
}

func passOwnerKey(passID uint64) []byte {
	return joinKey(passOwnerPrefix, strconv.FormatUint(passID, 10))
}

func passExpiryKey(passID uint64) []byte {
	return joinKey(passExpiryPrefix, strconv.FormatUint(passID, 10))
}

func passAllowedKey(token common.Address) []byte {
	return joinKey(passAllowedPrefix, addrHex(token))
}

func passCounterKey() []byte {
	return passCounterKeyBytes
}

func tokenBalanceKey(token, owner common.Address) []byte {
	return joinKey(tokenBalancePrefix, addrHex(token), addrHex(owner))
}

func tokenAllowanceKey(token, owner, spender common.Address) []byte {
	return joinKey(tokenAllowancePrefix, addrHex(token), addrHex(owner), addrHex(spender))
}

func tokenListedKey(token common.Address) []byte {
	return joinKey(tokenListedPrefix, addrHex(token))
}
