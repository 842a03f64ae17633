package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"feedmint/config"
	"feedmint/crypto"
	"feedmint/native/market"
	"feedmint/observability/logging"
)

var configPath = defaultConfigPath()

func defaultConfigPath() string {
	if path := os.Getenv("FEEDMINT_CONFIG"); path != "" {
		return path
	}
	return "./feedmint.toml"
}

func keystorePassphrase() string {
	return os.Getenv("FEEDMINT_KEYSTORE_PASSPHRASE")
}

func main() {
	logging.Setup("feedmint-cli", os.Getenv("FEEDMINT_ENV"))

	args := os.Args[1:]
	args = applyGlobalFlags(args)
	if len(args) < 1 {
		printUsage()
		return
	}

	var err error
	switch command := args[0]; command {
	case "generate-key":
		err = generateKey(args[1:])
	case "address":
		err = showAddress(args[1:])
	case "token-id":
		err = showTokenID(args[1:])
	case "sale-voucher":
		err = saleVoucher(args[1:])
	case "auction-voucher":
		err = auctionVoucher(args[1:])
	case "bid-voucher":
		err = bidVoucher(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func applyGlobalFlags(args []string) []string {
	out := args[:0]
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}

func printUsage() {
	fmt.Println(`Usage: feedmint-cli [--config <path>] <command> [args]

Commands:
  generate-key <keyfile>                                    create a signing key
  address <keyfile>                                         print the key's address
  token-id <keyfile> <platform> <index>                     print the token identity
  sale-voucher <keyfile> <platform> <index> <payments> <price> <quantity>
  auction-voucher <keyfile> <platform> <index> <payments> <price> <expired>
  bid-voucher <keyfile> <platform> <index> <payments> <price> <expired> <nonce>

The keystore passphrase is read from FEEDMINT_KEYSTORE_PASSPHRASE.`)
}

func generateKey(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("generate-key: key file path required")
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := key.SaveKeystore(args[0], keystorePassphrase()); err != nil {
		return err
	}
	fmt.Printf("new signing key saved to %s\naddress: %s\n", args[0], key.PubKey().Address().Hex())
	return nil
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	return crypto.LoadKeystore(path, keystorePassphrase())
}

func showAddress(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("address: key file path required")
	}
	key, err := loadKey(args[0])
	if err != nil {
		return err
	}
	fmt.Println(key.PubKey().Address().Hex())
	return nil
}

func showTokenID(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("token-id: key file, platform and index required")
	}
	key, err := loadKey(args[0])
	if err != nil {
		return err
	}
	platform, index, err := parsePlatformIndex(args[1], args[2])
	if err != nil {
		return err
	}
	tokenID, err := market.EncodeTokenID(key.PubKey().Address(), platform, index)
	if err != nil {
		return err
	}
	fmt.Println(tokenID.Hex())
	return nil
}

func newMinter(keyPath string) (*market.Minter, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	key, err := loadKey(keyPath)
	if err != nil {
		return nil, err
	}
	domain := market.NewSigningDomain(cfg.ChainID, common.HexToAddress(cfg.SettlementAddress))
	return market.NewMinter(key, domain), nil
}

func saleVoucher(args []string) error {
	if len(args) < 6 {
		return fmt.Errorf("sale-voucher: keyfile, platform, index, payments, price, quantity required")
	}
	minter, err := newMinter(args[0])
	if err != nil {
		return err
	}
	platform, index, err := parsePlatformIndex(args[1], args[2])
	if err != nil {
		return err
	}
	price, err := parseAmount(args[4])
	if err != nil {
		return err
	}
	quantity, err := parseAmount(args[5])
	if err != nil {
		return err
	}
	voucher, err := minter.CreateSaleVoucher(platform, index, common.HexToAddress(args[3]), price, quantity)
	if err != nil {
		return err
	}
	return printJSON(voucher)
}

func auctionVoucher(args []string) error {
	if len(args) < 6 {
		return fmt.Errorf("auction-voucher: keyfile, platform, index, payments, price, expired required")
	}
	minter, err := newMinter(args[0])
	if err != nil {
		return err
	}
	platform, index, err := parsePlatformIndex(args[1], args[2])
	if err != nil {
		return err
	}
	price, err := parseAmount(args[4])
	if err != nil {
		return err
	}
	expired, err := strconv.ParseInt(args[5], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiry: %w", err)
	}
	voucher, err := minter.CreateAuctionVoucher(platform, index, common.HexToAddress(args[3]), price, expired)
	if err != nil {
		return err
	}
	return printJSON(voucher)
}

func bidVoucher(args []string) error {
	if len(args) < 7 {
		return fmt.Errorf("bid-voucher: keyfile, platform, index, payments, price, expired, nonce required")
	}
	minter, err := newMinter(args[0])
	if err != nil {
		return err
	}
	platform, index, err := parsePlatformIndex(args[1], args[2])
	if err != nil {
		return err
	}
	price, err := parseAmount(args[4])
	if err != nil {
		return err
	}
	expired, err := strconv.ParseInt(args[5], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiry: %w", err)
	}
	nonce, err := strconv.ParseUint(args[6], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid nonce: %w", err)
	}
	voucher, err := minter.CreateBidVoucher(platform, index, common.HexToAddress(args[3]), price, expired, nonce)
	if err != nil {
		return err
	}
	return printJSON(voucher)
}

func parsePlatformIndex(platformArg, indexArg string) (market.Platform, uint64, error) {
	platform, err := strconv.ParseUint(platformArg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid platform: %w", err)
	}
	index, err := strconv.ParseUint(indexArg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid index: %w", err)
	}
	return market.Platform(platform), index, nil
}

func parseAmount(arg string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(arg, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", arg)
	}
	return amount, nil
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
