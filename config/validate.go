package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate rejects configurations the node cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	admin := strings.TrimSpace(cfg.AdminAddress)
	if admin != "" && !common.IsHexAddress(admin) {
		return fmt.Errorf("config: AdminAddress is not a hex address: %q", cfg.AdminAddress)
	}
	if _, ok := new(big.Int).SetString(strings.TrimSpace(cfg.StoragePricePerByte), 10); !ok {
		return fmt.Errorf("config: StoragePricePerByte is not a decimal amount: %q", cfg.StoragePricePerByte)
	}
	if _, ok := new(big.Int).SetString(strings.TrimSpace(cfg.PledgeDeposit), 10); !ok {
		return fmt.Errorf("config: PledgeDeposit is not a decimal amount: %q", cfg.PledgeDeposit)
	}
	for token, bps := range cfg.Fees {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("config: empty token in Fees")
		}
		if bps > 10_000 {
			return fmt.Errorf("config: fee bps out of range for %s: %d", token, bps)
		}
	}
	for _, token := range cfg.AllowedTokens {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("config: empty token in AllowedTokens")
		}
	}
	return nil
}

// Admin parses the configured administrator address.
func (c *Config) Admin() ([20]byte, error) {
	var out [20]byte
	admin := strings.TrimSpace(c.AdminAddress)
	if admin == "" {
		return out, fmt.Errorf("config: AdminAddress is required")
	}
	if !common.IsHexAddress(admin) {
		return out, fmt.Errorf("config: AdminAddress is not a hex address: %q", c.AdminAddress)
	}
	return [20]byte(common.HexToAddress(admin)), nil
}
