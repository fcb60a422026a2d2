package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	Environment string `toml:"Environment"`

	// AdminAddress is the 0x-prefixed hex address allowed to drive the epoch
	// lifecycle and settlements.
	AdminAddress string `toml:"AdminAddress"`

	// TokenServiceURL is the endpoint outbound transfers are posted to.
	TokenServiceURL string `toml:"TokenServiceURL"`
	// TokenServiceSecret, when set, enables HMAC signing of transfer requests.
	TokenServiceSecret string `toml:"TokenServiceSecret,omitempty"`

	// StoragePricePerByte and RegistrationStorageBytes together set the
	// minimum deposit covering a creator registration; PledgeDeposit is the
	// minimum deposit attached to a pledge. All decimal strings.
	StoragePricePerByte      string `toml:"StoragePricePerByte"`
	RegistrationStorageBytes uint64 `toml:"RegistrationStorageBytes"`
	PledgeDeposit            string `toml:"PledgeDeposit"`

	// AllowedTokens seeds the first epoch's allowed-token set.
	AllowedTokens []string `toml:"AllowedTokens"`
	// Fees maps token identities onto protocol fee basis points.
	Fees map[string]uint32 `toml:"Fees,omitempty"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "metastage-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "development"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./metastage-data"
	}
	if strings.TrimSpace(cfg.StoragePricePerByte) == "" {
		cfg.StoragePricePerByte = "0"
	}
	if strings.TrimSpace(cfg.PledgeDeposit) == "" {
		cfg.PledgeDeposit = "0"
	}
	if cfg.AllowedTokens == nil {
		cfg.AllowedTokens = []string{}
	}
}

// RegistrationStorageCost is the minimum registration deposit derived from the
// storage price and the bytes a registration occupies.
func (c *Config) RegistrationStorageCost() *big.Int {
	price, ok := new(big.Int).SetString(strings.TrimSpace(c.StoragePricePerByte), 10)
	if !ok {
		price = big.NewInt(0)
	}
	return price.Mul(price, new(big.Int).SetUint64(c.RegistrationStorageBytes))
}

// PledgeDepositAmount parses the configured minimum pledge deposit.
func (c *Config) PledgeDepositAmount() *big.Int {
	deposit, ok := new(big.Int).SetString(strings.TrimSpace(c.PledgeDeposit), 10)
	if !ok {
		return big.NewInt(0)
	}
	return deposit
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:               ":8080",
		DataDir:                  "./metastage-data",
		NetworkName:              "metastage-local",
		Environment:              "development",
		AdminAddress:             "",
		TokenServiceURL:          "http://127.0.0.1:9090/transfer",
		StoragePricePerByte:      "0",
		RegistrationStorageBytes: 4096,
		PledgeDeposit:            "0",
		AllowedTokens:            []string{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
