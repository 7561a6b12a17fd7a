// Package config loads the engine's runtime configuration from the
// environment via viper, the way the teacher's cmd/server_cmd/main.go
// reads its bridge configuration: viper.AutomaticEnv() plus explicit
// viper.Get* calls per key, with the non-string values (network
// params, pubkeys) parsed once at load time.
package config

import (
	"encoding/hex"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/thunder-swap/engine/netparams"
	"github.com/thunder-swap/engine/swaperr"
)

// envConfigFile names the optional env var pointing at a config file,
// matching cmd/server_cmd/main.go's ENV_CONFIG_FILE_PATH pattern.
const envConfigFile = "THUNDER_SWAP_CONFIG"

// Role identifies which side of the swap this process runs as.
type Role string

const (
	RoleUser Role = "USER"
	RoleLP   Role = "LP"
)

// HodlStoreBackend selects the hodlstore.Store implementation.
type HodlStoreBackend string

const (
	HodlStoreFile   HodlStoreBackend = "file"
	HodlStoreSQLite HodlStoreBackend = "sqlite"
)

// Config bundles every value spec §6 names, already parsed into the
// types the rest of the engine expects.
type Config struct {
	ClientRole Role

	BitcoinRPCURL  string
	BitcoinRPCUser string
	BitcoinRPCPass string

	WIF     string
	Network *netparams.Params

	MinConfs       int64
	LocktimeBlocks uint32
	FeeRateSatVB   float64

	LPPubkeyCompressed [33]byte

	RlnBaseURL string
	RlnAPIKey  string

	HodlExpirySec uint64
	AmountMsat    uint64

	ClientCommPort string
	UserCommURL    string

	HodlStoreBackend HodlStoreBackend
	HodlStorePath    string

	LogLevel string
}

// Default values for the keys spec §6 marks optional.
const (
	defaultHodlExpirySec    = 86400
	defaultClientCommPort   = "9999"
	defaultMinConfs         = 1
	defaultFeeRateSatVB     = 5.0
	defaultHodlStoreBackend = HodlStoreFile
	defaultLogLevel         = "info"
)

// Load reads every configuration key from the environment, applying
// defaults where spec §6 allows one, and validating the values that
// feed directly into chain parameters or key material.
func Load() (*Config, error) {
	viper.AutomaticEnv()

	if configFile := viper.GetString(envConfigFile); configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, swaperr.Wrap(swaperr.ConfigError, "THUNDER_SWAP_CONFIG file not found", err)
		}
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, swaperr.Wrap(swaperr.ConfigError, "cannot read THUNDER_SWAP_CONFIG file", err)
		}
	}

	viper.SetDefault("HODL_EXPIRY_SEC", defaultHodlExpirySec)
	viper.SetDefault("CLIENT_COMM_PORT", defaultClientCommPort)
	viper.SetDefault("MIN_CONFS", defaultMinConfs)
	viper.SetDefault("FEE_RATE_SAT_PER_VB", defaultFeeRateSatVB)
	viper.SetDefault("HODL_STORE_BACKEND", string(defaultHodlStoreBackend))
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)

	role := Role(strings.ToUpper(viper.GetString("CLIENT_ROLE")))
	if role != RoleUser && role != RoleLP {
		return nil, swaperr.Newf(swaperr.ConfigError, "CLIENT_ROLE must be USER or LP, got %q", role)
	}

	networkTag := netparams.Tag(strings.ToLower(viper.GetString("NETWORK")))
	network, err := netparams.Lookup(networkTag)
	if err != nil {
		return nil, err
	}

	lpPubHex := viper.GetString("LP_PUBKEY_HEX")
	lpPubRaw, err := hex.DecodeString(lpPubHex)
	if err != nil || len(lpPubRaw) != 33 {
		return nil, swaperr.New(swaperr.ConfigError, "LP_PUBKEY_HEX must be 33 compressed-pubkey bytes in hex")
	}
	var lpPub [33]byte
	copy(lpPub[:], lpPubRaw)

	backend := HodlStoreBackend(strings.ToLower(viper.GetString("HODL_STORE_BACKEND")))
	if backend != HodlStoreFile && backend != HodlStoreSQLite {
		return nil, swaperr.Newf(swaperr.ConfigError, "HODL_STORE_BACKEND must be file or sqlite, got %q", backend)
	}

	cfg := &Config{
		ClientRole: role,

		BitcoinRPCURL:  viper.GetString("BITCOIN_RPC_URL"),
		BitcoinRPCUser: viper.GetString("BITCOIN_RPC_USER"),
		BitcoinRPCPass: viper.GetString("BITCOIN_RPC_PASS"),

		WIF:     viper.GetString("WIF"),
		Network: network,

		MinConfs:       viper.GetInt64("MIN_CONFS"),
		LocktimeBlocks: uint32(viper.GetUint32("LOCKTIME_BLOCKS")),
		FeeRateSatVB:   viper.GetFloat64("FEE_RATE_SAT_PER_VB"),

		LPPubkeyCompressed: lpPub,

		RlnBaseURL: viper.GetString("RLN_BASE_URL"),
		RlnAPIKey:  viper.GetString("RLN_API_KEY"),

		HodlExpirySec: viper.GetUint64("HODL_EXPIRY_SEC"),
		AmountMsat:    viper.GetUint64("SWAP_AMOUNT_MSAT"),

		ClientCommPort: viper.GetString("CLIENT_COMM_PORT"),
		UserCommURL:    viper.GetString("USER_COMM_URL"),

		HodlStoreBackend: backend,
		HodlStorePath:    viper.GetString("HODL_STORE_PATH"),

		LogLevel: viper.GetString("LOG_LEVEL"),
	}

	if cfg.BitcoinRPCURL == "" {
		return nil, swaperr.New(swaperr.ConfigError, "BITCOIN_RPC_URL is required")
	}
	if cfg.WIF == "" {
		return nil, swaperr.New(swaperr.ConfigError, "WIF is required")
	}
	if cfg.RlnBaseURL == "" {
		return nil, swaperr.New(swaperr.ConfigError, "RLN_BASE_URL is required")
	}
	if role == RoleUser && cfg.AmountMsat == 0 {
		return nil, swaperr.New(swaperr.ConfigError, "SWAP_AMOUNT_MSAT is required when CLIENT_ROLE=USER")
	}
	if role == RoleLP && cfg.UserCommURL == "" {
		return nil, swaperr.New(swaperr.ConfigError, "USER_COMM_URL is required when CLIENT_ROLE=LP")
	}

	return cfg, nil
}
