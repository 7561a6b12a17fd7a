// Command user_cmd runs the USER side of one submarine swap: it funds
// an HTLC, publishes the submarine data for the LP to pick up, and
// settles the HODL invoice once the LP marks it claimable.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/thunder-swap/engine/btcrpc"
	"github.com/thunder-swap/engine/config"
	"github.com/thunder-swap/engine/hodlstore"
	"github.com/thunder-swap/engine/keys"
	"github.com/thunder-swap/engine/orchestrator"
	"github.com/thunder-swap/engine/rln"
	"github.com/thunder-swap/engine/submarine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "user_cmd: config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ClientRole != config.RoleUser {
		fmt.Fprintf(os.Stderr, "user_cmd: CLIENT_ROLE must be USER, got %s\n", cfg.ClientRole)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel)
	entry := log.WithField("role", "user")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		entry.Warn("received interrupt, shutting down")
		cancel()
	}()

	derived, err := keys.FromWIF(cfg.WIF, cfg.Network)
	if err != nil {
		entry.WithError(err).Fatal("cannot derive key from WIF")
	}
	signer := keys.NewSigner(derived)

	node, err := btcrpc.New(&btcrpc.Config{
		Host: cfg.BitcoinRPCURL,
		User: cfg.BitcoinRPCUser,
		Pass: cfg.BitcoinRPCPass,
	}, cfg.Network.Chain, entry)
	if err != nil {
		entry.WithError(err).Fatal("cannot connect to bitcoin node")
	}
	defer node.Close()

	rlnClient := rln.New(cfg.RlnBaseURL, cfg.RlnAPIKey, entry)

	store, err := openHodlStore(cfg)
	if err != nil {
		entry.WithError(err).Fatal("cannot open hodl store")
	}
	defer store.Close()

	pub := submarine.NewServer(entry)
	go func() {
		if err := pub.Run(cfg.ClientCommPort); err != nil {
			entry.WithError(err).Error("submarine-data server stopped")
		}
	}()

	machine := orchestrator.NewUserMachine(&orchestrator.UserConfig{
		Chain:              cfg.Network.Chain,
		LPPubkeyCompressed: cfg.LPPubkeyCompressed,
		LocktimeBlocks:     cfg.LocktimeBlocks,
		HodlExpirySec:      cfg.HodlExpirySec,
		AmountMsat:         cfg.AmountMsat,
		MinConfs:           cfg.MinConfs,
		FeeRate:            cfg.FeeRateSatVB,
	}, signer, derived, rlnClient, node, store, pub, entry)

	final := machine.Run(ctx)
	entry.WithField("state", final).Info("user machine reached terminal state")

	switch final {
	case orchestrator.UserSettled:
		os.Exit(0)
	default:
		if machine.Err() != nil {
			entry.WithError(machine.Err()).Error("user machine did not settle")
		}
		os.Exit(1)
	}
}

func openHodlStore(cfg *config.Config) (hodlstore.Store, error) {
	if cfg.HodlStoreBackend == config.HodlStoreSQLite {
		path := cfg.HodlStorePath
		if path == "" {
			return nil, fmt.Errorf("HODL_STORE_PATH is required when HODL_STORE_BACKEND=sqlite")
		}
		return hodlstore.NewSQLiteHodlStore(path)
	}

	path := cfg.HodlStorePath
	if path == "" {
		var err error
		path, err = hodlstore.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return hodlstore.NewFileHodlStore(path)
}
