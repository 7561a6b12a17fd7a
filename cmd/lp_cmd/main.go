// Command lp_cmd runs the LP side of one submarine swap: it waits for
// the USER's submarine data, verifies the on-chain funding, pays the
// HODL invoice, and claims the HTLC once the preimage surfaces.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/thunder-swap/engine/btcrpc"
	"github.com/thunder-swap/engine/config"
	"github.com/thunder-swap/engine/keys"
	"github.com/thunder-swap/engine/orchestrator"
	"github.com/thunder-swap/engine/rln"
	"github.com/thunder-swap/engine/submarine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lp_cmd: config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ClientRole != config.RoleLP {
		fmt.Fprintf(os.Stderr, "lp_cmd: CLIENT_ROLE must be LP, got %s\n", cfg.ClientRole)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel)
	entry := log.WithField("role", "lp")

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
	fetcher := submarine.NewClient(cfg.UserCommURL, entry)

	machine := orchestrator.NewLPMachine(&orchestrator.LPConfig{
		Chain:    cfg.Network.Chain,
		MinConfs: cfg.MinConfs,
		FeeRate:  cfg.FeeRateSatVB,
	}, signer, derived, rlnClient, node, fetcher, entry)

	final := machine.Run(ctx)
	entry.WithField("state", final).Info("lp machine reached terminal state")

	switch final {
	case orchestrator.LPClaimed:
		entry.WithField("claimTxid", machine.ClaimTxid()).Info("htlc claimed")
		os.Exit(0)
	default:
		if machine.Err() != nil {
			entry.WithError(machine.Err()).Error("lp machine did not claim")
		}
		os.Exit(1)
	}
}
