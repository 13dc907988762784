package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dexchaind/internal/blockstore"
	"dexchaind/internal/forkdb"
	"dexchaind/internal/genesis"
	"dexchaind/internal/metrics"
	"dexchaind/internal/p2p"
	"dexchaind/internal/protocol"
	"dexchaind/internal/rpcapi"
	"dexchaind/internal/txprocessor"
	"dexchaind/pkg/config"
	"dexchaind/pkg/logging"

	chainpkg "dexchaind/internal/chain"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "start a dexchaind node: chain pipeline, RPC/metrics servers, and P2P gossip",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			return runStart(env)
		},
	}
}

func runStart(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return err
	}
	logging.SetLevel(cfg.Logging.Level)
	log := logging.Component("dexchaind")

	if cfg.Storage.DBPath != "" {
		if err := os.MkdirAll(cfg.Storage.DBPath, 0o755); err != nil {
			return err
		}
	}

	archive, err := blockstore.Open(filepath.Join(cfg.Storage.DBPath, "archive.dat"))
	if err != nil {
		return err
	}
	defer archive.Close()

	store := genesis.Bootstrap(genesis.Params{
		ChainID:                   cfg.Network.ChainID,
		BlockIntervalSec:          uint32(cfg.Chain.BlockIntervalSec),
		MaintenanceIntervalSec:    uint32(cfg.Chain.MaintenanceIntervalSec),
		MaxBlockSize:              uint32(cfg.Chain.MaxBlockSize),
		MaxTimeUntilExpirationSec: uint32(cfg.Chain.MaxTimeUntilExpirationS),
		MinWitnessCount:           uint16(cfg.Chain.MinWitnessCount),
		MinCommitteeCount:         uint16(cfg.Chain.MinCommitteeCount),
		HeadBlockTime:             time.Now().Unix(),
	})
	global, err := txprocessor.CurrentGlobalProperties(store)
	if err != nil {
		return err
	}
	fees := global.CurrentFees

	fdb := forkdb.New()
	// A fresh chain activates every named hardfork guard from genesis —
	// there is no pre-hardfork history to preserve the gated behavior for.
	hf := protocol.NewHardforkSchedule([]protocol.HardforkGuard{
		{Name: protocol.HardforkFeedExpiry615, ActivatesAt: 0},
		{Name: protocol.HardforkTargetCR834, ActivatesAt: 0},
		{Name: protocol.HardforkProposal1479, ActivatesAt: 0},
	})

	pipeline := chainpkg.New(store, fdb, archive, fees, hf, false,
		uint32(cfg.Chain.BlockIntervalSec), uint32(cfg.Chain.MaxTimeUntilExpirationS))

	if err := pipeline.Replay(); err != nil {
		return err
	}
	log.Info("chain state replayed from archive")

	chainID := sha256.Sum256([]byte(cfg.Network.ChainID))
	adapter := p2p.NewChainAdapter(pipeline, protocol.Hash(chainID))

	var node *p2p.Node
	if cfg.Network.ListenAddr != "" {
		node, err = p2p.NewNode(p2p.Config{
			ListenAddr:     cfg.Network.ListenAddr,
			BootstrapPeers: cfg.Network.BootstrapPeers,
			DiscoveryTag:   cfg.Network.DiscoveryTag,
		}, adapter)
		if err != nil {
			return err
		}
		defer node.Close()
		if len(cfg.Network.BootstrapPeers) > 0 {
			if err := node.DialSeed(cfg.Network.BootstrapPeers); err != nil {
				log.WithError(err).Warn("failed dialing bootstrap peers")
			}
		}
	}

	ctxProd, cancelProd := context.WithCancel(context.Background())
	defer cancelProd()
	if cfg.Witness.Enabled {
		var witnessID protocol.ObjectID
		if err := witnessID.UnmarshalText([]byte(cfg.Witness.ID)); err != nil {
			return err
		}
		priv, err := hex.DecodeString(cfg.Witness.SigningKeyHex)
		if err != nil {
			return err
		}
		pool, _ := adapter.(p2p.TransactionSource)
		go produceBlocks(ctxProd, pipeline, pool, node, witnessID, priv, cfg.BlockInterval())
	}

	var peers metrics.PeerCounter
	if node != nil {
		peers = node
	}
	collector := metrics.New(peers)
	pipeline.Subscribe(collector.OnAppliedBlock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go collector.Run(ctx, 15*time.Second)

	metricsSrv := collector.StartServer(":9090")

	var rpcSrv *rpcapi.Server
	if cfg.Network.RPCEnabled && cfg.RPC.ListenAddr != "" {
		rpcSrv = rpcapi.New(cfg.RPC.ListenAddr, pipeline)
		go func() {
			if err := rpcSrv.Start(); err != nil {
				log.WithError(err).Warn("rpc server stopped")
			}
		}()
	}

	headNum, _ := archive.Head()
	log.WithField("head_block_num", headNum).Info("dexchaind node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	if rpcSrv != nil {
		_ = rpcSrv.Shutdown()
	}
	_ = metricsSrv.Close()
	return nil
}

// produceBlocks drives witness block production: once per block interval it
// asks the pipeline to generate a block at the slot-aligned timestamp,
// drawing candidate transactions from the gossip pending pool. A slot this
// witness is not scheduled for is skipped quietly — most ticks on a
// multi-witness chain belong to someone else.
func produceBlocks(ctx context.Context, pipeline *chainpkg.Pipeline, pool p2p.TransactionSource, node *p2p.Node, witnessID protocol.ObjectID, priv []byte, interval time.Duration) {
	log := logging.Component("producer")
	intervalSec := int64(interval / time.Second)
	if intervalSec < 1 {
		intervalSec = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			when := now.Unix() - now.Unix()%intervalSec
			var candidates []protocol.Transaction
			if pool != nil {
				candidates = pool.PendingTransactions()
			}
			_, b, _, err := pipeline.GenerateBlock(when, witnessID, priv, candidates)
			if err != nil {
				log.WithError(err).Debug("skipping slot")
				continue
			}
			if node != nil {
				if err := node.BroadcastBlock(b); err != nil {
					log.WithError(err).Warn("failed broadcasting produced block")
				}
			}
		}
	}
}
