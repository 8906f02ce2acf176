// Command spvnode runs a header-only chain engine over a leveldb block
// store. Blocks arrive from an import file (one hex-encoded block per line);
// the peer-to-peer layer that would normally feed the engine is an external
// collaborator.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/goodnatureofminers/spvchain7000/internal/chain"
	"github.com/goodnatureofminers/spvchain7000/internal/metrics"
	"github.com/goodnatureofminers/spvchain7000/internal/store"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var config struct {
	DataDir     string `long:"data-dir" env:"SPVNODE_DATA_DIR" description:"data directory" default:"./data"`
	Network     string `long:"network" env:"SPVNODE_NETWORK" description:"network (mainnet, testnet3, regtest)" default:"mainnet"`
	BlocksFile  string `long:"blocks-file" env:"SPVNODE_BLOCKS_FILE" description:"file with one hex-encoded block per line"`
	MetricsAddr string `long:"metrics-addr" env:"SPVNODE_METRICS_ADDR" description:"prometheus listen address" default:":9100"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()
	if _, err := flags.ParseArgs(&config, os.Args); err != nil {
		logger.Fatal("Failed to parse arguments", zap.Error(err))
	}

	params, err := networkParams(config.Network)
	if err != nil {
		logger.Fatal("Unknown network", zap.String("network", config.Network), zap.Error(err))
	}

	blockStore, err := store.NewLevelDBStore(filepath.Join(config.DataDir, "chaindata"), params.GenesisBlock)
	if err != nil {
		logger.Fatal("Failed to open block store", zap.Error(err))
	}
	defer func() {
		if err := blockStore.Close(); err != nil {
			logger.Error("Failed to close block store", zap.Error(err))
		}
	}()

	engine, err := chain.New(ctx, chain.Config{
		Params:  params,
		Store:   blockStore,
		Logger:  logger.Named("chain"),
		Metrics: metrics.NewChainEngine(config.Network),
	})
	if err != nil {
		logger.Fatal("Failed to build chain engine", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: config.MetricsAddr, Handler: mux}
	go func() {
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Fatal("Start metrics server", zap.Error(serveErr))
		}
	}()
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if config.BlocksFile != "" {
		if err := importBlocks(ctx, engine, config.BlocksFile, logger); err != nil {
			logger.Fatal("Block import failed", zap.Error(err))
		}
	}

	head := engine.ChainHead()
	logger.Info("chain synced",
		zap.Int32("height", head.Height),
		zap.Stringer("hash", head.Hash()))

	<-ctx.Done()
}

func networkParams(name string) (*chain.Params, error) {
	switch name {
	case "mainnet":
		return chain.MainNetParams, nil
	case "testnet3":
		return chain.TestNet3Params, nil
	case "regtest":
		return chain.RegressionNetParams, nil
	default:
		return nil, errors.New("supported networks: mainnet, testnet3, regtest")
	}
}

func importBlocks(ctx context.Context, engine *chain.Engine, path string, logger *zap.Logger) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return ctx.Err()
		}
		text := scanner.Text()
		if text == "" {
			continue
		}
		raw, err := hex.DecodeString(text)
		if err != nil {
			logger.Warn("skip undecodable block", zap.Int("line", line), zap.Error(err))
			continue
		}
		block, err := btcutil.NewBlockFromBytes(raw)
		if err != nil {
			logger.Warn("skip unparseable block", zap.Int("line", line), zap.Error(err))
			continue
		}
		connected, err := engine.AddBlock(ctx, block)
		if err != nil {
			if chain.IsVerification(err) {
				logger.Warn("rejected block", zap.Int("line", line), zap.Error(err))
				continue
			}
			return err
		}
		if !connected {
			logger.Debug("block set aside as orphan", zap.Stringer("hash", block.Hash()))
		}
	}
	return scanner.Err()
}
