// Command settled runs the settlement engine as an HTTP service backed by
// the in-memory ledger runtime.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	settlement "github.com/routepay/settlement-go"
	httpapi "github.com/routepay/settlement-go/http"
	"github.com/routepay/settlement-go/ledger"
)

type config struct {
	listenAddr     string
	owner          common.Address
	feeReceiver    common.Address
	engineAddr     common.Address
	wnativeAddr    common.Address
	authorizerAddr common.Address
	serviceFeeBps  uint16
	chainID        *big.Int
}

func loadConfig() (config, error) {
	cfg := config{
		listenAddr:     envOr("SETTLED_LISTEN_ADDR", ":8402"),
		engineAddr:     common.HexToAddress(envOr("SETTLED_ENGINE_ADDRESS", "0x0000000000000000000000000000000000000402")),
		wnativeAddr:    common.HexToAddress(envOr("SETTLED_WNATIVE_ADDRESS", "0x0000000000000000000000000000000000000777")),
		authorizerAddr: common.HexToAddress(envOr("SETTLED_AUTHORIZER_ADDRESS", "0x0000000000000000000000000000000000000778")),
		chainID:        big.NewInt(1),
	}

	owner := os.Getenv("SETTLED_OWNER")
	if owner == "" {
		return cfg, errors.New("SETTLED_OWNER environment variable is not set")
	}
	cfg.owner = common.HexToAddress(owner)

	feeReceiver := os.Getenv("SETTLED_FEE_RECEIVER")
	if feeReceiver == "" {
		return cfg, errors.New("SETTLED_FEE_RECEIVER environment variable is not set")
	}
	cfg.feeReceiver = common.HexToAddress(feeReceiver)

	if raw := os.Getenv("SETTLED_SERVICE_FEE_BPS"); raw != "" {
		rate, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return cfg, fmt.Errorf("invalid SETTLED_SERVICE_FEE_BPS: %w", err)
		}
		cfg.serviceFeeBps = uint16(rate)
	}
	if raw := os.Getenv("SETTLED_CHAIN_ID"); raw != "" {
		chainID, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return cfg, fmt.Errorf("invalid SETTLED_CHAIN_ID: %s", raw)
		}
		cfg.chainID = chainID
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("loading configuration", zap.Error(err))
	}

	l := ledger.New()
	wnative := ledger.NewWrappedNative(l, cfg.wnativeAddr)
	authorizer := ledger.NewSignatureTransfer(l, cfg.authorizerAddr, cfg.chainID)

	engine, err := settlement.NewEngine(settlement.Config{
		Runtime:       l,
		Tokens:        l,
		WrappedNative: wnative,
		Authorizer:    authorizer,
		Address:       cfg.engineAddr,
		Owner:         cfg.owner,
		FeeReceiver:   cfg.feeReceiver,
		ServiceFeeBps: cfg.serviceFeeBps,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("constructing engine", zap.Error(err))
	}

	server := httpapi.NewServer(engine, httpapi.WithLogger(logger))
	srv := &http.Server{
		Addr:    cfg.listenAddr,
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("settlement service listening",
			zap.String("addr", cfg.listenAddr),
			zap.String("owner", cfg.owner.Hex()),
			zap.Uint16("serviceFeeBps", cfg.serviceFeeBps))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
