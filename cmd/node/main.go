package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/params"
	"github.com/uhyunpark/irswap/pkg/api"
	"github.com/uhyunpark/irswap/pkg/engine"
	fp "github.com/uhyunpark/irswap/pkg/fixedpoint"
	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/metrics"
	"github.com/uhyunpark/irswap/pkg/oracle"
	"github.com/uhyunpark/irswap/pkg/pricefeed"
	"github.com/uhyunpark/irswap/pkg/storage"
	"github.com/uhyunpark/irswap/pkg/token"
	"github.com/uhyunpark/irswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogLevel, cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	// ---- State ----
	kv, err := openKV(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("state_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer kv.Close()

	hostOpts := []host.Option{host.WithLogger(logger.Named("host"))}
	if cfg.Node.EventLog != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Node.EventLog), 0o755); err != nil {
			sugar.Fatalw("event_log_failed", "err", err)
		}
		wal, err := storage.NewFileWAL(cfg.Node.EventLog)
		if err != nil {
			sugar.Fatalw("event_log_failed", "err", err)
		}
		defer wal.Close()
		hostOpts = append(hostOpts, host.WithEventLog(wal))
	}
	h := host.New(kv, hostOpts...)

	// ---- Engine ----
	lower, upper, err := cfg.Margin.Multipliers()
	if err != nil {
		sugar.Fatalw("config_invalid", "err", err)
	}
	history := oracle.NewHistory()
	m := metrics.New()
	eng, err := engine.New(h, oracle.NewAccessor(history, cfg.Margin.EWMAWindow), engine.Config{
		ChainID:     cfg.Chain.ChainID,
		Address:     cfg.Chain.EngineAddress,
		Owner:       cfg.Chain.OwnerAddress,
		LowerMul:    lower,
		UpperMul:    upper,
		APYLookback: cfg.Margin.APYLookback,
	}, engine.WithLogger(logger.Named("engine")), engine.WithMetrics(m))
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedDevnet(ctx, h, eng, history, cfg); err != nil {
		sugar.Fatalw("devnet_seed_failed", "err", err)
	}

	sugar.Infow("node_starting",
		"chain_id", cfg.Chain.ChainID,
		"engine", cfg.Chain.EngineAddress.Hex(),
		"owner", cfg.Chain.OwnerAddress.Hex(),
		"domain_separator", eng.DomainSeparator().Hex(),
		"lower_mul", cfg.Margin.LowerMul,
		"upper_mul", cfg.Margin.UpperMul,
		"apy_lookback", cfg.Margin.APYLookback,
		"ewma_window", cfg.Margin.EWMAWindow)

	// ---- API Server ----
	apiServer := api.NewServer(eng,
		api.WithLogger(logger.Named("api")),
		api.WithMetrics(m.Registry),
		api.WithAllowedOrigins(cfg.Node.AllowedOrigins),
	)
	// Hook API server to the host: stream committed events
	h.Subscribe(apiServer.OnEvent)

	if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func openKV(path string) (storage.KV, error) {
	if path == "" {
		return storage.NewMemKV(), nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return storage.NewPebbleKV(path)
}

// seedDevnet deploys the margin token and price feed, records the rate
// history the margin model reads and funds the configured accounts. Funding
// only happens on an empty ledger so restarts over pebble do not re-mint.
func seedDevnet(ctx context.Context, h *host.Host, eng *engine.Engine, history *oracle.History, cfg params.Config) error {
	dev := cfg.Dev
	owner := cfg.Chain.OwnerAddress

	tok, err := token.New(token.Config{
		Name:     dev.TokenSymbol,
		Symbol:   dev.TokenSymbol,
		Decimals: dev.TokenDecimals,
		Owner:    owner,
		ChainID:  cfg.Chain.ChainID,
		Address:  dev.TokenAddress,
	})
	if err != nil {
		return err
	}
	h.Deploy(dev.TokenAddress, tok)

	rate, err := fp.Parse(dev.Rate)
	if err != nil {
		return fmt.Errorf("DEV_TOKEN_RATE: %w", err)
	}
	// One observation a year back covers any swap that began since.
	since := uint64(time.Now().Add(-365 * 24 * time.Hour).Unix())
	if _, err := history.Record(oracle.Pair{Asset: dev.TokenAddress, UnderlyingAsset: dev.UnderlyingAddress}, since, rate); err != nil {
		return err
	}

	for param, raw := range map[engine.Param]string{engine.ParamAlpha: dev.Alpha, engine.ParamSigma: dev.Sigma} {
		v, err := fp.Parse(raw)
		if err != nil {
			return fmt.Errorf("asset %s: %w", param, err)
		}
		if err := eng.SetAssetParam(ctx, owner, dev.TokenAddress, param, v); err != nil {
			return err
		}
	}

	feed := pricefeed.NewAggregator(dev.FeedDecimals, owner)
	h.Deploy(dev.FeedAddress, feed)
	input, err := feed.Pack("setAnswer", big.NewInt(dev.FeedAnswer))
	if err != nil {
		return err
	}
	if _, err := h.Call(ctx, owner, dev.FeedAddress, input); err != nil {
		return fmt.Errorf("price feed: %w", err)
	}

	supply, err := tokenView(ctx, h, dev.TokenAddress, "totalSupply")
	if err != nil || supply.Sign() > 0 {
		return err
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dev.TokenDecimals)), nil)
	amount := new(big.Int).Mul(big.NewInt(dev.FundAmount), unit)
	for _, who := range dev.Fund {
		input, err := token.Pack("mint", who, amount)
		if err != nil {
			return err
		}
		if _, err := h.Call(ctx, owner, dev.TokenAddress, input); err != nil {
			return fmt.Errorf("fund %s: %w", who.Hex(), err)
		}
	}
	return nil
}

func tokenView(ctx context.Context, h *host.Host, tokenAddr common.Address, method string, args ...any) (*big.Int, error) {
	input, err := token.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := h.StaticCall(ctx, tokenAddr, tokenAddr, input)
	if err != nil {
		return nil, err
	}
	vals, err := token.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}
