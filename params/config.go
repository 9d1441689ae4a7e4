package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	fp "github.com/uhyunpark/irswap/pkg/fixedpoint"
)

type Chain struct {
	ChainID *big.Int
	// EngineAddress is the verifying contract of the order domain.
	EngineAddress common.Address
	// OwnerAddress may set asset parameters and mint dev tokens.
	OwnerAddress common.Address
}

type Margin struct {
	// Stress widths in standard deviations, as decimal strings ("2.5").
	LowerMul string
	UpperMul string
	// APYLookback is the rate window for swaps that have not begun.
	APYLookback time.Duration
	// EWMAWindow smooths the variable rate. Zero disables smoothing.
	EWMAWindow time.Duration
}

type Node struct {
	DBPath         string // empty = in-memory state
	EventLog       string // empty = no event log
	APIAddr        string
	LogFile        string
	LogLevel       string
	AllowedOrigins []string
}

// Dev seeds a single-asset devnet: a margin token, its rate history, one
// price feed and funded accounts.
type Dev struct {
	TokenAddress      common.Address
	TokenSymbol       string
	TokenDecimals     uint8
	UnderlyingAddress common.Address
	Rate              string // annual rate recorded for the pair, e.g. "0.05"
	Alpha             string
	Sigma             string
	Fund              []common.Address
	FundAmount        int64 // whole tokens per funded account
	FeedAddress       common.Address
	FeedAnswer        int64
	FeedDecimals      uint8
}

type Config struct {
	Chain  Chain
	Margin Margin
	Node   Node
	Dev    Dev
}

func Default() Config {
	return Config{
		Chain: Chain{
			ChainID:       big.NewInt(31337),
			EngineAddress: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
			OwnerAddress:  common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		},
		Margin: Margin{
			LowerMul:    "2",
			UpperMul:    "2",
			APYLookback: 30 * 24 * time.Hour,
		},
		Node: Node{
			EventLog:       "data/events.log",
			APIAddr:        ":8080",
			LogFile:        "data/node.log",
			LogLevel:       "info",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Dev: Dev{
			TokenAddress:      common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
			TokenSymbol:       "DAI",
			TokenDecimals:     18,
			UnderlyingAddress: common.HexToAddress("0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643"),
			Rate:              "0.05",
			Alpha:             "0.05",
			Sigma:             "0.01",
			FundAmount:        1_000_000,
			FeedAddress:       common.HexToAddress("0xAed0c38402a5d19df6E4c03F4E2DceD6e29c1ee9"),
			FeedAnswer:        100_000_000,
			FeedDecimals:      8,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Chain
	if id, ok := new(big.Int).SetString(os.Getenv("CHAIN_ID"), 10); ok {
		cfg.Chain.ChainID = id
	}
	cfg.Chain.EngineAddress = getAddress("ENGINE_ADDRESS", cfg.Chain.EngineAddress)
	cfg.Chain.OwnerAddress = getAddress("OWNER_ADDRESS", cfg.Chain.OwnerAddress)

	// Margin model
	cfg.Margin.LowerMul = getEnv("MARGIN_LOWER_MUL", cfg.Margin.LowerMul)
	cfg.Margin.UpperMul = getEnv("MARGIN_UPPER_MUL", cfg.Margin.UpperMul)
	cfg.Margin.APYLookback = getDuration("APY_LOOKBACK", cfg.Margin.APYLookback)
	cfg.Margin.EWMAWindow = getDuration("EWMA_WINDOW", cfg.Margin.EWMAWindow)

	// Node
	cfg.Node.DBPath = getEnv("DB_PATH", cfg.Node.DBPath)
	cfg.Node.EventLog = getEnv("EVENT_LOG", cfg.Node.EventLog)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.Node.AllowedOrigins = splitList(origins)
	}

	// Devnet seeds
	cfg.Dev.TokenAddress = getAddress("DEV_TOKEN_ADDRESS", cfg.Dev.TokenAddress)
	cfg.Dev.TokenSymbol = getEnv("DEV_TOKEN_SYMBOL", cfg.Dev.TokenSymbol)
	if d := os.Getenv("DEV_TOKEN_DECIMALS"); d != "" {
		if n, err := strconv.ParseUint(d, 10, 8); err == nil {
			cfg.Dev.TokenDecimals = uint8(n)
		}
	}
	cfg.Dev.UnderlyingAddress = getAddress("DEV_TOKEN_UNDERLYING", cfg.Dev.UnderlyingAddress)
	cfg.Dev.Rate = getEnv("DEV_TOKEN_RATE", cfg.Dev.Rate)
	cfg.Dev.Alpha = getEnv("DEV_TOKEN_ALPHA", cfg.Dev.Alpha)
	cfg.Dev.Sigma = getEnv("DEV_TOKEN_SIGMA", cfg.Dev.Sigma)
	if fund := os.Getenv("DEV_TOKEN_FUND"); fund != "" {
		cfg.Dev.Fund = nil
		for _, a := range splitList(fund) {
			if common.IsHexAddress(a) {
				cfg.Dev.Fund = append(cfg.Dev.Fund, common.HexToAddress(a))
			}
		}
	}
	cfg.Dev.FundAmount = getInt("DEV_TOKEN_FUND_AMOUNT", cfg.Dev.FundAmount)
	cfg.Dev.FeedAddress = getAddress("DEV_FEED_ADDRESS", cfg.Dev.FeedAddress)
	cfg.Dev.FeedAnswer = getInt("DEV_FEED_ANSWER", cfg.Dev.FeedAnswer)

	return cfg
}

// Multipliers parses the stress widths into 64.64.
func (m Margin) Multipliers() (lower, upper *big.Int, err error) {
	if lower, err = fp.Parse(m.LowerMul); err != nil {
		return nil, nil, fmt.Errorf("MARGIN_LOWER_MUL: %w", err)
	}
	if upper, err = fp.Parse(m.UpperMul); err != nil {
		return nil, nil, fmt.Errorf("MARGIN_UPPER_MUL: %w", err)
	}
	return lower, upper, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getAddress(key string, defaultValue common.Address) common.Address {
	if value := os.Getenv(key); common.IsHexAddress(value) {
		return common.HexToAddress(value)
	}
	return defaultValue
}

// getDuration accepts Go durations ("720h") or plain seconds.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if s, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(s) * time.Second
	}
	return defaultValue
}

func getInt(key string, defaultValue int64) int64 {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return n
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
