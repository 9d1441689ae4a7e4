package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/uhyunpark/irswap/params"
	"github.com/uhyunpark/irswap/pkg/api"
	"github.com/uhyunpark/irswap/pkg/crypto"
	"github.com/uhyunpark/irswap/pkg/engine"
	fp "github.com/uhyunpark/irswap/pkg/fixedpoint"
	"github.com/uhyunpark/irswap/pkg/order"
)

func main() {
	var (
		envPath    = flag.String("env", "", "path to .env (default: ./.env)")
		makerKey   = flag.String("maker-key", os.Getenv("MAKER_KEY"), "maker private key hex (default: generate)")
		takerKey   = flag.String("taker-key", os.Getenv("TAKER_KEY"), "taker private key hex (default: generate)")
		fixed      = flag.Int64("fixed", 5, "fixed tokens, whole units")
		variable   = flag.Int64("variable", 100, "variable tokens, whole units")
		fixedTaker = flag.Bool("fixed-taker", true, "taker receives the fixed leg")
		days       = flag.Int("days", 365, "swap term in days, starting now")
		salt       = flag.Int64("salt", time.Now().UnixNano(), "order salt")
	)
	flag.Parse()
	cfg := params.LoadFromEnv(*envPath)

	// Step 1: Generate or load keys
	maker := mustSigner(*makerKey, "maker")
	taker := mustSigner(*takerKey, "taker")

	// Step 2: Create order
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.Dev.TokenDecimals)), nil)
	begin := time.Now().Unix()
	o := &order.Order{
		Salt:            big.NewInt(*salt),
		Asset:           cfg.Dev.TokenAddress,
		UnderlyingAsset: cfg.Dev.UnderlyingAddress,
		Maker:           maker.Address(),
		FixedTokens:     new(big.Int).Mul(big.NewInt(*fixed), unit),
		VariableTokens:  new(big.Int).Mul(big.NewInt(*variable), unit),
		IsFixedTaker:    *fixedTaker,
		BeginTimestamp:  big.NewInt(begin),
		EndTimestamp:    big.NewInt(begin + int64(*days)*24*60*60),
		T:               fp.One(),
	}
	makerRef, takerRef := o.ReferenceAmounts()
	var err error
	if o.GetMakerAmount, err = engine.MakerAmountTemplate(makerRef, takerRef); err != nil {
		fail("template", err)
	}
	if o.GetTakerAmount, err = engine.TakerAmountTemplate(makerRef, takerRef); err != nil {
		fail("template", err)
	}

	// Step 3: Sign order with EIP-712
	hasher, err := order.NewHasher(cfg.Chain.ChainID, cfg.Chain.EngineAddress)
	if err != nil {
		fail("domain", err)
	}
	hash, err := hasher.Hash(o)
	if err != nil {
		fail("hash", err)
	}
	signature, err := hasher.Sign(maker, o)
	if err != nil {
		fail("sign", err)
	}
	typed, err := hasher.ToJSON(o)
	if err != nil {
		fail("typed data", err)
	}

	// Step 4: Verify signature
	recovered, err := hasher.Signer(o, signature)
	if err != nil || recovered != maker.Address() {
		fmt.Fprintln(os.Stderr, "✗ Signature INVALID")
		os.Exit(1)
	}

	// Step 5: Authorize a full fill as the taker
	senderSig, err := taker.SignMessage(api.ActionMessage("fill", hash.Bytes(), makerRef))
	if err != nil {
		fail("sender signature", err)
	}
	body, err := json.MarshalIndent(api.FillRequest{
		Order:           o,
		Signature:       signature,
		MakerAmount:     makerRef,
		TakerAmount:     new(big.Int),
		Sender:          taker.Address(),
		SenderSignature: senderSig,
	}, "", "  ")
	if err != nil {
		fail("marshal", err)
	}

	fmt.Printf("Order Hash: %s\n", hash.Hex())
	fmt.Printf("Domain Separator: %s\n\n", hasher.DomainSeparator().Hex())
	fmt.Println("Typed Data (eth_signTypedData_v4):")
	fmt.Println(typed)
	fmt.Println()
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())
	fmt.Println("To fill this order in full:")
	fmt.Printf("  POST http://localhost%s/api/v1/orders/fill\n", cfg.Node.APIAddr)
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}

func mustSigner(hexKey, role string) *crypto.Signer {
	if hexKey != "" {
		s, err := crypto.FromPrivateKeyHex(hexKey)
		if err != nil {
			fail(role+" key", err)
		}
		return s
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		fail(role+" key", err)
	}
	fmt.Printf("Generated %s: %s\n", role, s.Address().Hex())
	fmt.Printf("  Private Key: %s (KEEP SECRET!)\n", s.PrivateKeyHex())
	return s
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
