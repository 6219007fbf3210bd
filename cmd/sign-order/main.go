// Command sign-order is a client-side demo tool: it generates a keypair,
// builds a sample ConvexFX order, signs it with EIP-712, computes its
// commit-phase reveal hash, and prints everything a trader's wallet would
// need to call the commit/reveal API.
package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/google/uuid"

	"github.com/convexfx/convexfx/internal/crypto"
)

func main() {
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("error generating key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	orderID := uuid.NewString()
	fmt.Printf("Order ID: %s\n\n", orderID)

	order := &crypto.OrderEIP712{
		PayAsset:         "USD",
		ReceiveAsset:     "EUR",
		BudgetMinorUnits: big.NewInt(1000_000000000), // 1000.000000000 USD
		LimitRatioPPM:    big.NewInt(0),
		MinFillPPM:       big.NewInt(0),
		Nonce:            big.NewInt(1),
		Deadline:         big.NewInt(0),
		Owner:            signer.Address(),
	}

	fmt.Println("Order:")
	fmt.Printf("  Pay: %s -> Receive: %s\n", order.PayAsset, order.ReceiveAsset)
	fmt.Printf("  Budget (minor units): %s\n", order.BudgetMinorUnits.String())
	fmt.Printf("  Owner: %s\n\n", order.Owner.Hex())

	eip := crypto.NewEIP712Signer(crypto.DefaultDomain())
	signature, err := eip.SignOrder(signer, order)
	if err != nil {
		fmt.Printf("error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		fmt.Printf("error generating salt: %v\n", err)
		os.Exit(1)
	}
	commitHash, err := crypto.RevealHash(order, eip, salt)
	if err != nil {
		fmt.Printf("error hashing commitment: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Salt: 0x%x\n", salt)
	fmt.Printf("Commit hash: 0x%x\n\n", commitHash)

	valid, err := eip.VerifyOrderSignature(order, signature)
	if err != nil {
		fmt.Printf("error verifying: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature valid: %v\n\n", valid)

	revealBody := map[string]any{
		"order_id": orderID,
		"order": map[string]string{
			"pay_asset":          order.PayAsset,
			"receive_asset":      order.ReceiveAsset,
			"budget_minor_units": order.BudgetMinorUnits.String(),
			"limit_ratio_ppm":    order.LimitRatioPPM.String(),
			"min_fill_ppm":       order.MinFillPPM.String(),
			"nonce":              order.Nonce.String(),
			"deadline":           order.Deadline.String(),
			"owner":              order.Owner.Hex(),
		},
		"salt":      fmt.Sprintf("0x%x", salt),
		"signature": fmt.Sprintf("0x%x", signature),
	}
	revealJSON, _ := json.MarshalIndent(revealBody, "", "  ")

	fmt.Println("Step 1 - POST http://localhost:8080/api/v1/orders/commit")
	commitJSON, _ := json.MarshalIndent(map[string]string{
		"order_id": orderID,
		"owner":    order.Owner.Hex(),
		"hash":     fmt.Sprintf("0x%x", commitHash),
	}, "", "  ")
	fmt.Println(string(commitJSON))

	fmt.Println("\nStep 2 - POST http://localhost:8080/api/v1/orders/reveal")
	fmt.Println(string(revealJSON))
}
