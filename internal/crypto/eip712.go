package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator wallets sign against, preventing a
// signature collected for one pool/chain from replaying against another.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the pool's EIP-712 domain for off-chain order signing.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "ConvexFX",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// OrderEIP712 is the typed data structure a trader's wallet signs to reveal
// an order (spec.md §3 Order, plus the owner/nonce/deadline replay-protection
// fields a commit/reveal order book needs that the clearing engine itself
// doesn't care about). Ratios are expressed in parts-per-million so the
// typed-data message carries only integers, the way EIP-712 prefers.
type OrderEIP712 struct {
	PayAsset          string
	ReceiveAsset      string
	BudgetMinorUnits  *big.Int
	LimitRatioPPM     *big.Int // 0 means "no limit"
	MinFillPPM        *big.Int // 0 means "no minimum"
	Nonce             *big.Int
	Deadline          *big.Int // unix seconds, 0 = no expiry
	Owner             common.Address
}

// EIP712Signer hashes and verifies OrderEIP712 messages against one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer returns a signer bound to domain.
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

var orderEIP712Types = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "payAsset", Type: "string"},
		{Name: "receiveAsset", Type: "string"},
		{Name: "budgetMinorUnits", Type: "uint256"},
		{Name: "limitRatioPpm", Type: "uint256"},
		{Name: "minFillPpm", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

// HashOrder computes the EIP-712 digest a wallet must sign to reveal order.
func (e *EIP712Signer) HashOrder(order *OrderEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       orderEIP712Types,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"payAsset":         order.PayAsset,
			"receiveAsset":     order.ReceiveAsset,
			"budgetMinorUnits": order.BudgetMinorUnits.String(),
			"limitRatioPpm":    order.LimitRatioPPM.String(),
			"minFillPpm":       order.MinFillPPM.String(),
			"nonce":            order.Nonce.String(),
			"deadline":         order.Deadline.String(),
			"owner":            order.Owner.Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("crypto: hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("crypto: hash order message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignOrder signs order's EIP-712 digest with signer.
func (e *EIP712Signer) SignOrder(signer *Signer, order *OrderEIP712) ([]byte, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// VerifyOrderSignature reports whether signature was produced by order.Owner
// over order's EIP-712 digest.
func (e *EIP712Signer) VerifyOrderSignature(order *OrderEIP712, signature []byte) (bool, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("crypto: recover order signer: %w", err)
	}
	return recovered == order.Owner, nil
}

// RevealHash is the commit-phase binding: keccak256(orderDigest || salt).
// The order book stores this at commit time and checks it against the
// revealed order before admitting it, so a trader cannot change their order
// after seeing others' commitments within the same epoch.
func RevealHash(order *OrderEIP712, signer *EIP712Signer, salt [32]byte) ([]byte, error) {
	digest, err := signer.HashOrder(order)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(digest)+len(salt))
	buf = append(buf, digest...)
	buf = append(buf, salt[:]...)
	return crypto.Keccak256Hash(buf).Bytes(), nil
}
