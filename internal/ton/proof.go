package ton

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// TON Connect ton_proof verification.
// https://docs.ton.org/develop/dapps/ton-connect/sign#checking-ton_proof-on-server-side

const (
	tonProofPrefix   = "ton-proof-item-v2/"
	tonConnectPrefix = "ton-connect"

	// MaxProofAge bounds replay of a captured proof.
	MaxProofAge = 5 * time.Minute
)

// ProofData is the wallet's ton_proof response as sent by the client.
type ProofData struct {
	// Address in raw form: "<workchain>:<hex hash>"
	Address   string `json:"address"`
	Network   string `json:"network"` // "-239" mainnet, "-3" testnet
	PublicKey string `json:"public_key"`
	Proof     Proof  `json:"proof"`
	StateInit string `json:"state_init,omitempty"`
}

type Proof struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Payload   string      `json:"payload"`
	Signature string      `json:"signature"` // base64
}

type ProofDomain struct {
	LengthBytes int    `json:"lengthBytes"`
	Value       string `json:"value"`
}

// VerifyProof checks the ed25519 signature over the ton_proof message:
//
//	message  = "ton-proof-item-v2/" ++ workchain(4 LE) ++ addr_hash(32)
//	           ++ domain_len(4 LE) ++ domain ++ timestamp(8 LE) ++ payload
//	to sign  = sha256(0xffff ++ "ton-connect" ++ sha256(message))
//
// The signature is passed already decoded.
func VerifyProof(pubKeyHex string, addrHash []byte, workchain int32, proof Proof, sig []byte, allowedDomains []string) error {
	proofTime := time.Unix(proof.Timestamp, 0)
	if time.Since(proofTime) > MaxProofAge {
		return fmt.Errorf("proof expired: %s old", time.Since(proofTime).Round(time.Second))
	}
	if proofTime.After(time.Now().Add(1 * time.Minute)) {
		return fmt.Errorf("proof timestamp is in the future")
	}

	if !domainAllowed(proof.Domain.Value, allowedDomains) {
		return fmt.Errorf("domain %q not in allowed list", proof.Domain.Value)
	}

	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: %d", len(pubKey))
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature size: %d", len(sig))
	}

	digest := proofDigest(addrHash, workchain, proof)
	if !ed25519.Verify(pubKey, digest, sig) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// proofDigest builds the final hash the wallet signs.
func proofDigest(addrHash []byte, workchain int32, proof Proof) []byte {
	message := make([]byte, 0, len(tonProofPrefix)+4+len(addrHash)+4+len(proof.Domain.Value)+8+len(proof.Payload))
	message = append(message, tonProofPrefix...)
	message = binary.LittleEndian.AppendUint32(message, uint32(workchain))
	message = append(message, addrHash...)
	message = binary.LittleEndian.AppendUint32(message, uint32(proof.Domain.LengthBytes))
	message = append(message, proof.Domain.Value...)
	message = binary.LittleEndian.AppendUint64(message, uint64(proof.Timestamp))
	message = append(message, proof.Payload...)

	msgHash := sha256.Sum256(message)

	toSign := make([]byte, 0, 2+len(tonConnectPrefix)+len(msgHash))
	toSign = append(toSign, 0xff, 0xff)
	toSign = append(toSign, tonConnectPrefix...)
	toSign = append(toSign, msgHash[:]...)

	final := sha256.Sum256(toSign)
	return final[:]
}

// ParseRawAddress splits "<workchain>:<hex hash>" into its parts.
func ParseRawAddress(raw string) (workchain int32, addrHash []byte, err error) {
	var wc int
	var hashHex string
	n, _ := fmt.Sscanf(raw, "%d:%s", &wc, &hashHex)
	if n != 2 {
		return 0, nil, fmt.Errorf("invalid raw address format: %s", raw)
	}
	addrHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid address hash hex: %w", err)
	}
	if len(addrHash) != 32 {
		return 0, nil, fmt.Errorf("address hash must be 32 bytes, got %d", len(addrHash))
	}
	return int32(wc), addrHash, nil
}

func domainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		// Empty list means dev mode: accept any domain.
		return true
	}
	for _, d := range allowed {
		if d == domain {
			return true
		}
	}
	return false
}
