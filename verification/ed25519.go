package verification

import (
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/x402kit/facilitator/types"
)

// transferIntentMessage renders the canonical bytes a Solana payer signs:
// field-ordered, pipe-delimited, no whitespace. Signer and verifier must
// produce identical bytes, so the format never changes shape based on
// optional fields.
func transferIntentMessage(p *types.ExactSolanaPayload) []byte {
	return []byte(fmt.Sprintf("from:%s|to:%s|amount:%s|nonce:%s|deadline:%s",
		p.From, p.To, p.Amount, p.Nonce, p.Deadline))
}

// verifyTransferIntent checks the payload's detached Ed25519 signature
// against the payer's own public key.
func verifyTransferIntent(p *types.ExactSolanaPayload) (bool, error) {
	pub, err := solana.PublicKeyFromBase58(p.From)
	if err != nil {
		return false, fmt.Errorf("decode payer key: %w", err)
	}

	sig, err := solana.SignatureFromBase58(p.Signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	return ed25519.Verify(ed25519.PublicKey(pub[:]), transferIntentMessage(p), sig[:]), nil
}
