package gate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// paymentProof is the decoded X-PAYMENT header. Only its structure is
// checked here; whether the signature actually authorizes the transfer is
// the facilitator's verdict alone.
type paymentProof struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     proofPayload `json:"payload"`
}

type proofPayload struct {
	Signature     string             `json:"signature"`
	Authorization proofAuthorization `json:"authorization"`
}

type proofAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// parseProof decodes and structurally validates an X-PAYMENT header
// against the scheme and network this gateway accepts. A proof that fails
// here never reaches the facilitator.
func parseProof(header, network string) (*paymentProof, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("X-PAYMENT is not valid base64")
	}

	var proof paymentProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return nil, fmt.Errorf("X-PAYMENT is not valid JSON")
	}

	if proof.X402Version != x402Version {
		return nil, fmt.Errorf("unsupported x402 version %d", proof.X402Version)
	}
	if proof.Scheme != schemeExact {
		return nil, fmt.Errorf("unsupported scheme %q", proof.Scheme)
	}
	if proof.Network != network {
		return nil, fmt.Errorf("wrong network %q, expected %q", proof.Network, network)
	}
	if proof.Payload.Signature == "" {
		return nil, fmt.Errorf("proof is missing signature")
	}
	if proof.Payload.Authorization.From == "" || proof.Payload.Authorization.To == "" {
		return nil, fmt.Errorf("proof is missing authorization addresses")
	}
	if proof.Payload.Authorization.Value == "" {
		return nil, fmt.Errorf("proof is missing authorization value")
	}

	return &proof, nil
}
