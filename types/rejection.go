package types

import "fmt"

// Rejection codes, used as log fields and metrics labels. The Message on the
// corresponding Rejection is what callers see as invalidReason/errorReason.
const (
	CodeUnsupportedScheme    = "unsupported_scheme"
	CodeUnknownNetwork       = "unknown_network"
	CodeMissingAuthorization = "missing_authorization"
	CodeInvalidSignature     = "invalid_signature"
	CodeExpired              = "expired"
	CodeInsufficientAmount   = "insufficient_amount"
	CodeRecipientMismatch    = "recipient_mismatch"
	CodeInsufficientBalance  = "insufficient_balance"
	CodeSettlementFailed     = "settlement_failed"
	CodeInternalError        = "internal_error"
)

// Rejection classifies why a payment was refused. It travels inside results,
// never as a panic or an error crossing component boundaries.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string { return r.Message }

// UnsupportedScheme rejects any scheme other than "exact".
func UnsupportedScheme(scheme string) *Rejection {
	return &Rejection{Code: CodeUnsupportedScheme, Message: fmt.Sprintf("Unsupported scheme: %s", scheme)}
}

// UnknownNetwork rejects a network identifier that is malformed or not
// configured. The offending literal is included verbatim.
func UnknownNetwork(network string) *Rejection {
	return &Rejection{Code: CodeUnknownNetwork, Message: fmt.Sprintf("Unknown network: %s", network)}
}

// NetworkMismatch rejects a payload whose network disagrees with the
// requirements' network.
func NetworkMismatch(payloadNetwork, requiredNetwork string) *Rejection {
	return &Rejection{
		Code:    CodeUnknownNetwork,
		Message: fmt.Sprintf("Payment network %s does not match required network %s", payloadNetwork, requiredNetwork),
	}
}

// MissingAuthorization rejects a payload whose authorization object is
// absent or fails to decode.
func MissingAuthorization(err error) *Rejection {
	return &Rejection{
		Code:    CodeMissingAuthorization,
		Message: fmt.Sprintf("Missing or malformed payment authorization: %v", err),
	}
}

// InvalidSignature rejects a payment whose signature does not verify. The
// cause (recovery mismatch vs malformed signature bytes) is log detail only.
func InvalidSignature() *Rejection {
	return &Rejection{Code: CodeInvalidSignature, Message: "Invalid payment signature"}
}

// Expired rejects an authorization whose validity window has passed.
func Expired(validBefore string) *Rejection {
	return &Rejection{Code: CodeExpired, Message: fmt.Sprintf("Payment authorization expired (validBefore %s)", validBefore)}
}

// NotYetValid rejects an authorization whose validity window has not opened.
func NotYetValid(validAfter string) *Rejection {
	return &Rejection{Code: CodeExpired, Message: fmt.Sprintf("Payment authorization not valid until %s", validAfter)}
}

// InsufficientAmount rejects an authorization for less than the required
// amount.
func InsufficientAmount(authorized, required string) *Rejection {
	return &Rejection{
		Code:    CodeInsufficientAmount,
		Message: fmt.Sprintf("Insufficient amount: authorized %s, required %s", authorized, required),
	}
}

// RecipientMismatch rejects a payment addressed to someone other than the
// required payTo recipient.
func RecipientMismatch(got, want string) *Rejection {
	return &Rejection{
		Code:    CodeRecipientMismatch,
		Message: fmt.Sprintf("Recipient mismatch: payment pays %s, requirements demand %s", got, want),
	}
}

// InsufficientBalance rejects a payer whose on-chain balance cannot cover
// the authorized value.
func InsufficientBalance(balance, required string) *Rejection {
	return &Rejection{
		Code:    CodeInsufficientBalance,
		Message: fmt.Sprintf("Insufficient balance: payer holds %s, authorization moves %s", balance, required),
	}
}

// SettlementFailed reports an on-chain settlement step that did not land.
func SettlementFailed(detail string) *Rejection {
	return &Rejection{Code: CodeSettlementFailed, Message: detail}
}

// InternalError reports an infrastructure failure (RPC transport, timeout,
// misconfiguration). It is deliberately distinct from every business
// rejection; remediation differs.
func InternalError(err error) *Rejection {
	return &Rejection{Code: CodeInternalError, Message: fmt.Sprintf("Internal error: %v", err)}
}
