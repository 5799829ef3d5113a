// Package validate decides whether a raw chain transaction is a genuine
// native TON transfer or token/contract traffic dressed up as one. It is the
// single authoritative decision point; nothing else in the service inspects
// message bodies or opcodes.
package validate

import (
	"strings"

	"github.com/brojonat/tonwatch/service/ton"
	"github.com/shopspring/decimal"
)

// Reason identifies why a transaction was rejected. Rejection is a normal
// classification outcome, never an error.
type Reason string

const (
	// ReasonKnownTokenOpcode - the message body carries a jetton operation
	// code from the block-list.
	ReasonKnownTokenOpcode Reason = "known_token_opcode"

	// ReasonSuspiciousKeyword - the message comment contains a token-related
	// keyword. This is a heuristic net for opcodes the block-list misses.
	ReasonSuspiciousKeyword Reason = "suspicious_keyword"

	// ReasonNonPositiveValue - the attached value is zero or negative,
	// the signature of notification spam.
	ReasonNonPositiveValue Reason = "non_positive_value"

	// ReasonActionFailed - the chain reports the action phase failed; a
	// failed action is not a received payment.
	ReasonActionFailed Reason = "action_failed"
)

// Jetton operation codes that mark a message as token traffic rather than a
// native transfer. See TEP-74 (jetton standard).
const (
	OpJettonTransfer         = uint32(0x0f8a7ea5)
	OpJettonInternalTransfer = uint32(0x178d4519)
	OpTransferNotification   = uint32(0x7362d09c)
	OpBurnNotification       = uint32(0x595f07bc)
)

// defaultKeywords are scanned case-insensitively in message comments.
var defaultKeywords = []string{"jetton", "token", "mint", "burn"}

// NanotonExponent is the default decimal exponent between the smallest unit
// and TON (1 TON = 1e9 nanotons).
const NanotonExponent = 9

// Result is the outcome of classifying one raw transaction. Exactly one of
// Accepted/Rejected semantics applies: when Accepted is true, Amount holds
// the exact native amount; otherwise Reason says why the transaction was
// rejected.
type Result struct {
	Accepted bool
	Amount   decimal.Decimal
	Reason   Reason

	// FailOpen marks an acceptance that came from the undecodable-body
	// fallback rather than the normal rule path.
	FailOpen bool
}

// Config tunes the classifier for chains whose constants differ from the
// TON defaults. Zero values select the defaults.
type Config struct {
	// BlockedOpcodes replaces the default jetton opcode block-list.
	BlockedOpcodes []uint32

	// Keywords replaces the default comment keyword list.
	Keywords []string

	// UnitExponent is the power of ten between the smallest unit and the
	// native unit. Defaults to NanotonExponent.
	UnitExponent int32
}

// Validator classifies raw transactions. It is pure: no I/O, no mutation,
// identical input always yields an identical Result.
type Validator struct {
	blocked  map[uint32]struct{}
	keywords []string
	exponent int32
}

// New creates a Validator with the TON defaults.
func New() *Validator {
	return NewWithConfig(Config{})
}

// DefaultBlockedOpcodes returns the built-in jetton opcode block-list.
// Callers extending the list should append to this rather than replace it.
func DefaultBlockedOpcodes() []uint32 {
	return []uint32{
		OpJettonTransfer,
		OpJettonInternalTransfer,
		OpTransferNotification,
		OpBurnNotification,
	}
}

// NewWithConfig creates a Validator with explicit constants.
func NewWithConfig(cfg Config) *Validator {
	opcodes := cfg.BlockedOpcodes
	if opcodes == nil {
		opcodes = DefaultBlockedOpcodes()
	}
	blocked := make(map[uint32]struct{}, len(opcodes))
	for _, op := range opcodes {
		blocked[op] = struct{}{}
	}

	keywords := cfg.Keywords
	if keywords == nil {
		keywords = defaultKeywords
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	exponent := cfg.UnitExponent
	if exponent == 0 {
		exponent = NanotonExponent
	}

	return &Validator{
		blocked:  blocked,
		keywords: lowered,
		exponent: exponent,
	}
}

// Classify applies the decision policy in order, first match wins:
//
//  1. opcode block-list
//  2. comment keyword scan
//  3. non-positive value
//  4. failed action phase
//
// A body that is present but cannot be decoded as text skips only the
// keyword scan (fail-open). That is a deliberate, narrowly scoped permissive
// choice: a legitimate transfer with an exotic payload must not be dropped
// for its payload alone, at the cost of letting a small class of malformed
// spoofs past the keyword net. The fallback covers exactly the rule that
// needs the decoded text; the value and action checks still run, and a
// block-listed opcode is checked first from the already-parsed opcode field.
//
// Classify never returns an error. Every input maps to a Result.
func (v *Validator) Classify(tx ton.RawTransaction) Result {
	if tx.Opcode != nil {
		if _, ok := v.blocked[*tx.Opcode]; ok {
			return Result{Reason: ReasonKnownTokenOpcode}
		}
	}

	failOpen := false
	if len(tx.Body) > 0 {
		text, ok := ton.ExtractComment(tx.Body)
		if !ok {
			failOpen = true
		} else if v.containsKeyword(text) {
			return Result{Reason: ReasonSuspiciousKeyword}
		}
	}

	if tx.ValueNanotons <= 0 {
		return Result{Reason: ReasonNonPositiveValue}
	}

	if !tx.ActionSuccess {
		return Result{Reason: ReasonActionFailed}
	}

	return Result{
		Accepted: true,
		Amount:   v.toNative(tx.ValueNanotons),
		FailOpen: failOpen,
	}
}

// toNative converts a smallest-unit amount to the exact native decimal.
func (v *Validator) toNative(smallest int64) decimal.Decimal {
	return decimal.New(smallest, -v.exponent)
}

func (v *Validator) containsKeyword(text string) bool {
	lowered := strings.ToLower(text)
	for _, k := range v.keywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}
