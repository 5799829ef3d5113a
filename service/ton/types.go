package ton

import "github.com/shopspring/decimal"

// RawTransaction is a provider-neutral view of one chain transaction touching
// the monitored account. Providers normalize their wire formats into this
// shape; everything downstream (validation, sync) consumes only this.
type RawTransaction struct {
	// Hash uniquely identifies the transaction on chain. It is the
	// idempotency key for the whole pipeline.
	Hash string

	// LogicalTime is the per-account monotonically increasing sequence
	// number assigned by the chain. It governs presentation order and
	// pagination cursors, never identity.
	LogicalTime int64

	// Timestamp is the wall-clock unix time of the transaction.
	Timestamp int64

	Sender    string
	Recipient string

	// ValueNanotons is the attached native value in nanotons. May be zero
	// for notification-style messages.
	ValueNanotons int64

	// Opcode is the 32-bit operation code extracted from a structured
	// message body, nil for plain transfers and text comments.
	Opcode *uint32

	// Body is the decoded incoming message payload, nil when the message
	// carried none. For text comments this is the comment cell including
	// its zero opcode prefix.
	Body []byte

	// ActionSuccess reports whether the chain's action phase succeeded.
	ActionSuccess bool
}

// Balance is the monitored account's native balance.
type Balance struct {
	Nanotons int64
	TON      decimal.Decimal
	Status   string
}
