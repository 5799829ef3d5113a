package nats

import (
	"time"

	"github.com/brojonat/tonwatch/service/db"
)

// DepositEvent represents a deposit event published to NATS.
// This is published to the subject "deposits.{account_id}" in JetStream.
type DepositEvent struct {
	// Transaction identifiers
	TxHash      string `json:"tx_hash"`
	LogicalTime int64  `json:"logical_time"`

	// Account information
	AccountID     string `json:"account_id"` // Monitored/receiver account
	SenderAddress string `json:"sender_address"`

	// Deposit details. AmountTON is the exact decimal string representation.
	AmountTON      string `json:"amount_ton"`
	AmountNanotons int64  `json:"amount_nanoton"`
	Message        string `json:"message,omitempty"`

	// Timing information
	Timestamp time.Time `json:"timestamp"`
	Confirmed bool      `json:"confirmed"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromDeposit converts a ledger deposit to a DepositEvent for publishing.
func FromDeposit(dep *db.Deposit) *DepositEvent {
	event := &DepositEvent{
		TxHash:         dep.TxHash,
		LogicalTime:    dep.LogicalTime,
		AccountID:      dep.AccountID,
		SenderAddress:  dep.SenderAddress,
		AmountTON:      dep.Amount.String(),
		AmountNanotons: dep.AmountNanotons,
		Timestamp:      dep.Timestamp,
		Confirmed:      dep.Confirmed,
		PublishedAt:    time.Now().UTC(),
	}

	if dep.Message != nil {
		event.Message = *dep.Message
	}

	return event
}
