package validate

import (
	"testing"

	"github.com/brojonat/tonwatch/service/ton"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainTx(nanotons int64) ton.RawTransaction {
	return ton.RawTransaction{
		Hash:          "tx-hash",
		LogicalTime:   1000,
		Sender:        "UQsender",
		Recipient:     "UQrecipient",
		ValueNanotons: nanotons,
		ActionSuccess: true,
	}
}

func comment(text string) []byte {
	return append([]byte{0, 0, 0, 0}, []byte(text)...)
}

func TestClassifyAcceptsPlainTransfer(t *testing.T) {
	v := New()
	res := v.Classify(plainTx(100_000_000))
	require.True(t, res.Accepted)
	assert.False(t, res.FailOpen)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("0.1")),
		"100_000_000 nanotons is exactly 0.1 TON, got %s", res.Amount)
}

func TestClassifyRejectsKnownTokenOpcodes(t *testing.T) {
	v := New()
	for _, op := range []uint32{
		OpJettonTransfer,
		OpJettonInternalTransfer,
		OpTransferNotification,
		OpBurnNotification,
	} {
		tx := plainTx(1_000_000_000)
		opcode := op
		tx.Opcode = &opcode
		res := v.Classify(tx)
		assert.False(t, res.Accepted, "opcode 0x%08x must be rejected", op)
		assert.Equal(t, ReasonKnownTokenOpcode, res.Reason)
	}
}

func TestClassifyRejectsSuspiciousKeywords(t *testing.T) {
	v := New()
	for _, text := range []string{
		"jetton transfer",
		"TOKEN airdrop",
		"Mint #42",
		"burn receipt",
		"MyToKeNs", // substring match, any casing
	} {
		tx := plainTx(1_000_000_000)
		tx.Body = comment(text)
		res := v.Classify(tx)
		assert.False(t, res.Accepted, "comment %q must be rejected", text)
		assert.Equal(t, ReasonSuspiciousKeyword, res.Reason)
	}
}

func TestClassifyAcceptsBenignComment(t *testing.T) {
	v := New()
	tx := plainTx(1_000_000_000)
	tx.Body = comment("payment for invoice 7")
	res := v.Classify(tx)
	assert.True(t, res.Accepted)
	assert.False(t, res.FailOpen)
}

func TestClassifyRejectsNonPositiveValue(t *testing.T) {
	v := New()
	for _, nanotons := range []int64{0, -1} {
		res := v.Classify(plainTx(nanotons))
		assert.False(t, res.Accepted)
		assert.Equal(t, ReasonNonPositiveValue, res.Reason)
	}
}

func TestClassifyRejectsFailedAction(t *testing.T) {
	v := New()
	tx := plainTx(1_000_000_000)
	tx.ActionSuccess = false
	res := v.Classify(tx)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonActionFailed, res.Reason)
}

func TestClassifyFailOpenOnUndecodableBody(t *testing.T) {
	// An opaque binary payload that is neither a tagged comment nor
	// printable text skips only the keyword scan. A positive, successful
	// transfer carrying such a payload is accepted and flagged.
	v := New()
	tx := plainTx(1_000_000_000)
	tx.Body = []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}
	res := v.Classify(tx)
	require.True(t, res.Accepted)
	assert.True(t, res.FailOpen)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("1")))
}

func TestClassifyFailOpenScopedToKeywordRule(t *testing.T) {
	// The permissive path covers exactly the rule that needs the decoded
	// text. The value and action checks still run against a transaction
	// whose body cannot be read.
	v := New()
	binary := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}

	tx := plainTx(0)
	tx.Body = binary
	res := v.Classify(tx)
	assert.False(t, res.Accepted, "zero value must be rejected even with an unreadable body")
	assert.Equal(t, ReasonNonPositiveValue, res.Reason)

	tx = plainTx(1_000_000_000)
	tx.Body = binary
	tx.ActionSuccess = false
	res = v.Classify(tx)
	assert.False(t, res.Accepted, "failed action must be rejected even with an unreadable body")
	assert.Equal(t, ReasonActionFailed, res.Reason)
	assert.False(t, res.FailOpen)
}

func TestClassifyOpcodeBeatsFailOpen(t *testing.T) {
	v := New()
	tx := plainTx(1_000_000_000)
	op := OpJettonTransfer
	tx.Opcode = &op
	tx.Body = []byte{0xde, 0xad, 0xbe, 0xef}
	res := v.Classify(tx)
	assert.False(t, res.Accepted, "the opcode check runs before body decoding")
	assert.Equal(t, ReasonKnownTokenOpcode, res.Reason)
}

func TestClassifyDeterministic(t *testing.T) {
	v := New()
	tx := plainTx(123_456_789)
	tx.Body = comment("thanks")
	first := v.Classify(tx)
	for i := 0; i < 10; i++ {
		res := v.Classify(tx)
		assert.Equal(t, first.Accepted, res.Accepted)
		assert.Equal(t, first.Reason, res.Reason)
		assert.True(t, first.Amount.Equal(res.Amount))
	}
}

func TestClassifyCustomConfig(t *testing.T) {
	v := NewWithConfig(Config{
		BlockedOpcodes: []uint32{0xdeadbeef},
		Keywords:       []string{"scam"},
		UnitExponent:   6,
	})

	op := uint32(0xdeadbeef)
	tx := plainTx(1_000_000)
	tx.Opcode = &op
	assert.False(t, v.Classify(tx).Accepted)

	// The default jetton opcodes are replaced, not merged.
	op = OpJettonTransfer
	tx.Opcode = &op
	tx.Body = nil
	res := v.Classify(tx)
	assert.True(t, res.Accepted)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("1")),
		"exponent 6 scales 1_000_000 smallest units to 1, got %s", res.Amount)

	tx.Opcode = nil
	tx.Body = comment("obvious scam")
	assert.False(t, v.Classify(tx).Accepted)
}

func TestClassifyExtendedBlockList(t *testing.T) {
	// Operators extend the block-list by appending to the defaults, so
	// both built-in and extra opcodes must be rejected.
	v := NewWithConfig(Config{
		BlockedOpcodes: append(DefaultBlockedOpcodes(), 0x0badc0de),
	})

	for _, op := range []uint32{OpJettonTransfer, 0x0badc0de} {
		tx := plainTx(1_000_000_000)
		opcode := op
		tx.Opcode = &opcode
		res := v.Classify(tx)
		assert.False(t, res.Accepted, "opcode 0x%08x must be rejected", op)
		assert.Equal(t, ReasonKnownTokenOpcode, res.Reason)
	}
}

func TestClassifyExactDecimalAmounts(t *testing.T) {
	v := New()
	cases := map[int64]string{
		1:             "0.000000001",
		10_000_000:    "0.01",
		100_000_000:   "0.1",
		1_000_000_000: "1",
		1_500_000_000: "1.5",
	}
	for nanotons, want := range cases {
		res := v.Classify(plainTx(nanotons))
		require.True(t, res.Accepted)
		assert.True(t, res.Amount.Equal(decimal.RequireFromString(want)),
			"%d nanotons should be %s, got %s", nanotons, want, res.Amount)
	}
}
