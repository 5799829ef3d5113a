package ton

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTonAPIFetchRecent(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/blockchain/accounts/UQwallet/transactions": `{
			"transactions": [
				{
					"hash": "hash-1",
					"lt": 3000,
					"utime": 1700000300,
					"success": true,
					"in_msg": {
						"source": {"address": "UQsender-1"},
						"destination": {"address": "UQwallet"},
						"value": 1500000000,
						"decoded_body": {"comment": "invoice 42"}
					}
				},
				{
					"hash": "hash-2",
					"lt": 2000,
					"utime": 1700000200,
					"success": false,
					"in_msg": {
						"source": {"address": "UQsender-2"},
						"destination": {"address": "UQwallet"},
						"value": 500000000,
						"op_code": "0x7362d09c"
					}
				},
				{
					"hash": "hash-out",
					"lt": 1000,
					"utime": 1700000100,
					"success": true
				}
			]
		}`,
	}}

	c := NewTonAPIClient("https://example.test", doer, nil, nil)
	txs, err := c.FetchRecent(context.Background(), "UQwallet", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2, "entries without an inbound message are dropped")

	assert.Equal(t, "hash-1", txs[0].Hash)
	assert.Equal(t, int64(3000), txs[0].LogicalTime)
	assert.True(t, txs[0].ActionSuccess)
	text, ok := ExtractComment(txs[0].Body)
	require.True(t, ok)
	assert.Equal(t, "invoice 42", text)

	assert.False(t, txs[1].ActionSuccess)
	require.NotNil(t, txs[1].Opcode)
	assert.Equal(t, uint32(0x7362d09c), *txs[1].Opcode)
}

func TestTonAPIFetchBalance(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/accounts/UQwallet": `{"balance": 42000000000, "status": "active"}`,
	}}
	c := NewTonAPIClient("https://example.test", doer, nil, nil)
	bal, err := c.FetchBalance(context.Background(), "UQwallet")
	require.NoError(t, err)
	assert.Equal(t, int64(42_000_000_000), bal.Nanotons)
	assert.True(t, bal.TON.Equal(decimal.RequireFromString("42")))
}

func TestTonAPIHTTPError(t *testing.T) {
	doer := &stubDoer{
		responses: map[string]string{"/accounts/UQwallet": `{"error": "not found"}`},
		status:    http.StatusNotFound,
	}
	c := NewTonAPIClient("https://example.test", doer, nil, nil)
	_, err := c.FetchBalance(context.Background(), "UQwallet")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
}
