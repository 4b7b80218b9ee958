package tiptoppay_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linemk/storefront/internal/payment/tiptoppay"
)

func TestSign_SortedCanonicalString(t *testing.T) {
	params := map[string]any{
		"transactionId": "42",
		"amount":        int64(1000000),
		"publicId":      "pk_test",
	}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("amount=1000000&publicId=pk_test&transactionId=42"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, tiptoppay.Sign(params, "secret"))
}

func TestVerify(t *testing.T) {
	params := map[string]any{"InvoiceId": "1", "Amount": "100"}
	sig := tiptoppay.Sign(params, "secret")

	assert.True(t, tiptoppay.Verify(params, "secret", sig))
	assert.False(t, tiptoppay.Verify(params, "other", sig))
	assert.False(t, tiptoppay.Verify(params, "secret", ""))
}
