package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alejandrodnm/rangebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want domain.ErrorKind
	}{
		{"dial tcp 1.2.3.4:8545: connection refused", domain.KindNetwork},
		{"read tcp: connection reset by peer", domain.KindNetwork},
		{"lookup rpc.example.org: no such host", domain.KindNetwork},
		{"remote error: tls: handshake failure", domain.KindNetwork},
		{"context deadline exceeded", domain.KindTimeout},
		{"post timeout awaiting response", domain.KindTimeout},
		{"read tcp: i/o timeout", domain.KindTimeout},
		{"already known", domain.KindAlreadyKnown},
		{"known transaction: 0xabc", domain.KindAlreadyKnown},
		{"nonce too low", domain.KindNonceTooLow},
		{"err: nonce is too low: next nonce 12", domain.KindNonceTooLow},
		{"insufficient funds for gas * price + value", domain.KindInsufficientBalance},
		{"execution reverted: transfer amount exceeds balance", domain.KindInsufficientBalance},
		{"execution reverted: something else", domain.KindUnknown},
		{"", domain.KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			assert.Equal(t, tc.want, domain.Classify(errors.New(tc.msg)), "msg=%q", tc.msg)
		})
	}
}

func TestClassify_NilError(t *testing.T) {
	assert.Equal(t, domain.KindUnknown, domain.Classify(nil))
}

func TestClassify_TimeoutWinsOverNetwork(t *testing.T) {
	// mensajes que mencionan el transporte Y el timeout deben ser timeout:
	// disparan reconciliación, no failover ciego
	err := errors.New("read tcp 10.0.0.1:443: i/o timeout")
	assert.Equal(t, domain.KindTimeout, domain.Classify(err))
}

func TestPermanent(t *testing.T) {
	base := errors.New("boom")
	require.False(t, domain.IsPermanent(base))

	perm := domain.Permanent(base)
	assert.True(t, domain.IsPermanent(perm))
	assert.EqualError(t, perm, "boom")
	assert.ErrorIs(t, perm, base)

	// sobrevive a envolturas posteriores
	wrapped := fmt.Errorf("stage: %w", perm)
	assert.True(t, domain.IsPermanent(wrapped))

	assert.Nil(t, domain.Permanent(nil))
}

func TestPermanent_PreservesSentinels(t *testing.T) {
	err := domain.Permanent(fmt.Errorf("reconcile: %w", domain.ErrTxUntraceable))
	assert.True(t, domain.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrTxUntraceable)
}
