package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rangebot/internal/adapters/storage"
	"github.com/alejandrodnm/rangebot/internal/domain"
)

func makeSwap(tx string) domain.SwapRecord {
	return domain.SwapRecord{
		TxHash:     tx,
		FromToken:  "0x55d398326f99059fF775485246999027B3197955",
		ToToken:    "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
		FromAmount: "600000000000000000000",
		ToAmount:   "1000000000000000000",
		ExecutedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestLedger_RecordAndFetchSwaps(t *testing.T) {
	ledger, err := storage.NewLedger(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()
	require.NoError(t, ledger.RecordSwap(ctx, "inst-1", makeSwap("0x01")))
	require.NoError(t, ledger.RecordSwap(ctx, "inst-1", makeSwap("0x02")))
	require.NoError(t, ledger.RecordSwap(ctx, "inst-2", makeSwap("0x03")))

	swaps, err := ledger.SwapsFor(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, swaps, 2)

	// orden de ejecución
	assert.Equal(t, "0x01", swaps[0].TxHash)
	assert.Equal(t, "0x02", swaps[1].TxHash)
	assert.Equal(t, "600000000000000000000", swaps[0].FromAmount)
}

func TestLedger_SwapsForUnknownInstance(t *testing.T) {
	ledger, err := storage.NewLedger(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	swaps, err := ledger.SwapsFor(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, swaps)
}

func TestLedger_RecordEvent(t *testing.T) {
	ledger, err := storage.NewLedger(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	evt := domain.Event{
		Name:       domain.EventPositionCreated,
		InstanceID: "inst-1",
		At:         time.Now().UTC(),
		Payload:    map[string]any{"position_id": "p1"},
	}
	require.NoError(t, ledger.RecordEvent(context.Background(), evt))

	// sin payload también vale
	evt.Payload = nil
	assert.NoError(t, ledger.RecordEvent(context.Background(), evt))
}
