package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

// newTestSubmitter monta coordinador + submitter sobre nodos falsos con las
// esperas recortadas para que los tests vuelen.
func newTestSubmitter(t *testing.T, nodes map[string]*fakeNode, eps []domain.Endpoint) (*Submitter, *Coordinator) {
	t.Helper()
	_, _, wallet := testKey(t)
	co := NewCoordinator(eps, testChainID, fakeDial(nodes))
	require.NoError(t, co.Start(context.Background()))
	t.Cleanup(co.Stop)

	s := NewSubmitter(co, wallet, testChainID)
	s.grace = 5 * time.Millisecond
	s.knownWait = 200 * time.Millisecond
	s.pollInterval = 5 * time.Millisecond
	return s, co
}

func singleEndpoint() []domain.Endpoint {
	return []domain.Endpoint{
		{URL: "http://a", Name: "a", Priority: 1, ConnectTimeout: time.Second, MaxRetries: 1},
	}
}

func TestSignAndSend_HappyPath(t *testing.T) {
	node := newFakeNode()
	s, _ := newTestSubmitter(t, map[string]*fakeNode{"http://a": node}, singleEndpoint())

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    7,
		To:       &common.Address{},
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})

	hash, err := s.SignAndSend(context.Background(), tx)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
	assert.Equal(t, 1, node.sends)
}

func TestSignAndSend_AmbiguousTimeoutFoundInPendingBlock(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("context deadline exceeded")}

	_, _, wallet := testKey(t)
	co := NewCoordinator(singleEndpoint(), testChainID, fakeDial(map[string]*fakeNode{"http://a": node}))
	require.NoError(t, co.Start(context.Background()))
	t.Cleanup(co.Stop)

	s := NewSubmitter(co, wallet, testChainID)
	s.grace = 5 * time.Millisecond
	s.knownWait = 200 * time.Millisecond
	s.pollInterval = 5 * time.Millisecond

	// la tx "llegó" a la red a pesar del timeout: aparece en el bloque pending
	w, err := wallet.Wallet(context.Background())
	require.NoError(t, err)
	landed, err := w.SignTx(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 3, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))
	require.NoError(t, err)
	node.blocks[-1] = ethtypes.Transactions{landed}
	node.receipts[landed.Hash()] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}

	hash, err := s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 3, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))
	require.NoError(t, err)
	assert.Equal(t, landed.Hash(), hash)
	assert.Equal(t, 1, node.sends, "jamás se reenvía tras localizar la tx")
}

func TestSignAndSend_PendingFoundButNeverConfirmedIsPermanent(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("context deadline exceeded")}

	_, _, wallet := testKey(t)
	co := NewCoordinator(singleEndpoint(), testChainID, fakeDial(map[string]*fakeNode{"http://a": node}))
	require.NoError(t, co.Start(context.Background()))
	t.Cleanup(co.Stop)

	s := NewSubmitter(co, wallet, testChainID)
	s.grace = 5 * time.Millisecond
	s.pollInterval = 5 * time.Millisecond
	s.receiptWait = 20 * time.Millisecond

	// la tx aparece en pending pero jamás llega el receipt
	w, err := wallet.Wallet(context.Background())
	require.NoError(t, err)
	stuck, err := w.SignTx(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 3, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))
	require.NoError(t, err)
	node.blocks[-1] = ethtypes.Transactions{stuck}

	_, err = s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 3, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))

	// localizada ≠ confirmada: error terminal con el hash dentro, sin reenvío
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTxUnconfirmed)
	assert.True(t, domain.IsPermanent(err))
	assert.Contains(t, err.Error(), stuck.Hash().Hex())
	assert.Equal(t, 1, node.sends)
}

func TestSignAndSend_AmbiguousTimeoutFoundInConfirmedBlock(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("post timeout awaiting response")}
	node.head = 50

	key, _, wallet := testKey(t)
	co := NewCoordinator(singleEndpoint(), testChainID, fakeDial(map[string]*fakeNode{"http://a": node}))
	require.NoError(t, co.Start(context.Background()))
	t.Cleanup(co.Stop)

	s := NewSubmitter(co, wallet, testChainID)
	s.grace = 5 * time.Millisecond
	s.pollInterval = 5 * time.Millisecond

	// confirmada unos bloques atrás, dentro de la ventana de escaneo
	landed := signedTx(t, key, 9)
	node.blocks[46] = ethtypes.Transactions{landed}

	hash, err := s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 9, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))
	require.NoError(t, err)
	assert.Equal(t, landed.Hash(), hash)
	assert.Equal(t, 1, node.sends)
}

func TestSignAndSend_NonceConsumedButUntraceable(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("context deadline exceeded")}
	node.nonce = 10 // la cuenta ya va por delante del nonce 5 enviado

	s, _ := newTestSubmitter(t, map[string]*fakeNode{"http://a": node}, singleEndpoint())

	_, err := s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 5, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))

	// éxito irrecuperable ≠ éxito mudo: error terminal, nunca reintento
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTxUntraceable)
	assert.True(t, domain.IsPermanent(err))
	assert.Equal(t, 1, node.sends)
}

func TestSignAndSend_GenuineSendFailureIsRetryable(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("context deadline exceeded")}
	node.nonce = 5 // el nonce 5 enviado NO se consumió

	s, _ := newTestSubmitter(t, map[string]*fakeNode{"http://a": node}, singleEndpoint())

	_, err := s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 5, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))

	// fallo real: el coordinador agota endpoints, pero el error no es permanente
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrAllEndpointsFailed)
}

func TestSignAndSend_AlreadyKnownResolvesToHash(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("already known")}

	key, _, wallet := testKey(t)
	co := NewCoordinator(singleEndpoint(), testChainID, fakeDial(map[string]*fakeNode{"http://a": node}))
	require.NoError(t, co.Start(context.Background()))
	t.Cleanup(co.Stop)

	s := NewSubmitter(co, wallet, testChainID)
	s.grace = 5 * time.Millisecond
	s.knownWait = 200 * time.Millisecond
	s.pollInterval = 5 * time.Millisecond

	landed := signedTx(t, key, 2)
	node.blocks[-1] = ethtypes.Transactions{landed}

	hash, err := s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 2, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))
	require.NoError(t, err)
	assert.Equal(t, landed.Hash(), hash)
}

func TestSignAndSend_AlreadyKnownTimesOutPermanent(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("known transaction: 0xdead")}

	s, _ := newTestSubmitter(t, map[string]*fakeNode{"http://a": node}, singleEndpoint())
	s.knownWait = 20 * time.Millisecond

	_, err := s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 2, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
}

func TestSignAndSend_NonceTooLowRecoversEarlierAttempt(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("nonce too low")}
	node.head = 20

	key, _, wallet := testKey(t)
	co := NewCoordinator(singleEndpoint(), testChainID, fakeDial(map[string]*fakeNode{"http://a": node}))
	require.NoError(t, co.Start(context.Background()))
	t.Cleanup(co.Stop)

	s := NewSubmitter(co, wallet, testChainID)
	s.grace = 5 * time.Millisecond
	s.pollInterval = 5 * time.Millisecond

	// un intento anterior con el mismo nonce ya había aterrizado
	landed := signedTx(t, key, 4)
	node.blocks[18] = ethtypes.Transactions{landed}

	hash, err := s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 4, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))
	require.NoError(t, err)
	assert.Equal(t, landed.Hash(), hash)
	assert.Equal(t, 1, node.sends, "idempotencia: el resultado es la tx original")
}

func TestSignAndSend_NonceTooLowWithoutMatchIsPermanent(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("nonce too low")}

	s, _ := newTestSubmitter(t, map[string]*fakeNode{"http://a": node}, singleEndpoint())

	_, err := s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 4, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
}

func TestSignAndSend_ForeignTxWithSameNonceIsIgnored(t *testing.T) {
	node := newFakeNode()
	node.sendErrs = []error{errors.New("context deadline exceeded")}
	node.head = 20
	node.nonce = 5

	s, _ := newTestSubmitter(t, map[string]*fakeNode{"http://a": node}, singleEndpoint())

	// misma nonce pero de OTRO emisor: no debe contar como nuestra tx
	otherKey, _, _ := testKey(t)
	node.blocks[20] = ethtypes.Transactions{signedTx(t, otherKey, 5)}

	_, err := s.SignAndSend(context.Background(), ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce: 5, To: &common.Address{}, Gas: 21000, GasPrice: big.NewInt(1),
	}))
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))
}
