package chain

// fake_test.go — nodo RPC falso compartido por los tests del paquete.

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rangebot/internal/ports"
)

const testChainID int64 = 56

// fakeNode implementa Node con comportamiento programable por campo.
type fakeNode struct {
	mu sync.Mutex

	chainID *big.Int
	head    uint64

	// bloques por número; la clave -1 es el bloque pending
	blocks map[int64]ethtypes.Transactions

	nonce uint64 // nonce de cuenta devuelto por NonceAt

	sendErrs []error // errores a devolver por SendTransaction, en orden
	sends    int

	blockNumberErr error
	callResult     []byte
	callErr        error
	receipts       map[common.Hash]*ethtypes.Receipt
	closed         bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		chainID:  big.NewInt(testChainID),
		head:     100,
		blocks:   map[int64]ethtypes.Transactions{},
		receipts: map[common.Hash]*ethtypes.Receipt{},
	}
}

func (f *fakeNode) ChainID(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeNode) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blockNumberErr != nil {
		return 0, f.blockNumberErr
	}
	return f.head, nil
}

func (f *fakeNode) BlockTransactions(ctx context.Context, number *big.Int) (ethtypes.Transactions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := int64(-1)
	if number != nil {
		key = number.Int64()
	}
	txs, ok := f.blocks[key]
	if !ok {
		return ethtypes.Transactions{}, nil
	}
	return txs, nil
}

func (f *fakeNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeNode) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeNode) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.sends
	f.sends++
	if idx < len(f.sendErrs) {
		return f.sendErrs[idx]
	}
	return nil
}

func (f *fakeNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeNode) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.callResult, nil
}

func (f *fakeNode) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeNode) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// fakeDial devuelve un DialFunc que sirve nodos por URL; las URLs ausentes
// fallan la conexión.
func fakeDial(nodes map[string]*fakeNode) DialFunc {
	return func(ctx context.Context, url string) (Node, error) {
		n, ok := nodes[url]
		if !ok {
			return nil, errors.New("dial tcp: connection refused")
		}
		return n, nil
	}
}

// testKey genera una cuenta y un wallet store de firma para tests.
func testKey(t *testing.T) (*ecdsa.PrivateKey, common.Address, ports.WalletStore) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return key, addr, staticWallet{key: key, addr: addr}
}

type staticWallet struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func (s staticWallet) Wallet(ctx context.Context) (ports.Wallet, error) {
	signer := ethtypes.LatestSignerForChainID(big.NewInt(testChainID))
	return ports.Wallet{
		Address: s.addr,
		SignTx: func(tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
			return ethtypes.SignTx(tx, signer, s.key)
		},
	}, nil
}

// signedTx fabrica una transacción legacy firmada con la clave dada.
func signedTx(t *testing.T, key *ecdsa.PrivateKey, nonce uint64) *ethtypes.Transaction {
	t.Helper()
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(1),
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(big.NewInt(testChainID)), key)
	require.NoError(t, err)
	return signed
}
