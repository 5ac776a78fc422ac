package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Node es el handle de conexión viva que reciben las operaciones del
// coordinador. *ethclient.Client lo satisface casi entero; la indirección
// existe para poder inyectar nodos falsos en tests.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	// BlockTransactions devuelve las transacciones del bloque dado.
	// nil = latest; PendingBlockArg() = bloque pending.
	BlockTransactions(ctx context.Context, number *big.Int) (ethtypes.Transactions, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

// DialFunc establece una conexión con un endpoint.
type DialFunc func(ctx context.Context, url string) (Node, error)

// PendingBlockArg is the block-number argument that selects the pending
// block in BlockTransactions.
func PendingBlockArg() *big.Int {
	return big.NewInt(int64(rpc.PendingBlockNumber))
}

type rpcNode struct {
	*ethclient.Client
}

func (n *rpcNode) BlockTransactions(ctx context.Context, number *big.Int) (ethtypes.Transactions, error) {
	block, err := n.Client.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return block.Transactions(), nil
}

// dialRPC es el DialFunc por defecto, sobre ethclient.
func dialRPC(ctx context.Context, url string) (Node, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &rpcNode{Client: client}, nil
}
