package chain

// pool.go — lecturas on-chain del pool de liquidez concentrada y de tokens
// ERC-20, siempre a través del coordinador de failover.

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

// Contract ABIs
var (
	poolABI  abi.ABI
	erc20ABI abi.ABI
)

func init() {
	var err error

	poolABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "slot0",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [
				{"name": "sqrtPriceX96", "type": "uint160"},
				{"name": "tick", "type": "int24"},
				{"name": "observationIndex", "type": "uint16"},
				{"name": "observationCardinality", "type": "uint16"},
				{"name": "observationCardinalityNext", "type": "uint16"},
				{"name": "feeProtocol", "type": "uint32"},
				{"name": "unlocked", "type": "bool"}
			]
		},
		{
			"name": "token0",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "address"}]
		},
		{
			"name": "token1",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "address"}]
		},
		{
			"name": "fee",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint24"}]
		},
		{
			"name": "tickSpacing",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "int24"}]
		}
	]`))
	if err != nil {
		panic("pool abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "symbol",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "string"}]
		},
		{
			"name": "decimals",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint8"}]
		},
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "owner", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// PoolReader implementa ports.MarketReader, ports.TickSource y
// ports.BalanceReader sobre el coordinador.
type PoolReader struct {
	co *Coordinator
}

// NewPoolReader crea el lector de pools.
func NewPoolReader(co *Coordinator) *PoolReader {
	return &PoolReader{co: co}
}

// Snapshot captura slot0, fee, tick spacing y metadata de ambos tokens.
func (p *PoolReader) Snapshot(ctx context.Context, pool common.Address) (domain.MarketSnapshot, error) {
	var snap domain.MarketSnapshot

	err := p.co.Execute(ctx, "pool_snapshot", func(opCtx context.Context, node Node) error {
		sqrtPrice, tick, err := p.slot0(opCtx, node, pool)
		if err != nil {
			return fmt.Errorf("slot0: %w", err)
		}

		token0Addr, err := p.callAddress(opCtx, node, pool, "token0")
		if err != nil {
			return fmt.Errorf("token0: %w", err)
		}
		token1Addr, err := p.callAddress(opCtx, node, pool, "token1")
		if err != nil {
			return fmt.Errorf("token1: %w", err)
		}

		fee, err := p.callBig(opCtx, node, pool, "fee")
		if err != nil {
			return fmt.Errorf("fee: %w", err)
		}
		spacing, err := p.callBig(opCtx, node, pool, "tickSpacing")
		if err != nil {
			return fmt.Errorf("tickSpacing: %w", err)
		}

		token0, err := p.tokenMeta(opCtx, node, token0Addr)
		if err != nil {
			return fmt.Errorf("token0 meta: %w", err)
		}
		token1, err := p.tokenMeta(opCtx, node, token1Addr)
		if err != nil {
			return fmt.Errorf("token1 meta: %w", err)
		}

		price01 := domain.PriceFromTick(tick, token0.Decimals, token1.Decimals)
		var price10 float64
		if price01 > 0 {
			price10 = 1 / price01
		}

		snap = domain.MarketSnapshot{
			Tick:         tick,
			SqrtPriceX96: sqrtPrice.String(),
			TickSpacing:  int32(spacing.Int64()),
			FeePPM:       uint32(fee.Uint64()),
			Token0:       token0,
			Token1:       token1,
			Price0In1:    price01,
			Price1In0:    price10,
			FetchedAt:    time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("chain.Snapshot %s: %w", pool.Hex(), err)
	}
	return snap, nil
}

// CurrentTick devuelve solo el tick actual del pool (para el monitor).
func (p *PoolReader) CurrentTick(ctx context.Context, pool common.Address) (int32, error) {
	var tick int32
	err := p.co.Execute(ctx, "current_tick", func(opCtx context.Context, node Node) error {
		_, t, err := p.slot0(opCtx, node, pool)
		if err != nil {
			return err
		}
		tick = t
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("chain.CurrentTick %s: %w", pool.Hex(), err)
	}
	return tick, nil
}

// TokenBalance devuelve el balance ERC-20 de owner.
func (p *PoolReader) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var balance *big.Int
	err := p.co.Execute(ctx, "token_balance", func(opCtx context.Context, node Node) error {
		callData, err := erc20ABI.Pack("balanceOf", owner)
		if err != nil {
			return err
		}
		result, err := node.CallContract(opCtx, ethereum.CallMsg{To: &token, Data: callData}, nil)
		if err != nil {
			return err
		}
		vals, err := erc20ABI.Unpack("balanceOf", result)
		if err != nil || len(vals) == 0 {
			return fmt.Errorf("unpack balanceOf: %w", err)
		}
		balance = vals[0].(*big.Int)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chain.TokenBalance %s: %w", token.Hex(), err)
	}
	return balance, nil
}

func (p *PoolReader) slot0(ctx context.Context, node Node, pool common.Address) (*big.Int, int32, error) {
	callData, err := poolABI.Pack("slot0")
	if err != nil {
		return nil, 0, err
	}
	result, err := node.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: callData}, nil)
	if err != nil {
		return nil, 0, err
	}
	vals, err := poolABI.Unpack("slot0", result)
	if err != nil || len(vals) < 2 {
		return nil, 0, fmt.Errorf("unpack slot0: %w", err)
	}
	sqrtPrice := vals[0].(*big.Int)
	tick := int32(vals[1].(*big.Int).Int64())
	return sqrtPrice, tick, nil
}

func (p *PoolReader) callAddress(ctx context.Context, node Node, contract common.Address, method string) (common.Address, error) {
	callData, err := poolABI.Pack(method)
	if err != nil {
		return common.Address{}, err
	}
	result, err := node.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: callData}, nil)
	if err != nil {
		return common.Address{}, err
	}
	vals, err := poolABI.Unpack(method, result)
	if err != nil || len(vals) == 0 {
		return common.Address{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals[0].(common.Address), nil
}

func (p *PoolReader) callBig(ctx context.Context, node Node, contract common.Address, method string) (*big.Int, error) {
	callData, err := poolABI.Pack(method)
	if err != nil {
		return nil, err
	}
	result, err := node.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: callData}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := poolABI.Unpack(method, result)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals[0].(*big.Int), nil
}

func (p *PoolReader) tokenMeta(ctx context.Context, node Node, token common.Address) (domain.TokenMeta, error) {
	symData, err := erc20ABI.Pack("symbol")
	if err != nil {
		return domain.TokenMeta{}, err
	}
	symRaw, err := node.CallContract(ctx, ethereum.CallMsg{To: &token, Data: symData}, nil)
	if err != nil {
		return domain.TokenMeta{}, err
	}
	symVals, err := erc20ABI.Unpack("symbol", symRaw)
	if err != nil || len(symVals) == 0 {
		return domain.TokenMeta{}, fmt.Errorf("unpack symbol: %w", err)
	}

	decData, err := erc20ABI.Pack("decimals")
	if err != nil {
		return domain.TokenMeta{}, err
	}
	decRaw, err := node.CallContract(ctx, ethereum.CallMsg{To: &token, Data: decData}, nil)
	if err != nil {
		return domain.TokenMeta{}, err
	}
	decVals, err := erc20ABI.Unpack("decimals", decRaw)
	if err != nil || len(decVals) == 0 {
		return domain.TokenMeta{}, fmt.Errorf("unpack decimals: %w", err)
	}

	return domain.TokenMeta{
		Address:  token.Hex(),
		Symbol:   symVals[0].(string),
		Decimals: decVals[0].(uint8),
	}, nil
}
