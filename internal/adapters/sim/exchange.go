package sim

// exchange.go — exchange externo simulado: precios fijos en USD del World,
// fee plana y liquidez infinita. Suficiente para ejercitar el pipeline.

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/rangebot/internal/ports"
)

// feePct es la comisión plana del exchange simulado.
const feePct = 0.3

// Exchange implementa ports.Exchange contra el World para una cuenta fija.
type Exchange struct {
	world *World
	owner common.Address
}

// NewExchange crea el exchange para la cuenta dada.
func NewExchange(world *World, owner common.Address) *Exchange {
	return &Exchange{world: world, owner: owner}
}

// Quote devuelve cuánto `from` hace falta para recibir amountOut de `to`.
func (e *Exchange) Quote(ctx context.Context, from, to common.Address, amountOut *big.Int) (*big.Int, error) {
	e.world.mu.Lock()
	defer e.world.mu.Unlock()

	fromTok, err := e.world.token(from)
	if err != nil {
		return nil, fmt.Errorf("sim.Quote: %w", err)
	}
	toTok, err := e.world.token(to)
	if err != nil {
		return nil, fmt.Errorf("sim.Quote: %w", err)
	}
	if fromTok.PriceUSD <= 0 || toTok.PriceUSD <= 0 {
		return nil, fmt.Errorf("sim.Quote: no price for pair %s/%s", fromTok.Meta.Symbol, toTok.Meta.Symbol)
	}

	outHuman := decimal.NewFromBigInt(amountOut, -int32(toTok.Meta.Decimals))
	grossUSD := outHuman.Mul(decimal.NewFromFloat(toTok.PriceUSD))
	// el fee lo paga el comprador: hay que meter un poco más
	inUSD := grossUSD.Div(decimal.NewFromFloat(1 - feePct/100))
	inHuman := inUSD.Div(decimal.NewFromFloat(fromTok.PriceUSD))

	return inHuman.Shift(int32(fromTok.Meta.Decimals)).Ceil().BigInt(), nil
}

// Swap ejecuta el trade contra los balances del World.
func (e *Exchange) Swap(ctx context.Context, from, to common.Address, amountIn *big.Int, slippagePct float64) (ports.SwapResult, error) {
	if slippagePct <= 0 {
		return ports.SwapResult{}, fmt.Errorf("sim.Swap: slippage must be positive")
	}

	e.world.mu.Lock()
	defer e.world.mu.Unlock()

	fromTok, err := e.world.token(from)
	if err != nil {
		return ports.SwapResult{}, fmt.Errorf("sim.Swap: %w", err)
	}
	toTok, err := e.world.token(to)
	if err != nil {
		return ports.SwapResult{}, fmt.Errorf("sim.Swap: %w", err)
	}

	inHuman := decimal.NewFromBigInt(amountIn, -int32(fromTok.Meta.Decimals))
	outUSD := inHuman.Mul(decimal.NewFromFloat(fromTok.PriceUSD)).
		Mul(decimal.NewFromFloat(1 - feePct/100))
	outHuman := outUSD.Div(decimal.NewFromFloat(toTok.PriceUSD))
	amountOut := outHuman.Shift(int32(toTok.Meta.Decimals)).Truncate(0).BigInt()

	// minOut = esperado · (1 − slippage/100); con precios fijos el fill solo
	// puede quedar corto por redondeo, pero la tolerancia se respeta igual
	minOut := outHuman.Mul(decimal.NewFromFloat(1 - slippagePct/100)).
		Shift(int32(toTok.Meta.Decimals)).Truncate(0).BigInt()
	if amountOut.Cmp(minOut) < 0 {
		return ports.SwapResult{}, fmt.Errorf("sim.Swap: fill %s below min out %s (slippage %.2f%%)", amountOut, minOut, slippagePct)
	}

	if err := e.world.debit(e.owner, from, amountIn); err != nil {
		return ports.SwapResult{}, fmt.Errorf("sim.Swap: %w", err)
	}
	e.world.credit(e.owner, to, amountOut)

	return ports.SwapResult{
		TxHash:     fakeTxHash(),
		FromToken:  from,
		ToToken:    to,
		FromAmount: new(big.Int).Set(amountIn),
		ToAmount:   amountOut,
	}, nil
}
