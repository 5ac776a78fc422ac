package engine

// exit.go — etapa 5: la salida ordenada. Best-effort de principio a fin:
// un cierre o una venta que falla se apunta en el ExitRecord y se sigue
// adelante. La instancia SIEMPRE acaba en EXITED; lo que no se pudo
// liquidar queda documentado para intervención manual.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/rangebot/internal/application/monitor"
	"github.com/alejandrodnm/rangebot/internal/domain"
)

// runExit ejecuta la salida completa de una instancia: parar el monitor,
// cerrar la posición y liquidar los restos a la base currency.
func (e *Engine) runExit(ctx context.Context, id string, mon *monitor.Monitor, reason domain.ExitReason) {
	slog.Info("engine: exiting position", "id", id, "reason", reason)

	if err := e.mutate(ctx, id, func(inst *domain.StrategyInstance) error {
		inst.Status = domain.StatusExiting
		return nil
	}); err != nil {
		slog.Error("engine: exit transition failed", "id", id, "err", err)
		return
	}

	// primero muere el monitor: nada debe reaccionar al precio durante la salida
	if mon != nil {
		mon.Stop()
	}

	inst, ok := e.Instance(id)
	if !ok {
		return
	}

	record := domain.ExitRecord{Reason: reason}

	// cierre de la posición, best-effort
	if inst.Position != nil {
		res, err := e.deps.Liquidity.ClosePosition(ctx, inst.Position.PositionID)
		if err != nil {
			record.CloseError = err.Error()
			slog.Error("engine: position close failed, continuing exit",
				"id", id, "position", inst.Position.PositionID, "err", err)
		} else {
			record.CloseTxHash = res.TxHash
			slog.Info("engine: position closed",
				"id", id, "position", inst.Position.PositionID, "tx", res.TxHash,
				"returned0", res.Returned0, "returned1", res.Returned1)
			e.publish(ctx, domain.EventPositionClosed, id, map[string]any{
				"position_id": inst.Position.PositionID,
				"tx":          res.TxHash,
				"reason":      string(reason),
			})
		}
	}

	e.liquidate(ctx, id, inst, &record)

	if err := e.mutate(ctx, id, func(inst *domain.StrategyInstance) error {
		now := time.Now().UTC()
		inst.Status = domain.StatusExited
		inst.Exit = &record
		inst.ExitedAt = &now
		inst.EndedAt = &now
		return nil
	}); err != nil {
		slog.Error("engine: exited transition failed", "id", id, "err", err)
		return
	}

	e.publish(ctx, domain.EventStrategyEnded, id, map[string]any{
		"status": string(domain.StatusExited),
		"reason": string(reason),
	})
	slog.Info("engine: instance exited", "id", id, "reason", reason)
}

// liquidate vende a la base currency todo balance de los tokens del pool que
// supere el dust threshold. Errores de venta se apuntan, nunca interrumpen.
func (e *Engine) liquidate(ctx context.Context, id string, inst *domain.StrategyInstance, record *domain.ExitRecord) {
	if inst.Market == nil {
		return
	}
	market := *inst.Market

	w, err := e.deps.Wallet.Wallet(ctx)
	if err != nil {
		record.SwapErrors = append(record.SwapErrors, fmt.Sprintf("wallet: %v", err))
		return
	}

	for _, token := range []domain.TokenMeta{market.Token0, market.Token1} {
		tokenAddr := common.HexToAddress(token.Address)
		if e.isBaseCurrency(tokenAddr) {
			continue // ya está en base, no hay nada que vender
		}

		bal, err := e.deps.Balances.TokenBalance(ctx, tokenAddr, w.Address)
		if err != nil {
			record.SwapErrors = append(record.SwapErrors, fmt.Sprintf("%s balance: %v", token.Symbol, err))
			continue
		}
		if bal.Cmp(e.cfg.DustThreshold) <= 0 {
			continue
		}

		base, err := e.chooseBase(ctx, w, tokenAddr)
		if err != nil {
			record.SwapErrors = append(record.SwapErrors, fmt.Sprintf("%s: %v", token.Symbol, err))
			continue
		}

		res, err := e.deps.Exchange.Swap(ctx, tokenAddr, base.Address, bal, inst.Config.SwapSlippagePct)
		if err != nil {
			record.SwapErrors = append(record.SwapErrors, fmt.Sprintf("sell %s: %v", token.Symbol, err))
			slog.Error("engine: liquidation swap failed", "id", id, "token", token.Symbol, "err", err)
			continue
		}

		swap := domain.SwapRecord{
			TxHash:     res.TxHash,
			FromToken:  token.Address,
			ToToken:    base.Address.Hex(),
			FromAmount: res.FromAmount.String(),
			ToAmount:   res.ToAmount.String(),
			ExecutedAt: time.Now().UTC(),
		}
		record.Swaps = append(record.Swaps, swap)
		if e.deps.Ledger != nil {
			if lerr := e.deps.Ledger.RecordSwap(ctx, id, swap); lerr != nil {
				slog.Warn("engine: ledger swap write failed", "err", lerr)
			}
		}
		e.publish(ctx, domain.EventSwapExecuted, id, map[string]any{
			"tx":          res.TxHash,
			"from_token":  swap.FromToken,
			"to_token":    swap.ToToken,
			"from_amount": swap.FromAmount,
			"to_amount":   swap.ToAmount,
		})
		slog.Info("engine: leftover liquidated",
			"id", id, "token", token.Symbol, "amount", bal, "base", base.Symbol, "tx", res.TxHash)
	}
}

func (e *Engine) isBaseCurrency(addr common.Address) bool {
	for _, base := range e.cfg.BaseCurrencies {
		if base.Address == addr {
			return true
		}
	}
	return false
}
