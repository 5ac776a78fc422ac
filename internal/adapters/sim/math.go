package sim

// math.go — colaborador de matemática de liquidez concentrada, versión
// simulada. Las fórmulas son las estándar sobre raíces de precio:
//
//   sqrtP = 1.0001^(tick/2)
//   L desde token0:  L = amt0 · sqrtP·sqrtU / (sqrtU − sqrtP)
//   L desde token1:  L = amt1 / (sqrtP − sqrtL)
//   amt0 = L · (sqrtU − sqrtP) / (sqrtP·sqrtU)
//   amt1 = L · (sqrtP − sqrtL)
//
// Se opera en float64 sobre cantidades raw (wei): precisión de sobra para el
// modo paper, que no toca dinero real.

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/alejandrodnm/rangebot/internal/ports"
)

// Math implementa ports.PositionMath.
type Math struct{}

// NewMath crea el colaborador simulado.
func NewMath() *Math {
	return &Math{}
}

// TokenRequirements calcula el par exacto para el rango pedido.
func (m *Math) TokenRequirements(ctx context.Context, req ports.RequirementsRequest) (ports.TokenRequirements, error) {
	if req.LowerTick >= req.UpperTick {
		return ports.TokenRequirements{}, fmt.Errorf("sim.TokenRequirements: lower %d >= upper %d", req.LowerTick, req.UpperTick)
	}
	if req.InputAmount == nil || req.InputAmount.Sign() <= 0 {
		return ports.TokenRequirements{}, fmt.Errorf("sim.TokenRequirements: input amount must be positive")
	}

	sqrtP := sqrtPriceAtTick(req.CurrentTick)
	sqrtL := sqrtPriceAtTick(req.LowerTick)
	sqrtU := sqrtPriceAtTick(req.UpperTick)

	input, _ := new(big.Float).SetInt(req.InputAmount).Float64()

	var liquidity float64
	if req.InputIsToken0 {
		liquidity = input * sqrtP * sqrtU / (sqrtU - sqrtP)
	} else {
		liquidity = input / (sqrtP - sqrtL)
	}

	amt0 := liquidity * (sqrtU - sqrtP) / (sqrtP * sqrtU)
	amt1 := liquidity * (sqrtP - sqrtL)

	return ports.TokenRequirements{
		Amount0: floatToWei(amt0),
		Amount1: floatToWei(amt1),
		Explanation: fmt.Sprintf("tick %d in [%d, %d): L=%.4g",
			req.CurrentTick, req.LowerTick, req.UpperTick, liquidity),
	}, nil
}

// DeriveTickBounds convierte un rango de ±percent alrededor del tick actual
// en bounds alineados al tick spacing. El bound inferior se redondea hacia
// abajo y el superior hacia arriba, garantizando que el tick queda dentro.
func (m *Math) DeriveTickBounds(currentTick int32, percent float64, tickSpacing int32) (lower, upper int32) {
	// cuántos ticks suponen un ±percent de precio: 1.0001^n = 1 + p/100
	delta := int32(math.Round(math.Log(1+percent/100) / math.Log(1.0001)))
	if delta < 1 {
		delta = 1
	}
	if tickSpacing < 1 {
		tickSpacing = 1
	}

	lower = floorAlign(currentTick-delta, tickSpacing)
	upper = ceilAlign(currentTick+delta, tickSpacing)
	if upper <= currentTick {
		upper += tickSpacing
	}
	if lower > currentTick {
		lower -= tickSpacing
	}
	return lower, upper
}

func sqrtPriceAtTick(tick int32) float64 {
	return math.Pow(1.0001, float64(tick)/2)
}

func floatToWei(f float64) *big.Int {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return big.NewInt(0)
	}
	out, _ := new(big.Float).SetFloat64(f).Int(nil)
	return out
}

func floorAlign(tick, spacing int32) int32 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

func ceilAlign(tick, spacing int32) int32 {
	q := tick / spacing
	if tick%spacing != 0 && tick > 0 {
		q++
	}
	return q * spacing
}
