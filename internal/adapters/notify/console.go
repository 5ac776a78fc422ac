package notify

// console.go — salida humana por stdout: tablas de endpoints e instancias
// para el subcomando de status y log de eventos de ciclo de vida.

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

// Console imprime tablas legibles para humanos.
type Console struct {
	out io.Writer
}

// NewConsole escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter escribe al writer dado (tests).
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PrintEndpoints imprime el estado de los endpoints RPC en orden de prioridad.
func (c *Console) PrintEndpoints(statuses []domain.EndpointStatus) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Endpoint", "Healthy", "Block", "Latency", "Errors", "Last error")

	for _, st := range statuses {
		healthy := "no"
		if st.Healthy {
			healthy = "yes"
		}
		table.Append(
			st.Name,
			healthy,
			fmt.Sprintf("%d", st.LastKnownBlock),
			fmt.Sprintf("%dms", st.LastResponseMs),
			fmt.Sprintf("%d", st.ConsecutiveErrors),
			truncate(st.LastError, 48),
		)
	}

	table.Render()
}

// PrintInstances imprime el resumen de todas las instancias.
func (c *Console) PrintInstances(instances []*domain.StrategyInstance) {
	if len(instances) == 0 {
		fmt.Fprintln(c.out, "no instances")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Status", "Pool", "Range", "Position", "Restarts", "Created", "Last error")

	for _, inst := range instances {
		rng := fmt.Sprintf("[%d, %d)", inst.Config.LowerTick, inst.Config.UpperTick)
		position := "-"
		if inst.Position != nil {
			position = truncate(inst.Position.PositionID, 12)
		}
		table.Append(
			truncate(inst.ID, 12),
			string(inst.Status),
			truncate(inst.Config.PoolAddress, 12),
			rng,
			position,
			fmt.Sprintf("%d", inst.Restarts),
			inst.CreatedAt.Format(time.DateTime),
			truncate(inst.LastError, 40),
		)
	}

	table.Render()
}

// LogEvent imprime una línea por evento de ciclo de vida. Pensado como
// suscriptor del bus.
func (c *Console) LogEvent(evt domain.Event) {
	fmt.Fprintf(c.out, "[%s] %s instance=%s\n",
		evt.At.Format("15:04:05"), evt.Name, truncate(evt.InstanceID, 12))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}
