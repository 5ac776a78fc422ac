package domain

import (
	"sort"
	"time"
)

// Endpoint es un nodo RPC candidato. Inmutable después de cargar la config;
// el ranking es por Priority ascendente, con desempate por orden de declaración.
type Endpoint struct {
	URL            string
	Name           string
	Priority       int
	ConnectTimeout time.Duration
	MaxRetries     int
	HealthInterval time.Duration
	RateLimit      float64 // requests/segundo, 0 = sin límite
}

// EndpointStatus is the advisory health snapshot for one endpoint. It is
// telemetry only — the failover coordinator picks endpoints lazily at call
// time regardless of what the health loop last observed.
type EndpointStatus struct {
	URL               string
	Name              string
	Healthy           bool
	LastCheckedAt     time.Time
	LastResponseMs    int64
	ConsecutiveErrors int
	LastError         string
	LastKnownBlock    uint64
}

// RankEndpoints devuelve una copia ordenada por prioridad ascendente.
// El sort es estable: a igual prioridad gana el orden de declaración.
func RankEndpoints(endpoints []Endpoint) []Endpoint {
	ranked := make([]Endpoint, len(endpoints))
	copy(ranked, endpoints)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority < ranked[j].Priority
	})
	return ranked
}
