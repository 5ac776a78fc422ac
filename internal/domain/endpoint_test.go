package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

func TestRankEndpoints(t *testing.T) {
	eps := []domain.Endpoint{
		{Name: "c", Priority: 3},
		{Name: "a", Priority: 1},
		{Name: "b1", Priority: 2},
		{Name: "b2", Priority: 2},
	}

	ranked := domain.RankEndpoints(eps)

	names := make([]string, len(ranked))
	for i, ep := range ranked {
		names[i] = ep.Name
	}
	// a igual prioridad gana el orden de declaración
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, names)

	// el slice original no se toca
	assert.Equal(t, "c", eps[0].Name)
}
