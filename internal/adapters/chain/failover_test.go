package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

func testEndpoints() []domain.Endpoint {
	return []domain.Endpoint{
		{URL: "http://a", Name: "a", Priority: 1, ConnectTimeout: time.Second, MaxRetries: 2},
		{URL: "http://b", Name: "b", Priority: 2, ConnectTimeout: time.Second, MaxRetries: 2},
	}
}

func TestCoordinator_StartPicksHighestPriority(t *testing.T) {
	nodes := map[string]*fakeNode{
		"http://a": newFakeNode(),
		"http://b": newFakeNode(),
	}
	co := NewCoordinator(testEndpoints(), testChainID, fakeDial(nodes))

	require.NoError(t, co.Start(context.Background()))
	defer co.Stop()

	assert.Equal(t, "a", co.Current())
}

func TestCoordinator_StartFallsThroughDeadEndpoint(t *testing.T) {
	// solo b responde
	nodes := map[string]*fakeNode{"http://b": newFakeNode()}
	co := NewCoordinator(testEndpoints(), testChainID, fakeDial(nodes))

	require.NoError(t, co.Start(context.Background()))
	defer co.Stop()

	assert.Equal(t, "b", co.Current())
}

func TestCoordinator_StartAllDead(t *testing.T) {
	co := NewCoordinator(testEndpoints(), testChainID, fakeDial(nil))

	err := co.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllEndpointsFailed)
}

func TestCoordinator_ChainIDMismatchDisablesEndpoint(t *testing.T) {
	wrongChain := newFakeNode()
	wrongChain.chainID = big.NewInt(1) // no es la cadena configurada
	nodes := map[string]*fakeNode{
		"http://a": wrongChain,
		"http://b": newFakeNode(),
	}
	co := NewCoordinator(testEndpoints(), testChainID, fakeDial(nodes))

	require.NoError(t, co.Start(context.Background()))
	defer co.Stop()
	assert.Equal(t, "b", co.Current())

	// a queda deshabilitado para el resto del proceso: Execute nunca lo toca
	var used []Node
	err := co.Execute(context.Background(), "probe", func(ctx context.Context, node Node) error {
		used = append(used, node)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, used, 1)
	assert.False(t, used[0] == Node(wrongChain), "el endpoint con chain id equivocado no debe usarse")
}

func TestExecute_NetworkErrorAdvancesEndpoint(t *testing.T) {
	nodeA, nodeB := newFakeNode(), newFakeNode()
	nodes := map[string]*fakeNode{"http://a": nodeA, "http://b": nodeB}
	co := NewCoordinator(testEndpoints(), testChainID, fakeDial(nodes))
	require.NoError(t, co.Start(context.Background()))
	defer co.Stop()

	calls := 0
	err := co.Execute(context.Background(), "op", func(ctx context.Context, node Node) error {
		calls++
		if node == Node(nodeA) {
			return errors.New("read tcp: connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls, "un intento en a, éxito en b")
	// el siguiente Execute arranca en el último endpoint que funcionó
	assert.Equal(t, "b", co.Current())
}

func TestExecute_RetriesSameEndpointOnNonNetworkError(t *testing.T) {
	nodes := map[string]*fakeNode{
		"http://a": newFakeNode(),
		"http://b": newFakeNode(),
	}
	co := NewCoordinator(testEndpoints(), testChainID, fakeDial(nodes))
	require.NoError(t, co.Start(context.Background()))
	defer co.Stop()

	calls := 0
	err := co.Execute(context.Background(), "op", func(ctx context.Context, node Node) error {
		calls++
		if calls < 3 {
			return errors.New("execution reverted: flaky state")
		}
		return nil
	})

	require.NoError(t, err)
	// 2 fallos + 1 éxito, todos contra el mismo endpoint (maxRetries = 2)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "a", co.Current())
}

func TestExecute_ExhaustionWrapsTerminalError(t *testing.T) {
	nodes := map[string]*fakeNode{
		"http://a": newFakeNode(),
		"http://b": newFakeNode(),
	}
	co := NewCoordinator(testEndpoints(), testChainID, fakeDial(nodes))
	require.NoError(t, co.Start(context.Background()))
	defer co.Stop()

	boom := errors.New("dial tcp: connection refused")
	err := co.Execute(context.Background(), "op", func(ctx context.Context, node Node) error {
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllEndpointsFailed)
	assert.ErrorIs(t, err, boom)
}

func TestExecute_PermanentErrorStopsImmediately(t *testing.T) {
	nodes := map[string]*fakeNode{
		"http://a": newFakeNode(),
		"http://b": newFakeNode(),
	}
	co := NewCoordinator(testEndpoints(), testChainID, fakeDial(nodes))
	require.NoError(t, co.Start(context.Background()))
	defer co.Stop()

	calls := 0
	definite := domain.Permanent(errors.New("outcome already resolved"))
	err := co.Execute(context.Background(), "op", func(ctx context.Context, node Node) error {
		calls++
		return definite
	})

	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
	assert.Equal(t, 1, calls, "un resultado definitivo nunca se reintenta")
}

func TestCoordinator_StatusesInPriorityOrder(t *testing.T) {
	nodes := map[string]*fakeNode{
		"http://a": newFakeNode(),
		"http://b": newFakeNode(),
	}
	// declarados al revés de su prioridad
	eps := []domain.Endpoint{
		{URL: "http://b", Name: "b", Priority: 2, ConnectTimeout: time.Second},
		{URL: "http://a", Name: "a", Priority: 1, ConnectTimeout: time.Second},
	}
	co := NewCoordinator(eps, testChainID, fakeDial(nodes))
	require.NoError(t, co.Start(context.Background()))
	defer co.Stop()

	statuses := co.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].Name)
	assert.Equal(t, "b", statuses[1].Name)
	assert.True(t, statuses[0].Healthy)
}
