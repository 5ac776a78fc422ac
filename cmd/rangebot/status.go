package main

// status.go — subcomando de diagnóstico: sondea los endpoints RPC y vuelca
// el estado persistido de las instancias en tablas.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/rangebot/config"
	"github.com/alejandrodnm/rangebot/internal/adapters/chain"
	"github.com/alejandrodnm/rangebot/internal/adapters/notify"
	"github.com/alejandrodnm/rangebot/internal/adapters/storage"
	"github.com/alejandrodnm/rangebot/internal/domain"
)

func runStatus(ctx context.Context, cfg *config.Config) error {
	console := notify.NewConsole()

	co := chain.NewCoordinator(cfg.DomainEndpoints(), cfg.Chain.ID, nil)
	if err := co.Start(ctx); err != nil {
		// sin endpoints vivos sigue habiendo tabla: cada fila lleva su error
		slog.Warn("no rpc endpoint reachable", "err", err)
	} else {
		defer co.Stop()
	}

	fmt.Println("RPC endpoints:")
	console.PrintEndpoints(co.Statuses())

	store, err := storage.NewStateFile(cfg.Storage.StatePath, cfg.Storage.BackupsDir)
	if err != nil {
		return err
	}
	state, err := store.Load(ctx)
	if err != nil {
		return err
	}

	instances := make([]*domain.StrategyInstance, 0, len(state))
	for _, inst := range state {
		instances = append(instances, inst)
	}

	fmt.Println("\nInstances:")
	console.PrintInstances(instances)
	return nil
}
