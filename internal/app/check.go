package app

import (
	"context"
	"time"
)

// Check runs a single evaluation cycle against the configured store.
func (a *App) Check(ctx context.Context) error {
	c, err := a.build(ctx, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.service.ProcessCycle(ctx, time.Now().UTC())
}
