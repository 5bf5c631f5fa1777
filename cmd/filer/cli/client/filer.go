package client

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/filer/internal/agent"
	"github.com/mwantia/filer/pkg/filer"

	config "github.com/mwantia/filer/internal/config/server"
)

// withFiler runs fn against a short lived agent built from the active
// configuration.
func withFiler(ctx context.Context, fn func(context.Context, *filer.Filer) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}

	a := agent.NewAgent(cfg)
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Close(shutdown)
	}()

	if err := a.Setup(ctx); err != nil {
		return err
	}

	f, err := a.Filer()
	if err != nil {
		return err
	}
	return fn(ctx, f)
}
