package magictunneld

import (
	"context"
	"errors"
	"fmt"

	"github.com/MagicBeansAI/magictunnel/internal/registry"
	"github.com/MagicBeansAI/magictunnel/internal/serverconfig"
)

// LintCmd loads the catalog files the config points at, reporting any
// parse or validation errors without starting a server. Useful in CI to
// catch a broken tool definition before it reaches production.
type LintCmd struct {
	Config string `short:"f" long:"config" description:"gateway config YAML/JSON path"`
}

func (l *LintCmd) Execute(_ []string) error {
	if l.Config == "" {
		return errors.New("lint: -f/--config is required")
	}
	cfg, err := serverconfig.Load(l.Config)
	if err != nil {
		return err
	}

	loader := registry.NewLoader(cfg.Registry.Roots, workersOrDefault(cfg.Registry.Workers))
	catalog := registry.New(loader, registry.VisibilitySettings{}, errBufOrDefault(cfg.Registry.ErrorBufferSize))
	snap, err := catalog.Reload(context.Background())
	if err != nil {
		return err
	}

	names := snap.VisibleNames()
	fmt.Printf("loaded %d visible tool(s)\n", len(names))
	for _, name := range names {
		fmt.Printf("  - %s\n", name)
	}

	select {
	case fe := <-catalog.Errors():
		return fmt.Errorf("catalog file %s: %w", fe.Path, fe.Err)
	default:
	}
	return nil
}
