package cli

import (
	"fmt"
	"os"

	"github.com/conveyor-forge/conveyor/internal/config"
)

// loadAndValidateConfig loads a config file and validates it, printing
// every problem found to stderr.
func loadAndValidateConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, err
	}

	errs := config.Validate(cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, fmt.Errorf("%d validation error(s)", len(errs))
	}

	return cfg, nil
}

// loadConfigAndApp loads and validates the config at path and assembles
// the components it wires.
func loadConfigAndApp(path string) (*config.Config, *app, error) {
	cfg, err := loadAndValidateConfig(path)
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, a, nil
}
