package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
)

// ExportEnvConfig controls ExportEnvFile.
type ExportEnvConfig struct {
	OutputPath  string
	Environment string
	Params      *ParamStore
	Inventory   []BootstrapStep
	Stderr      io.Writer
}

// envFileMode keeps the exported secrets readable by the owner only.
const envFileMode = 0o600

// ExportEnvFile reads every inventory parameter back from SSM and writes
// them as a .env file for local runs, with APP_ENV=local so the loader does
// not try to resolve SSM pointers again. Missing optional parameters are
// left out; a missing required parameter is an error.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	env := map[string]string{
		"APP_ENV": "local",
	}

	for _, step := range cfg.Inventory {
		value, found, err := cfg.Params.Fetch(ctx, step)
		if err != nil {
			return err
		}
		if !found {
			if step.Optional {
				fmt.Fprintf(cfg.Stderr, "  Not set, omitted: %s\n", step.EnvVar)
				continue
			}
			return fmt.Errorf("required parameter %s is missing; run bootstrap for %s first", cfg.Params.Path(step), cfg.Environment)
		}
		env[step.EnvVar] = value
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding .env: %w", err)
	}
	if err := os.WriteFile(cfg.OutputPath, []byte(content+"\n"), envFileMode); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.OutputPath, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(cfg.OutputPath, envFileMode); err != nil {
		return fmt.Errorf("restricting %s: %w", cfg.OutputPath, err)
	}

	fmt.Fprintf(cfg.Stderr, "  Wrote %d variables to %s\n", len(env), cfg.OutputPath)
	return nil
}
