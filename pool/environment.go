package pool

import (
	"os"
	"path/filepath"
)

// Environment supplies per-process interpreter configuration and lets the
// embedding application hook into each instance as it is created.
type Environment interface {
	// ExtraScriptPaths returns additional module search paths handed to
	// every instance's factory entry point.
	ExtraScriptPaths() []string
	// ConfigureInstance runs once per created instance, after the engine
	// is up and before the instance serves sessions.
	ConfigureInstance(inst *Instance) error
}

// ExtraPathsEnv lists extra script search paths for SystemEnvironment,
// separated by the platform list separator.
const ExtraPathsEnv = "DEPLOY_EXTRA_SCRIPT_PATHS"

// SystemEnvironment returns an Environment that reads search paths from
// ExtraPathsEnv and applies no per-instance configuration.
func SystemEnvironment() Environment {
	return systemEnvironment{}
}

type systemEnvironment struct{}

func (systemEnvironment) ExtraScriptPaths() []string {
	raw := os.Getenv(ExtraPathsEnv)
	if raw == "" {
		return nil
	}
	return filepath.SplitList(raw)
}

func (systemEnvironment) ConfigureInstance(*Instance) error { return nil }
