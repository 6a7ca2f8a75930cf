package pool

import (
	"sync"

	"github.com/wippyai/deploy-runtime/errors"
)

// moduleRegistry maps logical module names to source text. Every
// instance's import hook consults it as a fallback when a module is not
// otherwise found. Append-only for the pool's lifetime: duplicate
// registration is rejected, since silently replacing source under an
// instance that already imported the module would make instances diverge.
type moduleRegistry struct {
	mu      sync.RWMutex
	sources map[string]string
}

func newModuleRegistry() *moduleRegistry {
	return &moduleRegistry{sources: make(map[string]string)}
}

func (r *moduleRegistry) register(name, src string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sources[name]; dup {
		return errors.DuplicateModule(name)
	}
	r.sources[name] = src
	return nil
}

func (r *moduleRegistry) lookup(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Built-in helper modules, registered on every pool.

// IntrospectModule resolves a callable's parameter names. Empty parameter
// lists come back as nil because the host-value bridge cannot distinguish
// an empty list from no result.
const IntrospectModule = "deploy_introspect"

const introspectSource = `from inspect import signature
from typing import Callable, Optional
def argument_names(function: Callable) -> Optional[list]:
    names = list(signature(function).parameters.keys())
    if len(names) == 0:
        return None
    return names
`

// ImporterModule unpickles a named resource out of a package container.
const ImporterModule = "deploy_package_importer"

const importerSource = `import io
import pickle
import zipfile
def load_pickle(container: bytes, module: str, resource: str):
    archive = zipfile.ZipFile(io.BytesIO(container))
    with archive.open(module + "/" + resource) as f:
        return pickle.load(f)
`
