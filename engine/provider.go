package engine

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"

	deployruntime "github.com/wippyai/deploy-runtime"
	"github.com/wippyai/deploy-runtime/errors"
	"github.com/wippyai/deploy-runtime/image"
)

// Provider opens runtime image payloads on wazero.
//
// A private-scope open gets a dedicated wazero runtime, so N opened copies
// of the same payload share no module namespace, no compiled state and no
// globals. Shared-scope opens reuse one process-wide runtime.
type Provider struct {
	mu     sync.Mutex
	shared wazero.Runtime
}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Open(ctx context.Context, payload *image.Payload, opts image.OpenOptions) (image.Library, error) {
	staged, err := image.Materialize(payload)
	if err != nil {
		return nil, err
	}

	cfg := runtimeConfig(opts.Backend, filepath.Dir(staged))

	var rt wazero.Runtime
	ownsRuntime := opts.PrivateScope
	if opts.PrivateScope {
		rt = wazero.NewRuntimeWithConfig(ctx, cfg)
	} else {
		p.mu.Lock()
		if p.shared == nil {
			p.shared = wazero.NewRuntimeWithConfig(ctx, cfg)
		}
		rt = p.shared
		p.mu.Unlock()
	}

	if err := instantiateHost(ctx, rt); err != nil {
		if ownsRuntime {
			rt.Close(ctx)
		}
		return nil, errors.OpenFailed("instantiate host module", err)
	}

	compiled, err := rt.CompileModule(ctx, payload.Data)
	if err != nil {
		if ownsRuntime {
			rt.Close(ctx)
		}
		// Propagate the backend's diagnostic string.
		return nil, errors.OpenFailed("open image "+staged, err)
	}

	return &library{
		runtime:     rt,
		compiled:    compiled,
		staged:      staged,
		ownsRuntime: ownsRuntime,
	}, nil
}

// runtimeConfig builds the wazero configuration for the selected loading
// backend, rooting the compilation cache in the payload's staging dir.
func runtimeConfig(backend image.Backend, cacheDir string) wazero.RuntimeConfig {
	var cfg wazero.RuntimeConfig
	if backend == image.BackendInterpreter {
		cfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		cfg = wazero.NewRuntimeConfig()
	}
	if cache, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
		cfg = cfg.WithCompilationCache(cache)
	}
	return cfg
}

// library is one opened copy of a payload.
type library struct {
	runtime     wazero.Runtime
	compiled    wazero.CompiledModule
	staged      string
	ownsRuntime bool
	eng         *Engine
}

func (l *library) NewEngine(ctx context.Context, extraPaths, pluginPaths []string) (deployruntime.Engine, error) {
	if l.eng != nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "image already produced an engine")
	}

	// Anonymous instantiation: named modules would collide when the same
	// payload is opened into a shared-scope runtime more than once.
	mod, err := l.runtime.InstantiateModule(ctx, l.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.OpenFailed("instantiate image "+l.staged, err)
	}

	eng, err := newEngine(ctx, mod, extraPaths, pluginPaths)
	if err != nil {
		mod.Close(ctx)
		return nil, err
	}
	l.eng = eng
	return eng, nil
}

func (l *library) Flush(ctx context.Context) error {
	if l.eng == nil || l.eng.fns.flush == nil {
		return nil
	}
	if _, err := l.eng.fns.flush.Call(ctx); err != nil {
		return errors.Teardown(-1, err)
	}
	return nil
}

func (l *library) Close(ctx context.Context) error {
	var firstErr error
	if l.eng != nil && l.eng.mod != nil {
		if err := l.eng.mod.Close(ctx); err != nil {
			firstErr = err
		}
		l.eng.mod = nil
		l.eng = nil
	}
	if l.compiled != nil {
		if err := l.compiled.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		l.compiled = nil
	}
	if l.ownsRuntime {
		if err := l.runtime.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
