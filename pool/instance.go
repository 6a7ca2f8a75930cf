package pool

import (
	"context"

	"go.uber.org/zap"

	deployruntime "github.com/wippyai/deploy-runtime"
	"github.com/wippyai/deploy-runtime/image"
)

// Instance owns exactly one loaded runtime image and the engine running
// inside it. Instances are created by the pool at startup and destroyed at
// pool teardown.
type Instance struct {
	pool    *Pool
	library image.Library
	engine  deployruntime.Engine
	ordinal int
}

func newInstance(ctx context.Context, p *Pool, ordinal int, env Environment, o *Options) (*Instance, error) {
	payload, err := image.Find(o.ImageName, o.Images)
	if err != nil {
		return nil, err
	}

	lib, err := o.Provider.Open(ctx, payload, image.OpenOptions{
		PrivateScope: payload.PrivateScope,
		Backend:      o.Backend,
	})
	if err != nil {
		return nil, err
	}

	eng, err := lib.NewEngine(ctx, env.ExtraScriptPaths(), o.PluginPaths)
	if err != nil {
		lib.Close(ctx)
		return nil, err
	}

	inst := &Instance{
		pool:    p,
		library: lib,
		engine:  eng,
		ordinal: ordinal,
	}
	if err := env.ConfigureInstance(inst); err != nil {
		inst.close(ctx)
		return nil, err
	}
	return inst, nil
}

// Ordinal returns the instance's id within its pool.
func (i *Instance) Ordinal() int { return i.ordinal }

// Engine exposes the instance's engine. Callers normally go through a
// Session instead.
func (i *Instance) Engine() deployruntime.Engine { return i.engine }

// NewSession acquires a session pinned to this instance, bypassing the
// balancer. Pinned sessions hold no slot; they exist for sticky work that
// must land on a specific instance.
func (i *Instance) NewSession() *Session {
	return &Session{
		pool: i.pool,
		inst: i,
		slot: -1,
	}
}

// close destroys the engine, flushes the image, then unloads it. The
// order is a hard invariant: the engine must be gone before its library
// is. Failures are logged and swallowed.
func (i *Instance) close(ctx context.Context) {
	if i.engine != nil {
		if err := i.engine.Close(ctx); err != nil {
			i.pool.log.Warn("instance teardown: engine close failed",
				zap.Int("instance", i.ordinal),
				zap.Error(err))
		}
		i.engine = nil
	}
	if i.library != nil {
		if err := i.library.Flush(ctx); err != nil {
			i.pool.log.Warn("instance teardown: image flush failed",
				zap.Int("instance", i.ordinal),
				zap.Error(err))
		}
		if err := i.library.Close(ctx); err != nil {
			i.pool.log.Warn("instance teardown: image unload failed",
				zap.Int("instance", i.ordinal),
				zap.Error(err))
		}
		i.library = nil
	}
}
