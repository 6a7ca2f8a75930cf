package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

type engineCtxKey struct{}

// withEngine attaches the calling engine to the context so host functions
// invoked by the guest can resolve back to it. Required because guest
// modules are instantiated anonymously and a shared-scope runtime may host
// several engines.
func withEngine(ctx context.Context, e *Engine) context.Context {
	return context.WithValue(ctx, engineCtxKey{}, e)
}

func engineFromContext(ctx context.Context) *Engine {
	e, _ := ctx.Value(engineCtxKey{}).(*Engine)
	return e
}

// instantiateHost registers the deploy_host module on a runtime. Safe to
// call once per runtime; subsequent calls are no-ops.
func instantiateHost(ctx context.Context, rt wazero.Runtime) error {
	if rt.Module(HostModule) != nil {
		return nil
	}
	_, err := rt.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostFindModule),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		Export("find_module").
		Instantiate(ctx)
	return err
}

// hostFindModule implements find_module(namePtr, nameLen, retPtr) -> found.
// It consults the engine's module-resolution hook; on a hit it allocates a
// guest buffer for the source text and writes (srcPtr, srcLen) at retPtr.
// The guest owns the returned buffer.
func hostFindModule(ctx context.Context, mod api.Module, stack []uint64) {
	namePtr := uint32(stack[0])
	nameLen := uint32(stack[1])
	retPtr := uint32(stack[2])
	stack[0] = 0

	e := engineFromContext(ctx)
	if e == nil {
		return
	}

	nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
	if !ok {
		return
	}
	src, found := e.findModule(string(nameBytes))
	if !found {
		return
	}

	res, err := e.fns.alloc.Call(ctx, uint64(len(src)))
	if err != nil || uint32(res[0]) == 0 {
		return
	}
	srcPtr := uint32(res[0])
	if !mod.Memory().Write(srcPtr, []byte(src)) {
		return
	}
	if !mod.Memory().WriteUint32Le(retPtr, srcPtr) {
		return
	}
	if !mod.Memory().WriteUint32Le(retPtr+4, uint32(len(src))) {
		return
	}
	stack[0] = 1
}
