package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"github.com/vmihailenco/msgpack/v5"

	deployruntime "github.com/wippyai/deploy-runtime"
	"github.com/wippyai/deploy-runtime/errors"
)

// Engine is one isolated interpreter instance running inside a loaded
// image. All calls are serialized by the engine's internal lock; this is
// the exclusion mechanism the pool's balancer relies on.
type Engine struct {
	mu       sync.Mutex
	mod      api.Module
	fns      entryPoints
	handle   uint64 // opaque engine pointer returned by the factory
	resolver moduleResolver
	closed   bool
}

type entryPoints struct {
	destroy       api.Function
	global        api.Function
	attr          api.Function
	setAttr       api.Function
	call          api.Function
	fromValue     api.Function
	toValue       api.Function
	pickle        api.Function
	unpickleOrGet api.Function
	unload        api.Function
	lastError     api.Function
	alloc         api.Function
	free          api.Function
	flush         api.Function // optional
}

type moduleResolver struct {
	mu sync.RWMutex
	fn func(name string) (string, bool)
}

// bootstrapArgs is the factory entry point's argument block.
type bootstrapArgs struct {
	Paths   []string `msgpack:"paths"`
	Plugins []string `msgpack:"plugins"`
}

// obj is an engine-owned object handle.
type obj struct {
	eng *Engine
	h   uint64
}

func (o *obj) Handle() uint64 { return o.h }

func newEngine(ctx context.Context, mod api.Module, extraPaths, pluginPaths []string) (*Engine, error) {
	e := &Engine{mod: mod}

	required := []struct {
		name string
		dst  *api.Function
	}{
		{symDestroy, &e.fns.destroy},
		{symGlobal, &e.fns.global},
		{symAttr, &e.fns.attr},
		{symSetAttr, &e.fns.setAttr},
		{symCall, &e.fns.call},
		{symFromValue, &e.fns.fromValue},
		{symToValue, &e.fns.toValue},
		{symPickle, &e.fns.pickle},
		{symUnpickle, &e.fns.unpickleOrGet},
		{symUnload, &e.fns.unload},
		{symLastError, &e.fns.lastError},
		{symAlloc, &e.fns.alloc},
		{symFree, &e.fns.free},
	}

	factory := mod.ExportedFunction(symNew)
	if factory == nil {
		return nil, errors.SymbolMissing(symNew)
	}
	for _, r := range required {
		fn := mod.ExportedFunction(r.name)
		if fn == nil {
			return nil, errors.SymbolMissing(r.name)
		}
		*r.dst = fn
	}
	e.fns.flush = mod.ExportedFunction(symFlush)

	ctx = withEngine(ctx, e)

	// Bind-self runs once, before any other use, handing the image its
	// own handle for self-referential symbol resolution.
	if bindSelf := mod.ExportedFunction(symBindSelf); bindSelf != nil {
		if _, err := bindSelf.Call(ctx); err != nil {
			return nil, errors.OpenFailed("bind image", err)
		}
	}

	args, err := msgpack.Marshal(bootstrapArgs{Paths: extraPaths, Plugins: pluginPaths})
	if err != nil {
		return nil, errors.EngineFault("encode bootstrap args", err)
	}
	ptr, err := e.writeBytes(ctx, args)
	if err != nil {
		return nil, err
	}
	res, err := factory.Call(ctx, uint64(ptr), uint64(len(args)))
	e.freeBytes(ctx, ptr, len(args))
	if err != nil {
		return nil, errors.OpenFailed("start engine", err)
	}
	if res[0] == 0 {
		return nil, errors.EngineFault("start engine", e.takeLastError(ctx))
	}
	e.handle = res[0]
	return e, nil
}

func (e *Engine) Global(ctx context.Context, module, name string) (deployruntime.Obj, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed("engine")
	}
	ctx = withEngine(ctx, e)

	mPtr, err := e.writeBytes(ctx, []byte(module))
	if err != nil {
		return nil, err
	}
	defer e.freeBytes(ctx, mPtr, len(module))
	nPtr, err := e.writeBytes(ctx, []byte(name))
	if err != nil {
		return nil, err
	}
	defer e.freeBytes(ctx, nPtr, len(name))

	res, err := e.fns.global.Call(ctx, e.handle,
		uint64(mPtr), uint64(len(module)), uint64(nPtr), uint64(len(name)))
	if err != nil {
		return nil, errors.EngineFault(fmt.Sprintf("global %s.%s", module, name), err)
	}
	if res[0] == 0 {
		return nil, errors.EngineFault(fmt.Sprintf("global %s.%s", module, name), e.takeLastError(ctx))
	}
	return &obj{eng: e, h: res[0]}, nil
}

func (e *Engine) Attr(ctx context.Context, target deployruntime.Obj, name string) (deployruntime.Obj, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed("engine")
	}
	o, err := e.own(target)
	if err != nil {
		return nil, err
	}
	ctx = withEngine(ctx, e)

	nPtr, err := e.writeBytes(ctx, []byte(name))
	if err != nil {
		return nil, err
	}
	defer e.freeBytes(ctx, nPtr, len(name))

	res, err := e.fns.attr.Call(ctx, e.handle, o.h, uint64(nPtr), uint64(len(name)))
	if err != nil {
		return nil, errors.EngineFault("attr "+name, err)
	}
	if res[0] == 0 {
		return nil, errors.EngineFault("attr "+name, e.takeLastError(ctx))
	}
	return &obj{eng: e, h: res[0]}, nil
}

func (e *Engine) SetAttr(ctx context.Context, target deployruntime.Obj, name string, value deployruntime.Obj) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.Closed("engine")
	}
	o, err := e.own(target)
	if err != nil {
		return err
	}
	v, err := e.own(value)
	if err != nil {
		return err
	}
	ctx = withEngine(ctx, e)

	nPtr, err := e.writeBytes(ctx, []byte(name))
	if err != nil {
		return err
	}
	defer e.freeBytes(ctx, nPtr, len(name))

	res, err := e.fns.setAttr.Call(ctx, e.handle, o.h, uint64(nPtr), uint64(len(name)), v.h)
	if err != nil {
		return errors.EngineFault("set attr "+name, err)
	}
	if res[0] == 0 {
		return errors.EngineFault("set attr "+name, e.takeLastError(ctx))
	}
	return nil
}

func (e *Engine) Call(ctx context.Context, fn deployruntime.Obj, args ...deployruntime.Obj) (deployruntime.Obj, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed("engine")
	}
	f, err := e.own(fn)
	if err != nil {
		return nil, err
	}
	argv := make([]uint64, len(args))
	for i, a := range args {
		ao, err := e.own(a)
		if err != nil {
			return nil, err
		}
		argv[i] = ao.h
	}
	ctx = withEngine(ctx, e)

	encoded, err := msgpack.Marshal(argv)
	if err != nil {
		return nil, errors.EngineFault("encode argv", err)
	}
	ptr, err := e.writeBytes(ctx, encoded)
	if err != nil {
		return nil, err
	}
	defer e.freeBytes(ctx, ptr, len(encoded))

	res, err := e.fns.call.Call(ctx, e.handle, f.h, uint64(ptr), uint64(len(encoded)))
	if err != nil {
		return nil, errors.EngineFault("call", err)
	}
	if res[0] == 0 {
		return nil, errors.EngineFault("call", e.takeLastError(ctx))
	}
	return &obj{eng: e, h: res[0]}, nil
}

func (e *Engine) FromValue(ctx context.Context, value any) (deployruntime.Obj, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed("engine")
	}
	ctx = withEngine(ctx, e)

	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return nil, errors.EngineFault("encode value", err)
	}
	ptr, err := e.writeBytes(ctx, encoded)
	if err != nil {
		return nil, err
	}
	defer e.freeBytes(ctx, ptr, len(encoded))

	res, err := e.fns.fromValue.Call(ctx, e.handle, uint64(ptr), uint64(len(encoded)))
	if err != nil {
		return nil, errors.EngineFault("from value", err)
	}
	if res[0] == 0 {
		return nil, errors.EngineFault("from value", e.takeLastError(ctx))
	}
	return &obj{eng: e, h: res[0]}, nil
}

func (e *Engine) ToValue(ctx context.Context, target deployruntime.Obj) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed("engine")
	}
	o, err := e.own(target)
	if err != nil {
		return nil, err
	}
	ctx = withEngine(ctx, e)

	res, err := e.fns.toValue.Call(ctx, e.handle, o.h)
	if err != nil {
		return nil, errors.EngineFault("to value", err)
	}
	data, err := e.readPacked(ctx, res[0])
	if err != nil {
		return nil, err
	}
	var value any
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return nil, errors.EngineFault("decode value", err)
	}
	return value, nil
}

func (e *Engine) Pickle(ctx context.Context, target deployruntime.Obj) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed("engine")
	}
	o, err := e.own(target)
	if err != nil {
		return nil, err
	}
	ctx = withEngine(ctx, e)

	res, err := e.fns.pickle.Call(ctx, e.handle, o.h)
	if err != nil {
		return nil, errors.EngineFault("pickle", err)
	}
	if res[0] == 0 {
		return nil, errors.EngineFault("pickle", e.takeLastError(ctx))
	}
	return e.readPacked(ctx, res[0])
}

func (e *Engine) UnpickleOrGet(ctx context.Context, id uint64, data []byte) (deployruntime.Obj, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed("engine")
	}
	ctx = withEngine(ctx, e)

	ptr, err := e.writeBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	defer e.freeBytes(ctx, ptr, len(data))

	res, err := e.fns.unpickleOrGet.Call(ctx, e.handle, id, uint64(ptr), uint64(len(data)))
	if err != nil {
		return nil, errors.EngineFault("unpickle", err)
	}
	if res[0] == 0 {
		return nil, errors.EngineFault("unpickle", e.takeLastError(ctx))
	}
	return &obj{eng: e, h: res[0]}, nil
}

func (e *Engine) Unload(ctx context.Context, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.Closed("engine")
	}
	ctx = withEngine(ctx, e)

	res, err := e.fns.unload.Call(ctx, e.handle, id)
	if err != nil {
		return errors.EngineFault("unload", err)
	}
	if res[0] == 0 {
		return errors.EngineFault("unload", e.takeLastError(ctx))
	}
	return nil
}

func (e *Engine) Owns(target deployruntime.Obj) bool {
	o, ok := target.(*obj)
	return ok && o.eng == e
}

func (e *Engine) SetFindModule(fn func(name string) (string, bool)) {
	e.resolver.mu.Lock()
	e.resolver.fn = fn
	e.resolver.mu.Unlock()
}

func (e *Engine) findModule(name string) (string, bool) {
	e.resolver.mu.RLock()
	fn := e.resolver.fn
	e.resolver.mu.RUnlock()
	if fn == nil {
		return "", false
	}
	return fn(name)
}

// Close destroys the engine handle. It runs before the owning image is
// flushed and unloaded.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.handle == 0 {
		return nil
	}
	ctx = withEngine(ctx, e)
	_, err := e.fns.destroy.Call(ctx, e.handle)
	e.handle = 0
	if err != nil {
		return errors.Teardown(-1, err)
	}
	return nil
}

// own asserts that target lives in this engine.
func (e *Engine) own(target deployruntime.Obj) (*obj, error) {
	o, ok := target.(*obj)
	if !ok || o.eng != e {
		return nil, errors.CrossInstance("object lives in a different engine")
	}
	return o, nil
}

// takeLastError fetches the engine's pending diagnostic, if any.
func (e *Engine) takeLastError(ctx context.Context) error {
	res, err := e.fns.lastError.Call(ctx, e.handle)
	if err != nil || res[0] == 0 {
		return nil
	}
	msg, err := e.readPacked(ctx, res[0])
	if err != nil || len(msg) == 0 {
		return nil
	}
	return fmt.Errorf("%s", msg)
}
