package pool

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	deployruntime "github.com/wippyai/deploy-runtime"
	"github.com/wippyai/deploy-runtime/errors"
	"github.com/wippyai/deploy-runtime/image"
)

// Test double for the image/engine layers. It keeps the contract the pool
// relies on: per-engine object ownership, serialized snapshots via
// msgpack, and an id-keyed materialization cache with explicit eviction.

const testSection = ".deploy_payload.test"

var registerPayloadOnce sync.Once

func testCandidates() []image.Candidate {
	registerPayloadOnce.Do(func() {
		image.Register(testSection, []byte("test payload"))
	})
	return []image.Candidate{{Section: testSection, PrivateScope: true}}
}

type fakeProvider struct {
	mu      sync.Mutex
	opened  []*fakeLibrary
	openErr error
}

func (p *fakeProvider) Open(_ context.Context, payload *image.Payload, opts image.OpenOptions) (image.Library, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	lib := &fakeLibrary{payload: payload, opts: opts}
	p.opened = append(p.opened, lib)
	return lib, nil
}

type fakeLibrary struct {
	payload *image.Payload
	opts    image.OpenOptions
	engine  *fakeEngine
	flushed bool
	closed  bool
}

func (l *fakeLibrary) NewEngine(_ context.Context, extraPaths, pluginPaths []string) (deployruntime.Engine, error) {
	e := &fakeEngine{
		lib:         l,
		cache:       make(map[uint64]*fakeObj),
		extraPaths:  extraPaths,
		pluginPaths: pluginPaths,
	}
	e.version = e.newObj(map[string]any{})
	l.engine = e
	return e, nil
}

func (l *fakeLibrary) Flush(context.Context) error {
	l.flushed = true
	return nil
}

func (l *fakeLibrary) Close(context.Context) error {
	l.closed = true
	return nil
}

type fakeFn func(args []any) (any, error)

type fakeObj struct {
	eng *fakeEngine
	h   uint64
	val any
}

func (o *fakeObj) Handle() uint64 { return o.h }

type fakeEngine struct {
	mu          sync.Mutex
	lib         *fakeLibrary
	nextHandle  uint64
	version     *fakeObj
	cache       map[uint64]*fakeObj
	findModule  func(string) (string, bool)
	failUnload  bool
	unloaded    []uint64
	closed      bool
	extraPaths  []string
	pluginPaths []string
}

func (e *fakeEngine) newObj(val any) *fakeObj {
	e.nextHandle++
	return &fakeObj{eng: e, h: e.nextHandle, val: val}
}

func (e *fakeEngine) Global(_ context.Context, module, name string) (deployruntime.Obj, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if module == "runtime" && name == "version" {
		return e.version, nil
	}

	// Unknown modules resolve through the import hook, same as the real
	// engine falls back to registered source text.
	if e.findModule == nil {
		return nil, errors.NotFound(errors.PhaseEngine, "module", module)
	}
	if _, ok := e.findModule(module); !ok {
		return nil, errors.NotFound(errors.PhaseEngine, "module", module)
	}

	switch module + "." + name {
	case IntrospectModule + ".argument_names":
		return e.newObj(fakeFn(func(args []any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("argument_names: want 1 arg, got %d", len(args))
			}
			names, _ := args[0].([]any)
			if len(names) == 0 {
				return nil, nil
			}
			return names, nil
		})), nil
	case ImporterModule + ".load_pickle":
		return e.newObj(fakeFn(func(args []any) (any, error) {
			container, _ := args[0].([]byte)
			module, _ := args[1].(string)
			resource, _ := args[2].(string)
			zr, err := zip.NewReader(bytes.NewReader(container), int64(len(container)))
			if err != nil {
				return nil, err
			}
			f, err := zr.Open(module + "/" + resource)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			data, err := io.ReadAll(f)
			if err != nil {
				return nil, err
			}
			var v any
			if err := msgpack.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		})), nil
	}
	return nil, errors.NotFound(errors.PhaseEngine, "global", module+"."+name)
}

func (e *fakeEngine) Attr(_ context.Context, obj deployruntime.Obj, name string) (deployruntime.Obj, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := obj.(*fakeObj)
	attrs, ok := o.val.(map[string]any)
	if !ok {
		return nil, errors.NotFound(errors.PhaseEngine, "attribute", name)
	}
	v, ok := attrs[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseEngine, "attribute", name)
	}
	return e.newObj(v), nil
}

func (e *fakeEngine) SetAttr(_ context.Context, obj deployruntime.Obj, name string, value deployruntime.Obj) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	attrs, ok := obj.(*fakeObj).val.(map[string]any)
	if !ok {
		return errors.EngineFault("object has no attributes", nil)
	}
	attrs[name] = value.(*fakeObj).val
	return nil
}

func (e *fakeEngine) Call(_ context.Context, fn deployruntime.Obj, args ...deployruntime.Obj) (deployruntime.Obj, error) {
	e.mu.Lock()
	f, ok := fn.(*fakeObj).val.(fakeFn)
	e.mu.Unlock()
	if !ok {
		return nil, errors.EngineFault("object is not callable", nil)
	}
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a.(*fakeObj).val
	}
	res, err := f(vals)
	if err != nil {
		return nil, errors.EngineFault("call failed", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.newObj(res), nil
}

func (e *fakeEngine) FromValue(_ context.Context, value any) (deployruntime.Obj, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.newObj(value), nil
}

func (e *fakeEngine) ToValue(_ context.Context, obj deployruntime.Obj) (any, error) {
	return obj.(*fakeObj).val, nil
}

func (e *fakeEngine) Pickle(_ context.Context, obj deployruntime.Obj) ([]byte, error) {
	return msgpack.Marshal(obj.(*fakeObj).val)
}

func (e *fakeEngine) UnpickleOrGet(_ context.Context, id uint64, data []byte) (deployruntime.Obj, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.cache[id]; ok {
		return o, nil
	}
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, errors.EngineFault("unpickle failed", err)
	}
	o := e.newObj(v)
	e.cache[id] = o
	return o, nil
}

func (e *fakeEngine) Unload(_ context.Context, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failUnload {
		return errors.EngineFault("unload rejected", nil)
	}
	delete(e.cache, id)
	e.unloaded = append(e.unloaded, id)
	return nil
}

func (e *fakeEngine) Owns(obj deployruntime.Obj) bool {
	o, ok := obj.(*fakeObj)
	return ok && o.eng == e
}

func (e *fakeEngine) SetFindModule(fn func(string) (string, bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.findModule = fn
}

func (e *fakeEngine) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) cached(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cache[id]
	return ok
}

type quietEnv struct{ paths []string }

func (q quietEnv) ExtraScriptPaths() []string      { return q.paths }
func (quietEnv) ConfigureInstance(*Instance) error { return nil }

func newTestPool(t *testing.T, n int) (*Pool, *fakeProvider) {
	t.Helper()
	prov := &fakeProvider{}
	p, err := New(context.Background(), n, quietEnv{}, &Options{
		Images:   testCandidates(),
		Provider: prov,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close(context.Background()) })
	return p, prov
}

func fakeEngineOf(t *testing.T, inst *Instance) *fakeEngine {
	t.Helper()
	e, ok := inst.Engine().(*fakeEngine)
	if !ok {
		t.Fatalf("instance engine is %T, want *fakeEngine", inst.Engine())
	}
	return e
}

// buildContainer assembles a zip package with one msgpack-encoded entry.
func buildContainer(t *testing.T, module, resource string, value any) []byte {
	t.Helper()
	data, err := msgpack.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(module + "/" + resource)
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close container: %v", err)
	}
	return buf.Bytes()
}
