package pool

import (
	"context"
	"testing"

	stderrors "errors"

	"github.com/wippyai/deploy-runtime/errors"
)

func TestSessionCallBridgesHostValues(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()
	if err := p.RegisterModuleSource("math_helpers", "def add(a, b): return a + b\n"); err != nil {
		t.Fatalf("register: %v", err)
	}

	s := p.AcquireOne()
	defer s.Close()

	// The fake engine resolves only the builtin modules; Global on a
	// registered-but-unknown name still proves the hook is consulted.
	if _, err := s.Global(ctx, "math_helpers", "add"); err == nil {
		t.Fatal("fake engine resolved an unknown global")
	}

	obj, err := s.FromValue(ctx, "hello")
	if err != nil {
		t.Fatalf("from value: %v", err)
	}
	val, err := obj.Value(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if val != "hello" {
		t.Fatalf("value = %v, want hello", val)
	}
}

func TestCreateMovableOutsidePool(t *testing.T) {
	s := &Session{inst: nil, slot: -1}

	_, err := s.CreateMovable(context.Background(), Obj{})
	if !stderrors.Is(err, errors.InvalidOperation("")) {
		t.Fatalf("err = %v, want session/invalid_operation", err)
	}
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("err is %T, want *errors.Error", err)
	}
	want := "cannot create a movable object outside a managed pool"
	if e.Detail != want {
		t.Fatalf("detail = %q, want %q", e.Detail, want)
	}
}

func TestCreateMovableRejectsForeignObjects(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()

	s0 := p.Instances()[0].NewSession()
	defer s0.Close()
	s1 := p.Instances()[1].NewSession()
	defer s1.Close()

	obj, err := s1.FromValue(ctx, int64(7))
	if err != nil {
		t.Fatalf("from value: %v", err)
	}
	_, err = s0.CreateMovable(ctx, obj)
	if !stderrors.Is(err, errors.CrossInstance("")) {
		t.Fatalf("err = %v, want session/cross_instance", err)
	}
}

func TestFromMovableDeduplicatesPerInstance(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()

	s := p.Instances()[0].NewSession()
	defer s.Close()
	obj, err := s.FromValue(ctx, map[string]any{"kind": "model"})
	if err != nil {
		t.Fatalf("from value: %v", err)
	}
	r, err := s.CreateMovable(ctx, obj)
	if err != nil {
		t.Fatalf("create movable: %v", err)
	}
	defer r.Release(ctx)

	first, err := s.FromMovable(ctx, r)
	if err != nil {
		t.Fatalf("from movable: %v", err)
	}
	second, err := s.FromMovable(ctx, r)
	if err != nil {
		t.Fatalf("from movable again: %v", err)
	}
	if first.Raw() != second.Raw() {
		t.Fatal("same instance materialized the object twice")
	}

	other := p.Instances()[1].NewSession()
	defer other.Close()
	across, err := other.FromMovable(ctx, r)
	if err != nil {
		t.Fatalf("from movable on other instance: %v", err)
	}
	if across.Raw() == first.Raw() {
		t.Fatal("materializations shared across instances")
	}
	val, err := across.Value(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	m, ok := val.(map[string]any)
	if !ok || m["kind"] != "model" {
		t.Fatalf("materialized value = %#v", val)
	}
}

func TestMoveObjectAcrossInstances(t *testing.T) {
	p, _ := newTestPool(t, 4)
	ctx := context.Background()

	src := p.Instances()[0].NewSession()
	defer src.Close()
	obj, err := src.FromValue(ctx, map[string]any{"weights": "v1"})
	if err != nil {
		t.Fatalf("from value: %v", err)
	}
	r, err := src.CreateMovable(ctx, obj)
	if err != nil {
		t.Fatalf("create movable: %v", err)
	}
	defer r.Release(ctx)

	dst, err := r.AcquireSession(ctx, p.Instances()[2])
	if err != nil {
		t.Fatalf("acquire session: %v", err)
	}
	defer dst.Close()

	if dst.Instance().Ordinal() != 2 {
		t.Fatalf("session landed on instance %d, want 2", dst.Instance().Ordinal())
	}
	if !dst.Instance().Engine().Owns(dst.Self.Raw()) {
		t.Fatal("Self does not live in the destination instance")
	}
	val, err := dst.Self.Value(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if m := val.(map[string]any); m["weights"] != "v1" {
		t.Fatalf("moved value = %#v", val)
	}
}

func TestUnloadThenRematerialize(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()

	s := p.Instances()[0].NewSession()
	defer s.Close()
	obj, err := s.FromValue(ctx, "payload")
	if err != nil {
		t.Fatalf("from value: %v", err)
	}
	r, err := s.CreateMovable(ctx, obj)
	if err != nil {
		t.Fatalf("create movable: %v", err)
	}
	defer r.Release(ctx)

	if _, err := s.FromMovable(ctx, r); err != nil {
		t.Fatalf("from movable: %v", err)
	}
	e := fakeEngineOf(t, p.Instances()[0])
	if !e.cached(r.ID()) {
		t.Fatal("object not cached after materialization")
	}

	r.Unload(ctx, nil)
	for i, inst := range p.Instances() {
		if fakeEngineOf(t, inst).cached(r.ID()) {
			t.Fatalf("instance %d still caches the object after unload", i)
		}
	}

	again, err := s.FromMovable(ctx, r)
	if err != nil {
		t.Fatalf("rematerialize: %v", err)
	}
	val, err := again.Value(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if val != "payload" {
		t.Fatalf("rematerialized value = %v", val)
	}
}

func TestSessionCloseFreesSlotOnce(t *testing.T) {
	p, _ := newTestPool(t, 1)

	s := p.AcquireOne()
	if got := p.Balancer().Users(0); got != 1 {
		t.Fatalf("users = %d after acquire, want 1", got)
	}
	s.Close()
	s.Close()
	if got := p.Balancer().Users(0); got != 0 {
		t.Fatalf("users = %d after double close, want 0", got)
	}
}
