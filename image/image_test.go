package image

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	stderrors "errors"

	"github.com/wippyai/deploy-runtime/errors"
)

func TestFindPicksFirstPresentCandidate(t *testing.T) {
	reset()
	t.Cleanup(reset)

	Register(DefaultCandidates[2].Section, []byte("cpu"))
	Register(DefaultCandidates[1].Section, []byte("gpu"))

	p, err := Find("interpreter", DefaultCandidates)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.Section != DefaultCandidates[1].Section {
		t.Fatalf("picked %s, want %s", p.Section, DefaultCandidates[1].Section)
	}
	if string(p.Data) != "gpu" {
		t.Fatalf("data = %q", p.Data)
	}
	if p.PrivateScope {
		t.Fatal("gpu variant must not request a private scope")
	}
}

func TestFindPrivateScopeVariant(t *testing.T) {
	reset()
	t.Cleanup(reset)

	Register(DefaultCandidates[0].Section, []byte("all"))

	p, err := Find("interpreter", DefaultCandidates)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !p.PrivateScope {
		t.Fatal("self-contained variant must request a private scope")
	}
}

func TestFindReportsSearchedSections(t *testing.T) {
	reset()
	t.Cleanup(reset)
	t.Setenv(PayloadPathEnv, "")

	_, err := Find("interpreter", DefaultCandidates)
	if !stderrors.Is(err, errors.PayloadMissing("", nil)) {
		t.Fatalf("err = %v, want load/payload_missing", err)
	}
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("err is %T", err)
	}
	for _, c := range DefaultCandidates {
		if !strings.Contains(e.Detail, c.Section) {
			t.Fatalf("detail %q does not name %s", e.Detail, c.Section)
		}
	}
}

func TestFindEnvOverride(t *testing.T) {
	reset()
	t.Cleanup(reset)

	path := filepath.Join(t.TempDir(), "payload.img")
	if err := os.WriteFile(path, []byte("from disk"), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	t.Setenv(PayloadPathEnv, path)

	p, err := Find("interpreter", DefaultCandidates)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if string(p.Data) != "from disk" {
		t.Fatalf("data = %q", p.Data)
	}
	if !p.PrivateScope {
		t.Fatal("env payloads must load with a private scope")
	}
}

func TestFindRegistryBeatsEnv(t *testing.T) {
	reset()
	t.Cleanup(reset)

	path := filepath.Join(t.TempDir(), "payload.img")
	if err := os.WriteFile(path, []byte("from disk"), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	t.Setenv(PayloadPathEnv, path)
	Register(DefaultCandidates[0].Section, []byte("embedded"))

	p, err := Find("interpreter", DefaultCandidates)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if string(p.Data) != "embedded" {
		t.Fatalf("data = %q, embedded payload must win", p.Data)
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	reset()
	t.Cleanup(reset)

	Register(".deploy_payload.dup", []byte("a"))
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register did not panic")
		}
	}()
	Register(".deploy_payload.dup", []byte("b"))
}

func TestMaterializeIsIdempotent(t *testing.T) {
	p := &Payload{Name: "testimage", Data: []byte("payload bytes")}

	first, err := Materialize(p)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	t.Cleanup(func() { os.Remove(first) })

	fi1, err := os.Stat(first)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	second, err := Materialize(p)
	if err != nil {
		t.Fatalf("materialize again: %v", err)
	}
	if second != first {
		t.Fatalf("paths differ: %s vs %s", first, second)
	}
	fi2, err := os.Stat(second)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !fi1.ModTime().Equal(fi2.ModTime()) {
		t.Fatal("second materialize rewrote the staged file")
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read staged: %v", err)
	}
	if string(data) != "payload bytes" {
		t.Fatalf("staged bytes = %q", data)
	}
}

func TestMaterializeDistinguishesContent(t *testing.T) {
	a, err := Materialize(&Payload{Name: "testimage", Data: []byte("one")})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	t.Cleanup(func() { os.Remove(a) })
	b, err := Materialize(&Payload{Name: "testimage", Data: []byte("two")})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	t.Cleanup(func() { os.Remove(b) })

	if a == b {
		t.Fatal("different payload bytes staged to the same path")
	}
}
