package pool

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/deploy-runtime/engine"
	"github.com/wippyai/deploy-runtime/errors"
	"github.com/wippyai/deploy-runtime/image"
)

// DisableDeadlockDetectionEnv turns off the hosted runtime's
// single-instance deadlock detector, which misfires when several
// independent instances run in one process. Process-wide state: set once
// at pool construction when absent, never reset. A caller-supplied value
// is left untouched.
const DisableDeadlockDetectionEnv = "DEPLOY_DISABLE_DEADLOCK_DETECTION"

// Options configure pool construction. The zero value selects the default
// image candidates, the wazero provider, and a no-op logger.
type Options struct {
	// ImageName names the runtime image; used for staged payload files
	// and diagnostics. Defaults to "interpreter".
	ImageName string
	// Images is the ordered payload variant candidate list. Defaults to
	// image.DefaultCandidates.
	Images []image.Candidate
	// Provider opens payloads. Defaults to engine.NewProvider().
	Provider image.Provider
	// Backend selects the provider's loading primitive.
	Backend image.Backend
	// PluginPaths are handed to every instance's factory entry point.
	PluginPaths []string
	Logger      *zap.Logger
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.ImageName == "" {
		out.ImageName = "interpreter"
	}
	if out.Images == nil {
		out.Images = image.DefaultCandidates
	}
	if out.Provider == nil {
		out.Provider = engine.NewProvider()
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}

// Pool owns a fixed set of isolated runtime instances and balances
// sessions across them. Safe for concurrent use.
type Pool struct {
	log          *zap.Logger
	env          Environment
	balancer     *LoadBalancer
	registry     *moduleRegistry
	instances    []*Instance
	nextObjectID atomic.Uint64
	closed       atomic.Bool
}

// New creates a pool of n instances. Each instance is booted
// synchronously: its payload is located and opened, its engine started,
// its ordinal id tagged into the runtime so script-level code can make
// id-based placement decisions, and the shared module-resolution hook
// installed. Load and resolve failures abort construction.
func New(ctx context.Context, n int, env Environment, opts *Options) (*Pool, error) {
	if n < 1 {
		return nil, errors.InvalidInput(errors.PhasePool, "instance count must be at least 1")
	}
	if env == nil {
		env = SystemEnvironment()
	}
	o := opts.withDefaults()

	setenvIfAbsent(DisableDeadlockDetectionEnv, "1")

	p := &Pool{
		log:      o.Logger,
		env:      env,
		balancer: NewLoadBalancer(n),
		registry: newModuleRegistry(),
	}

	for i := 0; i < n; i++ {
		inst, err := newInstance(ctx, p, i, env, o)
		if err != nil {
			p.Close(ctx)
			return nil, err
		}
		p.instances = append(p.instances, inst)
		if err := p.bootstrap(ctx, inst); err != nil {
			p.Close(ctx)
			return nil, err
		}
	}

	// Pre-registered helper modules; the registry is empty here, so
	// registration cannot collide.
	p.registry.register(IntrospectModule, introspectSource)
	p.registry.register(ImporterModule, importerSource)

	return p, nil
}

// bootstrap tags the instance with its ordinal id and wires the shared
// module-source lookup into its import hook.
func (p *Pool) bootstrap(ctx context.Context, inst *Instance) error {
	s := inst.NewSession()
	defer s.Close()

	version, err := s.Global(ctx, "runtime", "version")
	if err != nil {
		return errors.New(errors.PhasePool, errors.KindEngineFault).
			Instance(inst.ordinal).
			Detail("tag instance ordinal").
			Cause(err).
			Build()
	}
	idObj, err := inst.engine.FromValue(ctx, int64(inst.ordinal))
	if err != nil {
		return err
	}
	if err := inst.engine.SetAttr(ctx, version.raw, "instance", idObj); err != nil {
		return err
	}

	inst.engine.SetFindModule(p.registry.lookup)
	return nil
}

// AcquireOne hands out a session on a balanced instance pick.
func (p *Pool) AcquireOne() *Session {
	idx := p.balancer.Acquire()
	return &Session{
		pool: p,
		inst: p.instances[idx],
		slot: idx,
	}
}

// RegisterModuleSource publishes module source text to every instance's
// import hook. Registering a name twice fails with a duplicate_module
// error.
func (p *Pool) RegisterModuleSource(name, src string) error {
	return p.registry.register(name, src)
}

// Instances exposes the pool's instances in ordinal order, for pinned
// sessions and explicit placement.
func (p *Pool) Instances() []*Instance {
	return p.instances
}

// Balancer exposes the pool's load balancer for observation.
func (p *Pool) Balancer() *LoadBalancer {
	return p.balancer
}

// Closed reports whether Close has begun.
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Close tears down all instances in reverse creation order. Teardown
// failures are logged and swallowed: destruction must complete even when
// individual engines misbehave.
func (p *Pool) Close(ctx context.Context) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for i := len(p.instances) - 1; i >= 0; i-- {
		p.instances[i].close(ctx)
	}
}

func (p *Pool) nextID() uint64 {
	return p.nextObjectID.Add(1)
}

func setenvIfAbsent(key, value string) {
	if _, present := os.LookupEnv(key); !present {
		os.Setenv(key, value)
	}
}
