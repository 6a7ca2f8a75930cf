package image

import (
	"os"
	"sync"

	"github.com/wippyai/deploy-runtime/errors"
)

// Candidate names one payload variant of a runtime image: the binary
// segment the payload bytes are embedded under, the symbol pair delimiting
// it in the original link layout, and whether the variant must be opened
// with a private symbol-resolution scope.
type Candidate struct {
	Section      string
	StartSymbol  string
	EndSymbol    string
	PrivateScope bool
}

// DefaultCandidates is the ordered variant list for the interpreter image.
// The first variant present in the payload registry wins.
var DefaultCandidates = []Candidate{
	{
		Section:      ".deploy_payload.interpreter_all",
		StartSymbol:  "_binary_deploy_interpreter_all_start",
		EndSymbol:    "_binary_deploy_interpreter_all_end",
		PrivateScope: true,
	},
	{
		Section:      ".deploy_payload.interpreter_gpu",
		StartSymbol:  "_binary_deploy_interpreter_gpu_start",
		EndSymbol:    "_binary_deploy_interpreter_gpu_end",
		PrivateScope: false,
	},
	{
		Section:      ".deploy_payload.interpreter_cpu",
		StartSymbol:  "_binary_deploy_interpreter_cpu_start",
		EndSymbol:    "_binary_deploy_interpreter_cpu_end",
		PrivateScope: false,
	},
	{
		Section:      ".deploy_payload.interpreter_vendor",
		StartSymbol:  "_binary_deploy_interpreter_vendor_start",
		EndSymbol:    "_binary_deploy_interpreter_vendor_end",
		PrivateScope: false,
	},
}

// PayloadPathEnv overrides payload discovery with a file on disk. It is
// checked after the in-process registry, so an embedded payload always
// wins over the environment.
const PayloadPathEnv = "DEPLOY_INTERPRETER_PAYLOAD"

// Payload is the chosen variant of an image: immutable bytes plus the load
// mode the variant requires. One Payload is chosen per process run.
type Payload struct {
	Name         string
	Section      string
	Data         []byte
	PrivateScope bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string][]byte)
)

// Register publishes embedded payload bytes under a section name. Build
// variants call Register from init so that Find can pick the first present
// candidate. Registering the same section twice is a packaging defect and
// panics.
func Register(section string, data []byte) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[section]; dup {
		panic("image: payload section registered twice: " + section)
	}
	registry[section] = data
}

// Registered reports whether a payload is present for section.
func Registered(section string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[section]
	return ok
}

// reset clears the registry. Tests only.
func reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string][]byte)
}

// Find locates the first present payload variant among candidates, in
// order. When no candidate section is registered it falls back to the
// PayloadPathEnv file. Returns a payload_missing load error when nothing
// is present.
func Find(name string, candidates []Candidate) (*Payload, error) {
	registryMu.RLock()
	for _, c := range candidates {
		if data, ok := registry[c.Section]; ok {
			registryMu.RUnlock()
			return &Payload{
				Name:         name,
				Section:      c.Section,
				Data:         data,
				PrivateScope: c.PrivateScope,
			}, nil
		}
	}
	registryMu.RUnlock()

	if path := os.Getenv(PayloadPathEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.OpenFailed("read payload override "+path, err)
		}
		return &Payload{
			Name:         name,
			Section:      "env:" + path,
			Data:         data,
			PrivateScope: true,
		}, nil
	}

	sections := make([]string, len(candidates))
	for i, c := range candidates {
		sections[i] = c.Section
	}
	return nil, errors.PayloadMissing(name, sections)
}
