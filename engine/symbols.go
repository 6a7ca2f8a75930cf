package engine

// Entry-point symbols every interpreter payload exports. The factory and
// object-graph operations are required; bind-self and flush are optional
// hooks for images that register process-wide state.
const (
	symNew       = "interp_new"
	symDestroy   = "interp_destroy"
	symBindSelf  = "interp_bind_self"
	symFlush     = "interp_flush"
	symGlobal    = "interp_global"
	symAttr      = "interp_attr"
	symSetAttr   = "interp_set_attr"
	symCall      = "interp_call"
	symFromValue = "interp_from_value"
	symToValue   = "interp_to_value"
	symPickle    = "interp_pickle"
	symUnpickle  = "interp_unpickle_or_get"
	symUnload    = "interp_unload"
	symLastError = "interp_last_error"
	symAlloc     = "interp_alloc"
	symFree      = "interp_free"
)

// HostModule is the name the host-side import surface is instantiated
// under. Payloads import exactly one function from it: find_module, the
// module-resolution fallback.
const HostModule = "deploy_host"
