package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/deploy-runtime/errors"
)

// Byte buffers cross the guest boundary as (ptr, len) pairs allocated with
// interp_alloc and released with interp_free. Functions returning variable
// data pack the pair into one u64: ptr in the high 32 bits, len in the low.

func (e *Engine) writeBytes(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	res, err := e.fns.alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, errors.EngineFault("guest alloc", err)
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, errors.EngineFault(fmt.Sprintf("guest alloc of %d bytes returned null", len(data)), nil)
	}
	if !e.mod.Memory().Write(ptr, data) {
		return 0, errors.EngineFault(fmt.Sprintf("guest write out of bounds: ptr=%d len=%d", ptr, len(data)), nil)
	}
	return ptr, nil
}

func (e *Engine) freeBytes(ctx context.Context, ptr uint32, size int) {
	if ptr == 0 {
		return
	}
	if _, err := e.fns.free.Call(ctx, uint64(ptr), uint64(size)); err != nil {
		Logger().Warn("freeBytes: guest free failed",
			zap.Uint32("ptr", ptr),
			zap.Int("size", size),
			zap.Error(err))
	}
}

// readPacked copies a packed (ptr, len) buffer out of guest memory and
// releases the guest allocation. The returned slice is host-owned.
func (e *Engine) readPacked(ctx context.Context, packed uint64) ([]byte, error) {
	ptr := uint32(packed >> 32)
	size := uint32(packed)
	if size == 0 {
		return nil, nil
	}
	view, ok := e.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, errors.EngineFault(fmt.Sprintf("guest read out of bounds: ptr=%d len=%d", ptr, size), nil)
	}
	out := make([]byte, len(view))
	copy(out, view)
	e.freeBytes(ctx, ptr, int(size))
	return out, nil
}
