package fbgemm

import (
	"sync"
)

// deviceSlots is one device's descriptor workspace: a raw buffer holding one
// 128-byte slot per streaming multiprocessor, plus one live base pointer per
// slot. The encoded slot carries the shape fields and the fence word; the
// base pointer stays in Go-visible form so the output allocation remains
// reachable while a descriptor references it.
type deviceSlots struct {
	buf   DevicePtr
	bases []DevicePtr
}

// slot returns the raw descriptor slot owned by worker tidx.
func (ws *deviceSlots) slot(tidx int) []byte {
	return ws.buf.Byte()[tidx*descriptorSize : (tidx+1)*descriptorSize]
}

// descriptorWorkspace caches the on-device scratch buffer that holds one
// block-copy descriptor slot per streaming multiprocessor. The buffer is
// created lazily on a device's first grouped launch and kept alive for the
// process lifetime; each worker owns the disjoint slot at its own index and
// re-encodes it before use, so the buffer is safely reused across launches
// that do not overlap on the same stream.
var descriptorWorkspace struct {
	mu       sync.Mutex
	byDevice map[int]*deviceSlots
}

// deviceWorkspace returns the descriptor workspace for the context's device,
// allocating it on first use. The lock guards against duplicate allocation
// when concurrent launches hit a fresh device at the same time.
func deviceWorkspace(ctx *Context) (*deviceSlots, error) {
	descriptorWorkspace.mu.Lock()
	defer descriptorWorkspace.mu.Unlock()

	if descriptorWorkspace.byDevice == nil {
		descriptorWorkspace.byDevice = make(map[int]*deviceSlots)
	}
	if ws, ok := descriptorWorkspace.byDevice[ctx.device.ID]; ok {
		return ws, nil
	}

	buf, err := ctx.Malloc(ctx.device.NumSMs * descriptorSize)
	if err != nil {
		return nil, NewMemoryError("deviceWorkspace",
			"failed to allocate descriptor workspace", err)
	}
	ws := &deviceSlots{
		buf:   buf,
		bases: make([]DevicePtr, ctx.device.NumSMs),
	}
	descriptorWorkspace.byDevice[ctx.device.ID] = ws
	return ws, nil
}
