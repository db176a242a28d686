package loader

import (
	"fmt"

	"reach/internal/compartment"
	"reach/internal/kernel"
	"reach/internal/trust"
)

// CapImpl supplies the host-side implementations a capability delegates
// to once the kernel has allowed the request. A nil implementation is a
// capability the host mediates but has no effectful backend for; an
// allowed call against it resolves to an empty value.
type CapImpl struct {
	NetFetch     func(args map[string]any) (map[string]any, []trust.Reason)
	StorageRead  func(args map[string]any) (map[string]any, []trust.Reason)
	StorageWrite func(args map[string]any) (map[string]any, []trust.Reason)
}

// KernelCaps wraps impl in the capability kernel: every call a block
// makes through the returned Caps is adjudicated by kernel.HandleInvoke
// against params first, and only an allowed request reaches the host
// implementation. The request's envelope fields are stamped from params
// by the closure itself, so a block can never supply its own.
func KernelCaps(params kernel.Params, impl CapImpl) compartment.Caps {
	var seq int
	gate := func(capID string, delegate func(map[string]any) (map[string]any, []trust.Reason)) func(map[string]any) (map[string]any, []trust.Reason) {
		return func(args map[string]any) (map[string]any, []trust.Reason) {
			seq++
			req := kernel.Request{
				ReqID:           fmt.Sprintf("req-%d", seq),
				CapID:           capID,
				ExecutionMode:   params.ExecutionMode,
				PlanDigest:      params.PlanDigest,
				SessionNonce:    params.SessionNonce,
				CallerBlockHash: params.CallerBlockHash,
				Args:            args,
			}
			decision := kernel.HandleInvoke(params, req)
			if !decision.OK {
				return nil, decision.Reasons
			}
			if delegate == nil {
				return nil, nil
			}
			return delegate(args)
		}
	}
	return compartment.Caps{
		NetFetch:     gate("net.fetch", impl.NetFetch),
		StorageRead:  gate("storage.read", impl.StorageRead),
		StorageWrite: gate("storage.write", impl.StorageWrite),
	}
}
