package heap

// WeakRefPayload observes a target heap id's liveness generation. It holds
// no strong reference (ChildRefs is empty) so it never keeps its target
// alive; Cleared reports the target as cleared once the slot has been
// freed or reused for something else (spec §3 "A weak reference observes
// its target's liveness generation; if the slot was reused, the weak
// reference reports cleared.").
type WeakRefPayload struct {
	Target       ID
	TargetGen    uint32
	IsProxy      bool
	CallbackFunc *ID // optional callback, invoked (by the VM layer) on clear
}

func (w *WeakRefPayload) Kind() string { return "WeakRef" }

func (w *WeakRefPayload) ChildRefs() []ID {
	if w.CallbackFunc != nil {
		return []ID{*w.CallbackFunc}
	}
	return nil
}

// Cleared reports whether the weak reference's target is gone.
func (w *WeakRefPayload) Cleared(h *Heap) bool {
	_, live := h.GetIfLive(w.Target, w.TargetGen)
	return !live
}

// Deref returns the target's payload if still live under the observed
// generation.
func (w *WeakRefPayload) Deref(h *Heap) (Payload, bool) {
	return h.GetIfLive(w.Target, w.TargetGen)
}

// NewWeakRef builds a WeakRefPayload snapshot for target at its current
// generation. It does not increment target's refcount.
func NewWeakRef(h *Heap, target ID, isProxy bool) *WeakRefPayload {
	return &WeakRefPayload{Target: target, TargetGen: h.Generation(target), IsProxy: isProxy}
}
