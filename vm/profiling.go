package vm

import (
	"fmt"

	"github.com/parcadei/pyrt/opcodes"
)

// DebugLevel bitmasks which profiling/tracing facilities are active,
// mirroring the teacher's profiling-level flags used to gate per-step
// overhead in the hot dispatch loop.
type DebugLevel uint8

const (
	DebugOff DebugLevel = 0
	DebugOpcodeCounts DebugLevel = 1 << iota
	DebugHotFrames
	DebugTrace
)

func (d DebugLevel) has(flag DebugLevel) bool { return d&flag != 0 }

// stepRecord is one entry in the trace ring buffer, populated only when
// DebugTrace is enabled.
type stepRecord struct {
	FuncName string
	IP       int
	Op       opcodes.Opcode
}

// Profiler is the VM's opt-in instrumentation surface: opcode execution
// counts, a hot-frame tally, and a bounded trace ring buffer. Disabled
// (DebugOff) it costs one branch per step.
type Profiler struct {
	levels DebugLevel

	opcodeCounts [256]uint64 // indexed by opcodes.Opcode, a byte
	frameSteps   map[string]uint64

	ring    []stepRecord
	ringCap int
	ringPos int
}

// NewProfiler constructs a Profiler with the given active levels; a
// DebugOff profiler still exists (so callers need not nil-check) but
// RecordStep is then a no-op.
func NewProfiler(levels DebugLevel) *Profiler {
	return &Profiler{
		levels:     levels,
		frameSteps: make(map[string]uint64),
		ringCap:    1024,
	}
}

// RecordStep is called once per dispatched instruction; each facility it
// updates is gated on its own bit so an idle profiler costs almost nothing.
func (p *Profiler) RecordStep(frame *CallFrame, instr opcodes.Instruction) {
	if p.levels == DebugOff {
		return
	}
	if p.levels.has(DebugOpcodeCounts) && int(instr.Op) < len(p.opcodeCounts) {
		p.opcodeCounts[instr.Op]++
	}
	if p.levels.has(DebugHotFrames) {
		p.frameSteps[frame.SourceFuncName]++
	}
	if p.levels.has(DebugTrace) {
		if p.ring == nil {
			p.ring = make([]stepRecord, p.ringCap)
		}
		p.ring[p.ringPos%p.ringCap] = stepRecord{FuncName: frame.SourceFuncName, IP: frame.IP, Op: instr.Op}
		p.ringPos++
	}
}

// OpcodeCounts returns a snapshot of per-opcode execution counts.
func (p *Profiler) OpcodeCounts() map[string]uint64 {
	out := make(map[string]uint64)
	for op, n := range p.opcodeCounts {
		if n == 0 {
			continue
		}
		out[opcodes.Opcode(op).String()] = n
	}
	return out
}

// HotFrames returns the per-function step tally, descending order left to
// the caller (sorting is a diagnostics concern, not the profiler's).
func (p *Profiler) HotFrames() map[string]uint64 { return p.frameSteps }

// DumpTrace renders the most recent trace entries, oldest first.
func (p *Profiler) DumpTrace() []string {
	if p.ring == nil {
		return nil
	}
	n := p.ringCap
	if p.ringPos < n {
		n = p.ringPos
	}
	out := make([]string, 0, n)
	start := p.ringPos - n
	for i := 0; i < n; i++ {
		r := p.ring[(start+i)%p.ringCap]
		out = append(out, fmt.Sprintf("%s:%d %s", r.FuncName, r.IP, r.Op))
	}
	return out
}
