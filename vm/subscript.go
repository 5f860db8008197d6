package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/values"
)

// GetItem implements obj[key] (spec §4.2's subscript protocol): negative
// indices wrap for sequences, dict/set lookups hash the key, and Instance
// routes through __getitem__.
func (vmachine *VirtualMachine) GetItem(obj, key values.Value) (values.Value, error) {
	if obj.Kind != values.KindRef {
		return values.Value{}, TypeErrorf("'%s' object is not subscriptable", vmachine.TypeName(obj))
	}
	payload, live := vmachine.Heap.Get(obj.HeapID)
	if !live {
		return values.Value{}, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	switch p := payload.(type) {
	case *values.List:
		idx, err := vmachine.normalizeIndex(key, len(p.Items))
		if err != nil {
			return values.Value{}, err
		}
		return vmachine.dupValue(p.Items[idx]), nil
	case *values.Tuple:
		idx, err := vmachine.normalizeIndex(key, len(p.Items))
		if err != nil {
			return values.Value{}, err
		}
		return vmachine.dupValue(p.Items[idx]), nil
	case *values.Str:
		runes := []rune(p.S)
		idx, err := vmachine.normalizeIndex(key, len(runes))
		if err != nil {
			return values.Value{}, err
		}
		return vmachine.NewStr(string(runes[idx])), nil
	case *values.Bytes:
		idx, err := vmachine.normalizeIndex(key, len(p.B))
		if err != nil {
			return values.Value{}, err
		}
		return values.NewInt(int64(p.B[idx])), nil
	case *values.Dict:
		return vmachine.dictGet(p, key)
	case *values.Instance:
		return vmachine.instanceGetItem(obj, key)
	default:
		return values.Value{}, TypeErrorf("'%s' object is not subscriptable", vmachine.TypeName(obj))
	}
}

func (vmachine *VirtualMachine) normalizeIndex(key values.Value, length int) (int, error) {
	if !key.IsInt() {
		return 0, TypeErrorf("indices must be integers")
	}
	idx := int(key.AsInt())
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, IndexErrorf("index out of range")
	}
	return idx, nil
}

func (vmachine *VirtualMachine) dictGet(d *values.Dict, key values.Value) (values.Value, error) {
	h, err := vmachine.Hash(key)
	if err != nil {
		return values.Value{}, err
	}
	for _, idx := range d.CandidatesForHash(h) {
		e := d.Entries[idx]
		if !e.Alive {
			continue
		}
		eq, err := vmachine.Equal(e.Key, key)
		if err != nil {
			return values.Value{}, err
		}
		if eq {
			return vmachine.dupValue(e.Val), nil
		}
	}
	return values.Value{}, KeyErrorf("%s", vmachine.reprForCacheKey(key))
}

func (vmachine *VirtualMachine) instanceGetItem(obj, key values.Value) (values.Value, error) {
	nameID := vmachine.Interns.Intern("__getitem__")
	if fn, _, found := vmachine.typeDunder(obj, nameID); found {
		return vmachine.Call(fn, []values.Value{obj, key}, nil)
	}
	return values.Value{}, TypeErrorf("'%s' object is not subscriptable", vmachine.TypeName(obj))
}

// SetItem implements obj[key] = val.
func (vmachine *VirtualMachine) SetItem(obj, key, val values.Value) error {
	if obj.Kind != values.KindRef {
		return TypeErrorf("'%s' object does not support item assignment", vmachine.TypeName(obj))
	}
	payload, live := vmachine.Heap.Get(obj.HeapID)
	if !live {
		return ReferenceErrorf("weakly-referenced object no longer exists")
	}
	switch p := payload.(type) {
	case *values.List:
		idx, err := vmachine.normalizeIndex(key, len(p.Items))
		if err != nil {
			return err
		}
		vmachine.dropValue(p.Items[idx])
		vmachine.dupValue(val)
		p.Items[idx] = val
		if val.Kind == values.KindRef {
			vmachine.Heap.MarkPotentialCycle()
		}
		return nil
	case *values.Dict:
		return vmachine.dictSet(obj.HeapID, p, key, val)
	case *values.Instance:
		nameID := vmachine.Interns.Intern("__setitem__")
		if fn, _, found := vmachine.typeDunder(obj, nameID); found {
			_, err := vmachine.Call(fn, []values.Value{obj, key, val}, nil)
			return err
		}
		return TypeErrorf("'%s' object does not support item assignment", vmachine.TypeName(obj))
	default:
		return TypeErrorf("'%s' object does not support item assignment", vmachine.TypeName(obj))
	}
}

func (vmachine *VirtualMachine) dictSet(dictID heap.ID, d *values.Dict, key, val values.Value) error {
	h, err := vmachine.Hash(key)
	if err != nil {
		return err
	}
	for _, idx := range d.CandidatesForHash(h) {
		e := d.Entries[idx]
		if !e.Alive {
			continue
		}
		eq, err := vmachine.Equal(e.Key, key)
		if err != nil {
			return err
		}
		if eq {
			return vmachine.Heap.WithEntryMut(dictID, func(p heap.Payload) heap.Payload {
				dd := p.(*values.Dict)
				vmachine.dropValue(dd.Entries[idx].Val)
				vmachine.dupValue(val)
				dd.Entries[idx].Val = val
				return dd
			})
		}
	}
	vmachine.dupValue(key)
	vmachine.dupValue(val)
	return vmachine.Heap.WithEntryMut(dictID, func(p heap.Payload) heap.Payload {
		dd := p.(*values.Dict)
		dd.Entries = append(dd.Entries, values.DictEntry{Key: key, Val: val, Alive: true})
		dd.ReindexWith(vmachine.hashValueUnchecked)
		return dd
	})
}

// DelItem implements `del obj[key]`.
func (vmachine *VirtualMachine) DelItem(obj, key values.Value) error {
	if obj.Kind != values.KindRef {
		return TypeErrorf("'%s' object doesn't support item deletion", vmachine.TypeName(obj))
	}
	payload, live := vmachine.Heap.Get(obj.HeapID)
	if !live {
		return ReferenceErrorf("weakly-referenced object no longer exists")
	}
	switch p := payload.(type) {
	case *values.List:
		idx, err := vmachine.normalizeIndex(key, len(p.Items))
		if err != nil {
			return err
		}
		vmachine.dropValue(p.Items[idx])
		p.Items = append(p.Items[:idx], p.Items[idx+1:]...)
		return nil
	case *values.Dict:
		h, err := vmachine.Hash(key)
		if err != nil {
			return err
		}
		for _, idx := range p.CandidatesForHash(h) {
			e := p.Entries[idx]
			if !e.Alive {
				continue
			}
			eq, err := vmachine.Equal(e.Key, key)
			if err != nil {
				return err
			}
			if eq {
				vmachine.dropValue(p.Entries[idx].Key)
				vmachine.dropValue(p.Entries[idx].Val)
				p.Entries[idx].Alive = false
				p.InvalidateIndex()
				return nil
			}
		}
		return KeyErrorf("%s", vmachine.reprForCacheKey(key))
	default:
		return TypeErrorf("'%s' object doesn't support item deletion", vmachine.TypeName(obj))
	}
}
