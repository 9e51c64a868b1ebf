package flow

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"firestige.xyz/pandit/internal/core"
)

// StoreKey addresses one header of one flow.
type StoreKey struct {
	Flow Key
	Name string
}

// Compare orders store keys by flow then header name.
func (k StoreKey) Compare(o StoreKey) int {
	if c := k.Flow.Compare(o.Flow); c != 0 {
		return c
	}
	return strings.Compare(k.Name, o.Name)
}

// HeaderEntry is one captured header as it appeared on the wire.
type HeaderEntry struct {
	Name  string
	Value []byte
}

type storeValue struct {
	value []byte
	seq   uint64
}

// Store is the flow-scoped header key/value store.
//
// Every Put is a single-key upsert. Names are stored verbatim, so
// "Content-Type" and "content-type" are distinct entries.
type Store struct {
	data     sync.Map // StoreKey -> *storeValue
	count    atomic.Int64
	seq      atomic.Uint64
	capacity int64
}

// NewStore creates a header store holding at most capacity entries.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: int64(capacity)}
}

// Put stores a copy of value under (flow, name).
// A new key beyond capacity fails with core.ErrStoreFull.
func (s *Store) Put(flow Key, name, value []byte) error {
	key := StoreKey{Flow: flow, Name: string(name)}
	v := &storeValue{value: slices.Clone(value), seq: s.seq.Add(1)}
	if v.value == nil {
		v.value = []byte{}
	}

	for {
		if prev, ok := s.data.Load(key); ok {
			// Overwrite keeps the original position in Entries. The swap
			// fails when DeleteFlow removed the key meanwhile; retry as an
			// insert so count stays exact.
			v.seq = prev.(*storeValue).seq
			if s.data.CompareAndSwap(key, prev, v) {
				return nil
			}
			continue
		}

		if s.count.Add(1) > s.capacity {
			s.count.Add(-1)
			return fmt.Errorf("header %s %q: %w", flow, key.Name, core.ErrStoreFull)
		}
		if _, loaded := s.data.LoadOrStore(key, v); !loaded {
			return nil
		}
		s.count.Add(-1)
	}
}

// Get returns a copy of the stored value.
func (s *Store) Get(flow Key, name string) ([]byte, bool) {
	v, ok := s.data.Load(StoreKey{Flow: flow, Name: name})
	if !ok {
		return nil, false
	}
	return slices.Clone(v.(*storeValue).value), true
}

// Entries returns the headers of flow in the order they were first stored.
func (s *Store) Entries(flow Key) []HeaderEntry {
	type ordered struct {
		HeaderEntry
		seq uint64
	}
	var found []ordered
	s.data.Range(func(k, v any) bool {
		key := k.(StoreKey)
		if key.Flow != flow {
			return true
		}
		sv := v.(*storeValue)
		found = append(found, ordered{
			HeaderEntry: HeaderEntry{Name: key.Name, Value: slices.Clone(sv.value)},
			seq:         sv.seq,
		})
		return true
	})
	slices.SortFunc(found, func(a, b ordered) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	entries := make([]HeaderEntry, len(found))
	for i := range found {
		entries[i] = found[i].HeaderEntry
	}
	return entries
}

// NextKey returns the smallest key strictly greater than after, or the
// smallest key overall when after is nil.
func (s *Store) NextKey(after *StoreKey) (StoreKey, bool) {
	var (
		best  StoreKey
		found bool
	)
	s.data.Range(func(k, _ any) bool {
		key := k.(StoreKey)
		if after != nil && key.Compare(*after) <= 0 {
			return true
		}
		if !found || key.Compare(best) < 0 {
			best, found = key, true
		}
		return true
	})
	return best, found
}

// DeleteFlow removes every header of flow.
func (s *Store) DeleteFlow(flow Key) int {
	removed := 0
	s.data.Range(func(k, _ any) bool {
		if k.(StoreKey).Flow == flow {
			if _, loaded := s.data.LoadAndDelete(k); loaded {
				s.count.Add(-1)
				removed++
			}
		}
		return true
	})
	return removed
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// Sink binds the store to one flow for the header tokenizer.
func (s *Store) Sink(flow Key) *FlowSink {
	return &FlowSink{store: s, flow: flow}
}

// FlowSink writes header entries of a single flow.
type FlowSink struct {
	store *Store
	flow  Key
}

// Put stores one header entry.
func (f *FlowSink) Put(name, value []byte) error {
	return f.store.Put(f.flow, name, value)
}
