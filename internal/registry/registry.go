// Package registry provides a keyed store with per-key serialization.
//
// Operations on the same key are linearized by holding the key's lock;
// operations on different keys proceed independently. Key locks are
// reference counted and dropped once no caller holds or waits on them.
package registry

import "sync"

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Registry maps string keys to values of type V
type Registry[V any] struct {
	mu    sync.Mutex
	items map[string]V
	locks map[string]*keyLock
}

// New creates an empty registry
func New[V any]() *Registry[V] {
	return &Registry[V]{
		items: make(map[string]V),
		locks: make(map[string]*keyLock),
	}
}

// Lock acquires the exclusive lock for key and returns its release function
func (r *Registry[V]) Lock(key string) (unlock func()) {
	r.mu.Lock()
	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{}
		r.locks[key] = kl
	}
	kl.refs++
	r.mu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()
			r.mu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(r.locks, key)
			}
			r.mu.Unlock()
		})
	}
}

// Get returns the value stored under key
func (r *Registry[V]) Get(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[key]
	return v, ok
}

// Put stores v under key, replacing any previous value
func (r *Registry[V]) Put(key string, v V) {
	r.mu.Lock()
	r.items[key] = v
	r.mu.Unlock()
}

// Delete removes key and returns the value that was stored, if any
func (r *Registry[V]) Delete(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[key]
	if ok {
		delete(r.items, key)
	}
	return v, ok
}

// CompareAndDelete removes key only if match reports true for the current value
func (r *Registry[V]) CompareAndDelete(key string, match func(V) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[key]
	if !ok || !match(v) {
		return false
	}
	delete(r.items, key)
	return true
}

// Range calls fn for a snapshot of all entries. fn may call back into the registry.
func (r *Registry[V]) Range(fn func(key string, v V) bool) {
	r.mu.Lock()
	snapshot := make(map[string]V, len(r.items))
	for k, v := range r.items {
		snapshot[k] = v
	}
	r.mu.Unlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

// Len returns the number of stored entries
func (r *Registry[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// lockCount is used by tests to verify key locks are evicted
func (r *Registry[V]) lockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
