package seats

// Bijection is a one-to-one map with lookups in both directions.
type Bijection[K comparable, V comparable] struct {
	fwd map[K]V
	inv map[V]K
}

func NewBijection[K comparable, V comparable]() *Bijection[K, V] {
	return &Bijection[K, V]{fwd: map[K]V{}, inv: map[V]K{}}
}

// Put inserts k<->v. It refuses when either side is already paired.
func (b *Bijection[K, V]) Put(k K, v V) bool {
	if _, ok := b.fwd[k]; ok {
		return false
	}
	if _, ok := b.inv[v]; ok {
		return false
	}
	b.fwd[k] = v
	b.inv[v] = k
	return true
}

func (b *Bijection[K, V]) Value(k K) (V, bool) {
	v, ok := b.fwd[k]
	return v, ok
}

func (b *Bijection[K, V]) Key(v V) (K, bool) {
	k, ok := b.inv[v]
	return k, ok
}

func (b *Bijection[K, V]) RemoveKey(k K) (V, bool) {
	v, ok := b.fwd[k]
	if ok {
		delete(b.fwd, k)
		delete(b.inv, v)
	}
	return v, ok
}

func (b *Bijection[K, V]) RemoveValue(v V) (K, bool) {
	k, ok := b.inv[v]
	if ok {
		delete(b.inv, v)
		delete(b.fwd, k)
	}
	return k, ok
}

func (b *Bijection[K, V]) Len() int { return len(b.fwd) }

func (b *Bijection[K, V]) Range(fn func(K, V) bool) {
	for k, v := range b.fwd {
		if !fn(k, v) {
			return
		}
	}
}

func (b *Bijection[K, V]) Clear() {
	clear(b.fwd)
	clear(b.inv)
}
