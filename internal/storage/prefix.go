package storage

// PrefixDB scopes a DB to one keyspace by prepending a fixed prefix to
// every key. Components sharing one database each get their own PrefixDB.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: clone(prefix)}
}

func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.prefixed(key)) }

func (p *PrefixDB) Put(key, value []byte) error { return p.inner.Put(p.prefixed(key), value) }

func (p *PrefixDB) Delete(key []byte) error { return p.inner.Delete(p.prefixed(key)) }

func (p *PrefixDB) Has(key []byte) (bool, error) { return p.inner.Has(p.prefixed(key)) }

// ForEach iterates within the namespace. Keys passed to fn have the
// namespace prefix stripped.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEach(p.prefixed(prefix), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// DeleteAll removes every key in the namespace in one batch.
func (p *PrefixDB) DeleteAll() error {
	var keys [][]byte
	err := p.ForEach(nil, func(key, _ []byte) error {
		keys = append(keys, clone(key))
		return nil
	})
	if err != nil {
		return err
	}
	b := p.NewBatch()
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return b.Commit()
}

// Close is a no-op; the inner DB owns its lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch returns a batch in the namespace. It is atomic when the inner DB
// is a Batcher and applied write by write otherwise.
func (p *PrefixDB) NewBatch() Batch {
	if batcher, ok := p.inner.(Batcher); ok {
		return &prefixBatch{inner: batcher.NewBatch(), p: p}
	}
	return &prefixBatch{p: p}
}

type prefixBatch struct {
	inner Batch // nil: write through
	p     *PrefixDB
	ops   []memoryOp
}

func (pb *prefixBatch) Put(key, value []byte) error {
	if pb.inner != nil {
		return pb.inner.Put(pb.p.prefixed(key), value)
	}
	pb.ops = append(pb.ops, memoryOp{key: string(key), value: clone(value)})
	return nil
}

func (pb *prefixBatch) Delete(key []byte) error {
	if pb.inner != nil {
		return pb.inner.Delete(pb.p.prefixed(key))
	}
	pb.ops = append(pb.ops, memoryOp{key: string(key)})
	return nil
}

func (pb *prefixBatch) Commit() error {
	if pb.inner != nil {
		return pb.inner.Commit()
	}
	for _, op := range pb.ops {
		var err error
		if op.value == nil {
			err = pb.p.Delete([]byte(op.key))
		} else {
			err = pb.p.Put([]byte(op.key), op.value)
		}
		if err != nil {
			return err
		}
	}
	pb.ops = nil
	return nil
}
