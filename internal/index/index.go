package index

import (
	"math/rand"
	"strings"
	"sync/atomic"

	"github.com/luci/gtreap"
)

// Entry is one key/value pair returned by Range.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type item struct {
	key string
	val []byte
}

func compareItems(a, b interface{}) int {
	return strings.Compare(a.(*item).key, b.(*item).key)
}

// version is one immutable published state of the index.
type version struct {
	root *gtreap.Treap
	n    int
}

// Index is an ordered in-memory map from key to value backed by a persistent
// treap. Readers load the current version and never lock. Writers build a new
// version from the one they loaded and publish it with compare-and-swap,
// retrying if another writer got there first.
type Index struct {
	cur   atomic.Pointer[version]
	codec Codec

	retries atomic.Int64
}

// New returns an empty index storing values through codec. A nil codec
// stores values as is.
func New(codec Codec) *Index {
	if codec == nil {
		codec = identityCodec{}
	}
	ix := &Index{codec: codec}
	ix.cur.Store(&version{root: gtreap.NewTreap(compareItems)})
	return ix
}

// Codec returns the value codec chosen at construction.
func (ix *Index) Codec() Codec { return ix.codec }

// Len returns the number of keys in the current version.
func (ix *Index) Len() int { return ix.cur.Load().n }

// Retries reports how many times a writer lost a publish race.
func (ix *Index) Retries() int64 { return ix.retries.Load() }

// Get returns the value for key.
func (ix *Index) Get(key string) (string, bool, error) {
	found := ix.cur.Load().root.Get(&item{key: key})
	if found == nil {
		return "", false, nil
	}
	v, err := ix.codec.Decode(found.(*item).val)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// GetBatch returns the values for keys present in one consistent version.
// Absent keys are omitted.
func (ix *Index) GetBatch(keys []string) (map[string]string, error) {
	root := ix.cur.Load().root
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		found := root.Get(&item{key: k})
		if found == nil {
			continue
		}
		v, err := ix.codec.Decode(found.(*item).val)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Range returns entries with from <= key < to in ascending key order. An
// empty from starts at the first key, an empty to runs to the last. When both
// bounds are set and from >= to the result is empty.
func (ix *Index) Range(from, to string) ([]Entry, error) {
	if from != "" && to != "" && from >= to {
		return nil, nil
	}
	root := ix.cur.Load().root
	var (
		out    []Entry
		decErr error
	)
	visit := func(i gtreap.Item) bool {
		it := i.(*item)
		if to != "" && it.key >= to {
			return false
		}
		v, err := ix.codec.Decode(it.val)
		if err != nil {
			decErr = err
			return false
		}
		out = append(out, Entry{Key: it.key, Value: v})
		return true
	}
	root.VisitAscend(&item{key: from}, visit)
	if decErr != nil {
		return nil, decErr
	}
	return out, nil
}

// Encoded is a value already passed through the index codec.
type Encoded struct{ val []byte }

// Encode runs value through the codec without touching the index.
func (ix *Index) Encode(value string) (Encoded, error) {
	enc, err := ix.codec.Encode(value)
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{val: enc}, nil
}

// Put inserts or replaces key.
func (ix *Index) Put(key, value string) error {
	enc, err := ix.Encode(value)
	if err != nil {
		return err
	}
	ix.PutEncoded(key, enc)
	return nil
}

// PutEncoded inserts or replaces key with a value from Encode. It cannot
// fail.
func (ix *Index) PutEncoded(key string, v Encoded) {
	next := &item{key: key, val: v.val}
	for {
		cur := ix.cur.Load()
		n := cur.n
		if cur.root.Get(next) == nil {
			n++
		}
		nv := &version{root: cur.root.Upsert(next, rand.Int()), n: n}
		if ix.cur.CompareAndSwap(cur, nv) {
			return
		}
		ix.retries.Add(1)
	}
}

// Remove deletes key and returns the value it held.
func (ix *Index) Remove(key string) (string, bool, error) {
	probe := &item{key: key}
	for {
		cur := ix.cur.Load()
		found := cur.root.Get(probe)
		if found == nil {
			return "", false, nil
		}
		nv := &version{root: cur.root.Delete(probe), n: cur.n - 1}
		if ix.cur.CompareAndSwap(cur, nv) {
			old, err := ix.codec.Decode(found.(*item).val)
			if err != nil {
				return "", true, err
			}
			return old, true, nil
		}
		ix.retries.Add(1)
	}
}

// Load bulk-inserts entries into an empty index from a single goroutine.
// It is used once at startup before any reader or writer exists.
func (ix *Index) Load(entries func(yield func(key, value string) error) error) error {
	cur := ix.cur.Load()
	root, n := cur.root, cur.n
	err := entries(func(key, value string) error {
		enc, err := ix.codec.Encode(value)
		if err != nil {
			return err
		}
		it := &item{key: key, val: enc}
		if root.Get(it) == nil {
			n++
		}
		root = root.Upsert(it, rand.Int())
		return nil
	})
	if err != nil {
		return err
	}
	ix.cur.Store(&version{root: root, n: n})
	return nil
}
