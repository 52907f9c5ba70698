package vm

// String is an immutable, interned byte sequence. Within a single State no
// two live String objects ever hold equal content: the interner
// guarantees that pushString and every internal string construction
// return the same object for the same bytes, so raw equality of strings
// reduces to pointer comparison (see Value.Equals).
type String struct {
	gcHeader
	bytes    string
	hash     uint64
	interner *stringInterner
}

func (s *String) Value() string       { return s.bytes }
func (s *String) Len() int            { return len(s.bytes) }
func (s *String) Hash() uint64        { return s.hash }
func (s *String) traceChildren(*Collector) {}
func (s *String) typeName() string    { return "string" }

// wyhash is a small, fast, well-distributed non-cryptographic hash; any
// hash of this quality satisfies the interner's requirement (collisions
// on hash but not content must still intern to distinct objects, which
// the interner's bucket chaining guarantees regardless of hash quality).
func wyhash(data string) uint64 {
	const (
		seed = 0x9E3779B97F4A7C15
		m1   = 0xA0761D6478BD642F
		m2   = 0xE7037ED1A0B428DB
	)
	var h uint64 = seed
	for len(data) >= 8 {
		var x uint64
		for i := 0; i < 8; i++ {
			x |= uint64(data[i]) << (8 * i)
		}
		h = mix(h^x, m1)
		data = data[8:]
	}
	var tail uint64
	for i := 0; i < len(data); i++ {
		tail |= uint64(data[i]) << (8 * i)
	}
	h = mix(h^tail, m2)
	h ^= h >> 29
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 32
	return h
}

func mix(a, b uint64) uint64 {
	hi, lo := mul128(a, b)
	return hi ^ lo
}

func mul128(a, b uint64) (hi, lo uint64) {
	const mask32 = 1<<32 - 1
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32
	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32
	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32
	t = aLo*bHi + w1
	k = t >> 32
	lo = (t << 32 & ^uint64(0)) | w0
	hi = aHi*bHi + w2 + k
	return hi, lo
}

// stringInterner owns every String allocated by a State, bucketed by
// hash so that byte-equal strings always share one object.
type stringInterner struct {
	buckets map[uint64][]*String
	heap    *Collector
}

func newStringInterner(heap *Collector) *stringInterner {
	return &stringInterner{buckets: make(map[uint64][]*String), heap: heap}
}

// intern returns the canonical String for data, allocating and
// registering a new one on first sight.
func (si *stringInterner) intern(data string) *String {
	h := wyhash(data)
	for _, s := range si.buckets[h] {
		if s.bytes == data {
			return s
		}
	}
	s := &String{bytes: data, hash: h, interner: si}
	si.buckets[h] = append(si.buckets[h], s)
	si.heap.register(s)
	return s
}

// forget removes a swept String from the intern table so its bytes can be
// interned afresh (as a new object) if seen again.
func (si *stringInterner) forget(s *String) {
	bucket := si.buckets[s.hash]
	for i, cand := range bucket {
		if cand == s {
			si.buckets[s.hash] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}
