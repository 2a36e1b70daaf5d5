package hmacauth

// StaticKeyResolver resolves keys from a fixed in-memory map, for tests
// and local development.
type StaticKeyResolver struct {
	Keys map[string]Key
}

// NewStaticKeyResolver builds a resolver from a slice of keys, indexed by ID.
func NewStaticKeyResolver(keys ...Key) *StaticKeyResolver {
	m := make(map[string]Key, len(keys))
	for _, k := range keys {
		m[k.ID] = k
	}
	return &StaticKeyResolver{Keys: m}
}

func (r *StaticKeyResolver) Resolve(keyID string) (Key, bool) {
	k, ok := r.Keys[keyID]
	return k, ok
}
