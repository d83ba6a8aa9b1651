package s4pp

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
)

// HashSpec names one hash algorithm and how to construct it. This is the
// "capability table" the spec calls for in §4.3 and §9 ("dynamic
// polymorphism over algorithms is best modelled as a tagged-variant
// capability table"), generalising the teacher's single hard-coded
// sha256.Sum256/hmac.New pair (protocol.go's mac()) into a name-keyed table.
type HashSpec struct {
	Name string
	New  func() hash.Hash
}

var hashRegistry = map[string]HashSpec{
	"SHA256": {Name: "SHA256", New: sha256.New},
}

// LookupHash resolves a wire hash algorithm name to its HashSpec.
func LookupHash(name string) (HashSpec, bool) {
	spec, ok := hashRegistry[name]
	return spec, ok
}

// SupportedHashAlgos lists every hash algorithm this build supports, in a
// stable order suitable for advertising in a hello line.
func SupportedHashAlgos() []string { return []string{"SHA256"} }

// NegotiateHash picks the first algorithm in preference that also appears
// in offered, or returns ErrNoCommonHash.
func NegotiateHash(preference, offered []string) (string, error) {
	offeredSet := make(map[string]struct{}, len(offered))
	for _, a := range offered {
		offeredSet[a] = struct{}{}
	}
	for _, a := range preference {
		if _, ok := offeredSet[a]; ok {
			if _, known := hashRegistry[a]; known {
				return a, nil
			}
		}
	}
	return "", ErrNoCommonHash
}

// NewHMAC constructs an HMAC context for the named algorithm and key. The
// returned hash.Hash already provides hmac_update (Write) and
// hmac_finalize (Sum) per spec.md §4.3.
func NewHMAC(name string, key []byte) (hash.Hash, error) {
	spec, ok := LookupHash(name)
	if !ok {
		return nil, ErrUnknownAlgorithm
	}
	return hmac.New(spec.New, key), nil
}

// hmacEqual performs a constant-time comparison of two MAC tags, per
// spec.md §4.6 ("compare in constant time").
func hmacEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
