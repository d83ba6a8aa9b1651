package s4pp

import "fmt"

// ChallengeToken is the server-issued nonce exchanged during hello/TOK. The
// wire carries Hex; Raw is the decoded byte form required both for HIDE key
// derivation and as the HMAC seed for every sequence (spec.md invariant 3).
type ChallengeToken struct {
	Hex string
	Raw []byte
}

// Time is a sample's effective timestamp, kept as a fixed-point rational
// (Num/Den) rather than a float64 so that repeated division never loses the
// client's chosen fixed-point precision.
type Time struct {
	Num int64
	Den int64
}

// Float64 renders the time as a float64, for display/debugging only. The
// engine itself never compares or stores times this way.
func (t Time) Float64() float64 { return float64(t.Num) / float64(t.Den) }

func (t Time) String() string { return fmt.Sprintf("%d/%d", t.Num, t.Den) }

// DictEntry is one dictionary slot: a unit, its divisor, and a human name.
// Scope is exactly one Sequence (spec.md §3, Dictionary).
type DictEntry struct {
	Unit        string
	UnitDivisor int64
	Name        string
}

// Sample is the decoded, dictionary-resolved entity emitted to a SampleSink
// for every data line (spec.md §3, Sample).
type Sample struct {
	SeqID         int64
	DictIdx       int
	EffectiveTime Time
	Span          int64 // 0 for data_format 0
	Values        []string
	Unit          string
	UnitDivisor   int64
	Name          string
}

// HideState is the negotiated confidentiality state for a session, present
// only after a successful HIDE activation (spec.md §3, HIDE state).
type HideState struct {
	Algorithm string
	BlockSize int
	// SessionKey is the block-sized derived key. Never logged; see
	// Session.key for the same rule applied to the shared secret.
	SessionKey []byte
}

// Session is the per-connection protocol state shared by both role engines'
// public-facing fields. ServerSession and ClientSession each embed one and
// add role-specific machinery (framer, sequence state, sink, etc).
type Session struct {
	Version         Version
	HashAlgos       []string // peer-supported hash algorithms
	HideAlgos       []string // peer-supported HIDE algorithms (1.2+)
	MaxSamples      int      // server->client, max samples per sequence
	Challenge       ChallengeToken
	Authenticated   bool
	KeyID           string
	HashAlgo        string
	HasCommitted    bool
	LastCommittedID int64
	Hide            *HideState

	// key is the shared secret borrowed from the KeyStore for the duration
	// of this session's HMAC/cipher operations. It is never copied into log
	// or error output (spec.md §5, shared-resource policy).
	key []byte
}

// LastCommitted reports the session's last committed seqid and whether any
// sequence has yet been committed ("none" per spec.md §3).
func (s *Session) LastCommitted() (id int64, ok bool) {
	return s.LastCommittedID, s.HasCommitted
}

// MarkCommitted records seqid as the new last-committed sequence.
func (s *Session) MarkCommitted(seqID int64) {
	s.LastCommittedID = seqID
	s.HasCommitted = true
}
