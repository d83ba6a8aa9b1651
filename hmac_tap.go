package s4pp

import "hash"

// tapState tracks where an HMACTap is relative to the current sequence's
// signed byte range, [start-of-SEQ-line, start-of-SIG-line) (spec.md
// invariant 3).
type tapState int

const (
	tapIdle tapState = iota
	tapCapturing
	tapDone
)

// HMACTap is the streaming MAC accumulator shared by both role engines.
// It is fed every line (with its LF) as that line is read or written; the
// caller drives the idle -> capturing -> done transitions explicitly,
// because only the caller knows which line is SEQ (capture start) and
// which is SIG (capture end, and itself excluded).
type HMACTap struct {
	h     hash.Hash
	state tapState
}

// NewHMACTap builds a tap pre-seeded with the raw challenge token, per
// spec.md invariant 3 ("the HMAC is seeded with the raw challenge token
// before any sequence bytes are fed to it").
func NewHMACTap(algo string, key, tokenRaw []byte) (*HMACTap, error) {
	h, err := NewHMAC(algo, key)
	if err != nil {
		return nil, err
	}
	h.Write(tokenRaw)
	return &HMACTap{h: h, state: tapIdle}, nil
}

// BeginSequence transitions idle -> capturing. It is an error to begin a
// sequence while one is already active or done-but-unconsumed.
func (t *HMACTap) BeginSequence() error {
	if t.state != tapIdle {
		return ErrTapState
	}
	t.state = tapCapturing
	return nil
}

// FeedLine feeds one line plus its LF into the running MAC, but only while
// capturing; calls while idle or done are silently ignored so the caller
// can feed every line unconditionally without branching on tap state.
func (t *HMACTap) FeedLine(line []byte) {
	if t.state != tapCapturing {
		return
	}
	t.h.Write(line)
	t.h.Write([]byte{'\n'})
}

// EndSequence transitions capturing -> done and returns the finalized tag.
// The SIG line itself must never be fed to FeedLine first.
func (t *HMACTap) EndSequence() ([]byte, error) {
	if t.state != tapCapturing {
		return nil, ErrTapState
	}
	sum := t.h.Sum(nil)
	t.state = tapDone
	return sum, nil
}

// Reset re-seeds the tap for the next sequence, returning it to idle. The
// same raw challenge token is reused for the lifetime of the session
// (spec.md invariant 3: one token, many sequences).
func (t *HMACTap) Reset(algo string, key, tokenRaw []byte) error {
	h, err := NewHMAC(algo, key)
	if err != nil {
		return err
	}
	h.Write(tokenRaw)
	t.h = h
	t.state = tapIdle
	return nil
}

// VerifyAndReset finalizes the current capture, compares it in constant
// time against sig (the already hex-decoded SIG payload), and resets to
// idle regardless of outcome so the caller doesn't need a separate
// recovery path.
func (t *HMACTap) VerifyAndReset(algo string, key, tokenRaw, sig []byte) (bool, error) {
	got, err := t.EndSequence()
	if err != nil {
		return false, err
	}
	ok := hmacEqual(got, sig)
	if rerr := t.Reset(algo, key, tokenRaw); rerr != nil {
		return false, rerr
	}
	return ok, nil
}
