package s4pp

import "strconv"

// dataFormat values recognised on the wire (spec.md §3, SEQ / §6 commands
// summary). Format 0 data lines carry idx,delta_t,value; format 1 lines
// additionally carry an explicit span ahead of the values.
const (
	DataFormat0 = 0
	DataFormat1 = 1
)

// SequenceState tracks one in-flight SEQ..SIG unit: its header, the
// per-sequence dictionary, and the single running timestamp cursor shared
// across every dict index in the sequence (spec.md §3, Sequence:
// "running_timestamp (initially equals basetime)").
type SequenceState struct {
	SeqID       int64
	BaseTime    int64
	TimeDivisor int64
	DataFormat  int

	dict    map[int]DictEntry
	running int64

	sampleCount int
	maxSamples  int

	// RejectNegativeSpan selects the implementation's configured policy
	// for format-1 negative spans (spec.md §4.4: "MAY reject, implementation
	// choice, advertised via config").
	RejectNegativeSpan bool
}

// BeginSequence starts a new sequence after validating monotonicity against
// the session's last committed seqid (spec.md §4.4: "seqid MUST be strictly
// greater than the last committed seqid for this session, or this is the
// session's first sequence").
func BeginSequence(sess *Session, seqID, baseTime, timeDivisor int64, dataFormat int, maxSamples int) (*SequenceState, error) {
	if last, ok := sess.LastCommitted(); ok && seqID <= last {
		return nil, ErrSeqNotMonotonic
	}
	if timeDivisor == 0 {
		return nil, ErrZeroDivisor
	}
	if dataFormat != DataFormat0 && dataFormat != DataFormat1 {
		return nil, ErrUnknownDataFormat
	}
	return &SequenceState{
		SeqID:       seqID,
		BaseTime:    baseTime,
		TimeDivisor: timeDivisor,
		DataFormat:  dataFormat,
		dict:        make(map[int]DictEntry),
		running:     baseTime,
		maxSamples:  maxSamples,
	}, nil
}

// PutDictEntry installs or overwrites a dictionary slot. Per spec.md §3 the
// dictionary is scoped to this sequence only; overwriting an existing index
// is permitted and simply replaces the slot.
func (s *SequenceState) PutDictEntry(idx int, unit string, unitDivisor int64, name string) error {
	if unitDivisor == 0 {
		return ErrZeroDivisor
	}
	if name == "" {
		return ErrEmptyName
	}
	s.dict[idx] = DictEntry{Unit: unit, UnitDivisor: unitDivisor, Name: name}
	return nil
}

// IngestSample decodes one already-split data line into a Sample. deltaT is
// added to the sequence's running timestamp to produce this sample's
// effective time; span is the format-1 span field (ignored, and must be 0,
// for format 0).
func (s *SequenceState) IngestSample(dictIdx int, deltaT, span int64, values []string) (Sample, error) {
	entry, ok := s.dict[dictIdx]
	if !ok {
		return Sample{}, ErrUnknownDictIdx
	}
	if s.maxSamples > 0 && s.sampleCount >= s.maxSamples {
		return Sample{}, ErrSampleLimitExceeded
	}
	if s.DataFormat == DataFormat1 && span < 0 && s.RejectNegativeSpan {
		return Sample{}, ErrNegativeSpan
	}
	if s.DataFormat == DataFormat0 {
		span = 0
	}

	s.running += deltaT
	eff := Time{Num: s.running, Den: s.TimeDivisor}
	s.sampleCount++

	return Sample{
		SeqID:         s.SeqID,
		DictIdx:       dictIdx,
		EffectiveTime: eff,
		Span:          span,
		Values:        values,
		Unit:          entry.Unit,
		UnitDivisor:   entry.UnitDivisor,
		Name:          entry.Name,
	}, nil
}

// SampleCount reports how many samples have been ingested so far.
func (s *SequenceState) SampleCount() int { return s.sampleCount }

// ParseDictField parses the DICT payload's numeric index field.
func ParseDictField(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrUnknownDictIdx
	}
	return n, nil
}
