package s4pp

import "testing"

func TestSequenceState_RunningTimestampIsSharedAcrossDictIdx(t *testing.T) {
	sess := &Session{}
	seq, err := BeginSequence(sess, 1, 1000, 1, DataFormat0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.PutDictEntry(0, "C", 10, "temp"); err != nil {
		t.Fatal(err)
	}
	if err := seq.PutDictEntry(1, "%", 1, "humidity"); err != nil {
		t.Fatal(err)
	}

	s0, err := seq.IngestSample(0, 5, 0, []string{"215"})
	if err != nil {
		t.Fatal(err)
	}
	if s0.EffectiveTime.Num != 1005 {
		t.Errorf("first sample effective time = %d, want 1005", s0.EffectiveTime.Num)
	}

	// A sample against a different dict idx still advances the single
	// running cursor, not a per-idx one.
	s1, err := seq.IngestSample(1, 3, 0, []string{"50"})
	if err != nil {
		t.Fatal(err)
	}
	if s1.EffectiveTime.Num != 1008 {
		t.Errorf("second sample effective time = %d, want 1008", s1.EffectiveTime.Num)
	}

	s2, err := seq.IngestSample(0, 2, 0, []string{"216"})
	if err != nil {
		t.Fatal(err)
	}
	if s2.EffectiveTime.Num != 1010 {
		t.Errorf("third sample effective time = %d, want 1010", s2.EffectiveTime.Num)
	}
}

func TestSequenceState_Format1SpanIsIndependentOfTime(t *testing.T) {
	sess := &Session{}
	seq, err := BeginSequence(sess, 1, 0, 1, DataFormat1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.PutDictEntry(0, "C", 10, "temp"); err != nil {
		t.Fatal(err)
	}

	s, err := seq.IngestSample(0, 10, 99, []string{"215"})
	if err != nil {
		t.Fatal(err)
	}
	if s.EffectiveTime.Num != 10 {
		t.Errorf("effective time = %d, want 10 (span must not affect it)", s.EffectiveTime.Num)
	}
	if s.Span != 99 {
		t.Errorf("span = %d, want 99", s.Span)
	}
}

func TestSequenceState_Format0SpanIsZeroed(t *testing.T) {
	sess := &Session{}
	seq, err := BeginSequence(sess, 1, 0, 1, DataFormat0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.PutDictEntry(0, "C", 10, "temp"); err != nil {
		t.Fatal(err)
	}

	s, err := seq.IngestSample(0, 1, 777, []string{"215"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Span != 0 {
		t.Errorf("span for a data_format 0 sample = %d, want 0", s.Span)
	}
}

func TestSequenceState_NegativeSpanRejectionIsConfigurable(t *testing.T) {
	sess := &Session{}
	seq, err := BeginSequence(sess, 1, 0, 1, DataFormat1, 0)
	if err != nil {
		t.Fatal(err)
	}
	seq.RejectNegativeSpan = true
	if err := seq.PutDictEntry(0, "C", 10, "temp"); err != nil {
		t.Fatal(err)
	}

	if _, err := seq.IngestSample(0, 1, -1, []string{"215"}); err != ErrNegativeSpan {
		t.Errorf("got %v, want ErrNegativeSpan", err)
	}

	seq.RejectNegativeSpan = false
	if _, err := seq.IngestSample(0, 1, -1, []string{"215"}); err != nil {
		t.Errorf("negative span should be accepted when RejectNegativeSpan is false, got %v", err)
	}
}

func TestSequenceState_UnknownDictIdx(t *testing.T) {
	sess := &Session{}
	seq, err := BeginSequence(sess, 1, 0, 1, DataFormat0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := seq.IngestSample(5, 1, 0, []string{"x"}); err != ErrUnknownDictIdx {
		t.Errorf("got %v, want ErrUnknownDictIdx", err)
	}
}

func TestSequenceState_SampleLimitExceeded(t *testing.T) {
	sess := &Session{}
	seq, err := BeginSequence(sess, 1, 0, 1, DataFormat0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.PutDictEntry(0, "C", 10, "temp"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := seq.IngestSample(0, 1, 0, []string{"1"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := seq.IngestSample(0, 1, 0, []string{"1"}); err != ErrSampleLimitExceeded {
		t.Errorf("got %v, want ErrSampleLimitExceeded", err)
	}
}

func TestBeginSequence_MonotonicSeqID(t *testing.T) {
	sess := &Session{}
	sess.MarkCommitted(5)

	if _, err := BeginSequence(sess, 5, 0, 1, DataFormat0, 0); err != ErrSeqNotMonotonic {
		t.Errorf("equal seqid: got %v, want ErrSeqNotMonotonic", err)
	}
	if _, err := BeginSequence(sess, 4, 0, 1, DataFormat0, 0); err != ErrSeqNotMonotonic {
		t.Errorf("lower seqid: got %v, want ErrSeqNotMonotonic", err)
	}
	if _, err := BeginSequence(sess, 6, 0, 1, DataFormat0, 0); err != nil {
		t.Errorf("higher seqid should be accepted, got %v", err)
	}
}

func TestBeginSequence_ZeroDivisorAndUnknownFormat(t *testing.T) {
	sess := &Session{}
	if _, err := BeginSequence(sess, 1, 0, 0, DataFormat0, 0); err != ErrZeroDivisor {
		t.Errorf("got %v, want ErrZeroDivisor", err)
	}
	if _, err := BeginSequence(sess, 1, 0, 1, 2, 0); err != ErrUnknownDataFormat {
		t.Errorf("got %v, want ErrUnknownDataFormat", err)
	}
}

func TestSequenceState_PutDictEntry_Validation(t *testing.T) {
	sess := &Session{}
	seq, err := BeginSequence(sess, 1, 0, 1, DataFormat0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.PutDictEntry(0, "C", 0, "temp"); err != ErrZeroDivisor {
		t.Errorf("got %v, want ErrZeroDivisor", err)
	}
	if err := seq.PutDictEntry(0, "C", 10, ""); err != ErrEmptyName {
		t.Errorf("got %v, want ErrEmptyName", err)
	}
}

func TestSequenceState_PutDictEntry_OverwriteIsAllowed(t *testing.T) {
	sess := &Session{}
	seq, err := BeginSequence(sess, 1, 0, 1, DataFormat0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.PutDictEntry(0, "C", 10, "temp"); err != nil {
		t.Fatal(err)
	}
	if err := seq.PutDictEntry(0, "F", 1, "temp-f"); err != nil {
		t.Fatal(err)
	}
	s, err := seq.IngestSample(0, 1, 0, []string{"98"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Unit != "F" || s.Name != "temp-f" {
		t.Errorf("got unit=%q name=%q, want the overwritten entry", s.Unit, s.Name)
	}
}
