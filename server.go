package s4pp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// rejectReason strips the "s4pp: " sentinel-error prefix so wire REJ text
// reads as a short detail rather than a full Go error string.
func rejectReason(err error) string {
	return strings.TrimPrefix(err.Error(), "s4pp: ")
}

// serverState is the server role engine's state, per spec.md §4.6.
type serverState int

const (
	stateAwaitingClientHelloOrAuth serverState = iota
	stateAuthenticated
	stateInSequence
	stateClosed
)

var knownTags = map[string]bool{
	tagAuth: true, tagSeq: true, tagDict: true, tagSig: true,
	tagHide: true, tagRej: true, tagOK: true, tagNok: true,
	tagNtfy: true, tagTok: true,
}

// ServerConfig collects the server role engine's collaborators and
// advertised capabilities. Zero-value fields fall back to sensible
// defaults (SupportedHashAlgos, SupportedHideAlgos, a 16-byte token,
// crypto/rand entropy, the system clock, and a no-op audit exporter).
// KeyStore and Sink have no default and must be set.
type ServerConfig struct {
	HashAlgos   []string
	HideAlgos   []string
	MaxSamples  int
	TokenLength int // raw bytes, hex-encoded on the wire; default 16

	KeyStore KeyStore
	Sink     SampleSink
	Entropy  Entropy
	Clock    Clock
	Audit    AuditExporter
	Logger   *SessionLogger

	RejectNegativeSpan bool
}

func (c *ServerConfig) applyDefaults() {
	if c.HashAlgos == nil {
		c.HashAlgos = SupportedHashAlgos()
	}
	if c.HideAlgos == nil {
		c.HideAlgos = SupportedHideAlgos()
	}
	if c.TokenLength == 0 {
		c.TokenLength = 16
	}
	if c.Entropy == nil {
		c.Entropy = CryptoRandEntropy{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Audit == nil {
		c.Audit = NopAuditExporter{}
	}
}

// ServerSession drives one S4PP connection from the server role. Run is
// single-threaded: parsing, HMAC update and sink emission are serialized
// in arrival order, per spec.md §5.
type ServerSession struct {
	Session

	cfg       ServerConfig
	sessionID string
	w         io.Writer
	framer    *LineFramer
	hideDec   *HideDecoder
	pendSalt  bool

	state        serverState
	tap          *HMACTap
	seq          *SequenceState
	seqStartedAt time.Time
}

// NewServerSession builds a server session reading from r and writing
// responses to w.
func NewServerSession(r io.Reader, w io.Writer, cfg ServerConfig) *ServerSession {
	cfg.applyDefaults()
	return &ServerSession{
		cfg:       cfg,
		sessionID: NewSessionID(),
		w:         w,
		framer:    NewLineFramer(r),
		state:     stateAwaitingClientHelloOrAuth,
	}
}

func (s *ServerSession) logf(level string, format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	switch level {
	case "debug":
		s.cfg.Logger.Debugf(s.sessionID, format, args...)
	case "info":
		s.cfg.Logger.Infof(s.sessionID, format, args...)
	case "warn":
		s.cfg.Logger.Warnf(s.sessionID, format, args...)
	case "error":
		s.cfg.Logger.Errorf(s.sessionID, format, args...)
	}
}

func (s *ServerSession) writeLine(line string) error {
	_, err := io.WriteString(s.w, line+"\n")
	return err
}

// Run drives the session to completion: sends the hello and challenge,
// then processes lines until the transport closes, ctx is cancelled, or a
// fatal protocol error occurs.
func (s *ServerSession) Run(ctx context.Context) error {
	hello := serverHello{
		Version:    Version{Major: ProtocolMajor, Minor: ProtocolMinor},
		HashAlgos:  s.cfg.HashAlgos,
		MaxSamples: s.cfg.MaxSamples,
		HideAlgos:  s.cfg.HideAlgos,
	}
	if err := s.writeLine(hello.String()); err != nil {
		return err
	}
	tokenHex, err := s.cfg.Entropy.Token(s.cfg.TokenLength)
	if err != nil {
		return fmt.Errorf("s4pp: mint challenge token: %w", err)
	}
	raw, err := hex.DecodeString(tokenHex)
	if err != nil {
		return fmt.Errorf("s4pp: decode minted token: %w", err)
	}
	s.Challenge = ChallengeToken{Hex: tokenHex, Raw: raw}
	if err := s.writeLine(formatTok(tokenHex)); err != nil {
		return err
	}

	for {
		line, err := s.readLine(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if errors.Is(err, ErrFraming) || errors.Is(err, ErrLineTooLong) {
				_ = s.writeLine(formatRej("malformed"))
				s.logf("warn", "rejected: malformed")
				return nil
			}
			return err
		}
		if err := s.handleLine(ctx, line); err != nil {
			if rej, ok := err.(*Reject); ok {
				_ = s.writeLine(formatRej(rej.Reason))
				s.logf("warn", "rejected: %s", rej.Reason)
				if s.state == stateInSequence {
					s.abortCurrentSequence()
				}
				if isTerminalReject(rej.Reason) {
					s.state = stateClosed
					return nil
				}
				continue
			}
			return err
		}
	}
}

// isTerminalReject reports whether a reject reason ends the session
// outright, versus leaving it usable for the next sequence (spec.md §7:
// framing/negotiation/auth errors are fatal to the session; sequence and
// signature errors are fatal only to the sequence).
func isTerminalReject(reason string) bool {
	switch reason {
	case "malformed", "auth", "no common hash":
		return true
	default:
		return false
	}
}

func (s *ServerSession) readLine(ctx context.Context) ([]byte, error) {
	if s.Hide != nil {
		line, err := s.hideDec.ReadLine()
		if s.pendSalt {
			s.pendSalt = false
			if err != nil {
				return nil, err
			}
			return s.readLine(ctx)
		}
		return line, err
	}
	return s.framer.ReadLineContext(ctx)
}

func (s *ServerSession) abortCurrentSequence() {
	if s.seq != nil {
		_ = s.cfg.Sink.Abort(s.seq.SeqID)
	}
	s.seq = nil
	s.tap = nil
	s.state = stateAuthenticated
}

func (s *ServerSession) handleLine(ctx context.Context, raw []byte) error {
	line := string(raw)
	if line == "" {
		return nil
	}

	if s.state == stateAwaitingClientHelloOrAuth && isHello(line) {
		return s.handleClientHello(line)
	}

	tag, payload, hasColon := splitCommand(line)
	if !hasColon || !knownTags[tag] {
		if s.state == stateInSequence {
			return s.handleDataLine(raw, line)
		}
		return NewReject("malformed")
	}

	if tag != tagSig && s.tap != nil {
		s.tap.FeedLine(raw)
	}

	switch tag {
	case tagAuth:
		return s.handleAuth(payload)
	case tagSeq:
		return s.handleSeq(raw, payload)
	case tagDict:
		return s.handleDict(payload)
	case tagSig:
		return s.handleSig(ctx, payload)
	case tagHide:
		return s.handleHide(payload)
	default:
		return NewReject("malformed")
	}
}

// handleClientHello records the optional pre-AUTH client hello line
// (spec.md §4.2/§4.6). It does not advance state: AUTH is still expected
// next, and there is no wire ack for the hello itself.
func (s *ServerSession) handleClientHello(line string) error {
	ch, err := parseClientHello(line)
	if err != nil {
		return NewReject("malformed")
	}
	s.HashAlgos = ch.HashAlgos
	s.HideAlgos = ch.HideAlgos
	s.logf("debug", "client hello hash=%v hide=%v", ch.HashAlgos, ch.HideAlgos)
	return nil
}

func (s *ServerSession) handleAuth(payload string) error {
	if s.state != stateAwaitingClientHelloOrAuth {
		return NewReject("auth")
	}
	fields := splitFields(payload)
	if len(fields) != 3 {
		return NewReject("malformed")
	}
	algo, keyID, macHex := fields[0], fields[1], fields[2]
	if _, ok := LookupHash(algo); !ok {
		return NewReject("auth")
	}
	key, err := s.cfg.KeyStore.Lookup(keyID)
	if err != nil {
		return NewReject("auth")
	}
	h, err := NewHMAC(algo, key)
	if err != nil {
		return NewReject("auth")
	}
	h.Write([]byte(keyID))
	h.Write([]byte(s.Challenge.Hex))
	want := h.Sum(nil)
	got, err := hex.DecodeString(macHex)
	if err != nil || !hmacEqual(got, want) {
		return NewReject("auth")
	}

	s.Authenticated = true
	s.KeyID = keyID
	s.HashAlgo = algo
	s.key = key
	s.state = stateAuthenticated
	s.logf("info", "authenticated keyid=%s", keyID)
	return nil
}

func (s *ServerSession) handleSeq(raw []byte, payload string) error {
	if s.state != stateAuthenticated {
		return NewReject("malformed")
	}
	fields := splitFields(payload)
	if len(fields) != 4 {
		return NewReject("malformed")
	}
	seqID, err1 := strconv.ParseInt(fields[0], 10, 64)
	baseTime, err2 := strconv.ParseInt(fields[1], 10, 64)
	timeDivisor, err3 := strconv.ParseInt(fields[2], 10, 64)
	dataFormat, err4 := strconv.Atoi(fields[3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return NewReject("malformed")
	}

	tap, err := NewHMACTap(s.HashAlgo, s.key, s.Challenge.Raw)
	if err != nil {
		return NewReject("malformed")
	}
	if err := tap.BeginSequence(); err != nil {
		return NewReject("malformed")
	}
	tap.FeedLine(raw)

	seq, err := BeginSequence(&s.Session, seqID, baseTime, timeDivisor, dataFormat, s.cfg.MaxSamples)
	if err != nil {
		return NewReject(rejectReason(err))
	}
	seq.RejectNegativeSpan = s.cfg.RejectNegativeSpan

	if err := s.cfg.Sink.Begin(seqID); err != nil {
		return NewReject("malformed")
	}

	s.seq = seq
	s.tap = tap
	s.state = stateInSequence
	s.seqStartedAt = s.cfg.Clock.Now()
	return nil
}

func (s *ServerSession) handleDict(payload string) error {
	if s.state != stateInSequence {
		return NewReject("malformed")
	}
	fields := splitFields(payload)
	if len(fields) != 4 {
		return NewReject("malformed")
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return NewReject("malformed")
	}
	unitDivisor, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return NewReject("malformed")
	}
	if err := s.seq.PutDictEntry(idx, fields[1], unitDivisor, fields[3]); err != nil {
		return NewReject(rejectReason(err))
	}
	return nil
}

func (s *ServerSession) handleDataLine(raw []byte, line string) error {
	s.tap.FeedLine(raw)

	fields := splitFields(line)
	if len(fields) < 2 {
		return NewReject("malformed")
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return NewReject("malformed")
	}
	deltaT, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return NewReject("malformed")
	}

	var span int64
	var values []string
	if s.seq.DataFormat == DataFormat1 {
		if len(fields) < 4 {
			return NewReject("malformed")
		}
		span, err = strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return NewReject("malformed")
		}
		values = fields[3:]
	} else {
		if len(fields) < 3 {
			return NewReject("malformed")
		}
		values = fields[2:]
	}

	sample, err := s.seq.IngestSample(idx, deltaT, span, values)
	if err != nil {
		return NewReject(rejectReason(err))
	}
	return s.cfg.Sink.Emit(sample)
}

func (s *ServerSession) handleSig(ctx context.Context, payload string) error {
	if s.state != stateInSequence {
		return NewReject("malformed")
	}
	sig, err := hex.DecodeString(payload)
	if err != nil {
		return NewReject("malformed")
	}
	ok, err := s.tap.VerifyAndReset(s.HashAlgo, s.key, s.Challenge.Raw, sig)
	if err != nil {
		return NewReject("malformed")
	}
	seqID := s.seq.SeqID
	if !ok {
		_ = s.cfg.Sink.Abort(seqID)
		s.seq, s.tap, s.state = nil, nil, stateAuthenticated
		s.emitAudit(ctx, seqID, AuditReject, "bad signature")
		return NewReject("bad signature")
	}

	sampleCount := s.seq.SampleCount()
	elapsed := s.cfg.Clock.Now().Sub(s.seqStartedAt)

	committed, err := s.cfg.Sink.Commit(seqID)
	s.seq, s.tap, s.state = nil, nil, stateAuthenticated
	if err != nil || !committed {
		s.emitAudit(ctx, seqID, AuditNok, errString(err))
		return s.writeLine(formatNok(seqID))
	}
	s.MarkCommitted(seqID)
	s.emitAudit(ctx, seqID, AuditCommit, "")
	s.logf("info", "%s", CommitSummary(seqID, sampleCount, elapsed))
	return s.writeLine(formatOK(seqID))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *ServerSession) emitAudit(ctx context.Context, seqID int64, kind AuditEventKind, detail string) {
	event := AuditEvent{SessionID: s.sessionID, SeqID: seqID, Kind: kind, Detail: detail, At: s.cfg.Clock.Now()}
	if err := s.cfg.Audit.Export(ctx, event); err != nil {
		s.logf("warn", "audit export failed: %v", err)
	}
}

func (s *ServerSession) handleHide(payload string) error {
	if s.state != stateAuthenticated {
		return NewReject("hide")
	}
	if s.Hide != nil {
		return NewReject("hide")
	}
	fields := splitFields(payload)
	if len(fields) == 0 {
		return NewReject("malformed")
	}
	algo := fields[0]
	spec, ok := LookupCipher(algo)
	if !ok {
		return NewReject("hide")
	}
	if len(fields) >= 2 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n != spec.BlockSize {
			return NewReject("hide")
		}
	}

	sessionKey, err := DeriveSessionKey(spec, s.key, s.Challenge.Raw)
	if err != nil {
		return NewReject("hide")
	}
	dec, err := NewHideDecoder(spec, sessionKey, s.framer.Raw())
	if err != nil {
		return NewReject("hide")
	}
	s.Hide = &HideState{Algorithm: spec.Name, BlockSize: spec.BlockSize, SessionKey: sessionKey}
	s.hideDec = dec
	s.pendSalt = true
	s.logf("info", "hide activated algo=%s", spec.Name)
	return nil
}

// EmitTimeNotification sends NTFY:0 using the configured Clock. Failure to
// write is logged and swallowed: notifications are best-effort.
func (s *ServerSession) EmitTimeNotification() {
	now := s.cfg.Clock.Now()
	if err := s.writeLine(FormatTimeNotification(now.Unix(), -1)); err != nil {
		s.logf("warn", "notification write failed: %v", err)
	}
}

// EmitFirmwareNotification sends NTFY:1.
func (s *ServerSession) EmitFirmwareNotification(version, url string) {
	if err := s.writeLine(FormatFirmwareNotification(version, url)); err != nil {
		s.logf("warn", "notification write failed: %v", err)
	}
}

// EmitFlagsNotification sends NTFY:2.
func (s *ServerSession) EmitFlagsNotification(setFlags, clearFlags uint64) {
	if err := s.writeLine(FormatFlagsNotification(setFlags, clearFlags)); err != nil {
		s.logf("warn", "notification write failed: %v", err)
	}
}
