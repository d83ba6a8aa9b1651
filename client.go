package s4pp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
)

// ClientConfig collects the client role engine's identity and advertised
// capabilities.
type ClientConfig struct {
	KeyID  string
	Secret []byte

	HashAlgos []string // hash algorithms this client offers; default SupportedHashAlgos
	HideAlgos []string // HIDE ciphers this client offers; default none (advertised as "-" in the client hello)

	SendClientHello bool
	Logger          *SessionLogger
}

func (c *ClientConfig) applyDefaults() {
	if c.HashAlgos == nil {
		c.HashAlgos = SupportedHashAlgos()
	}
}

// ClientSession drives one S4PP connection from the client role. It mirrors
// ServerSession's state machine from the other side: build a hello/AUTH,
// then pipeline one or more SEQ/DICT/data/SIG batches.
type ClientSession struct {
	Session

	cfg       ClientConfig
	sessionID string
	framer    *LineFramer
	w         io.Writer
	hideEnc   *HideEncoder

	notifyHandlers map[int]func(Notification)
}

// NewClientSession builds a client session reading server lines from r and
// writing to w.
func NewClientSession(r io.Reader, w io.Writer, cfg ClientConfig) *ClientSession {
	cfg.applyDefaults()
	return &ClientSession{
		cfg:            cfg,
		sessionID:      NewSessionID(),
		framer:         NewLineFramer(r),
		w:              w,
		notifyHandlers: make(map[int]func(Notification)),
	}
}

// OnNotification registers a callback for a specific NTFY code. Codes
// without a registered handler are silently dropped, per spec.md §4.7.
func (c *ClientSession) OnNotification(code int, fn func(Notification)) {
	c.notifyHandlers[code] = fn
}

func (c *ClientSession) logf(level, format string, args ...any) {
	if c.cfg.Logger == nil {
		return
	}
	switch level {
	case "debug":
		c.cfg.Logger.Debugf(c.sessionID, format, args...)
	case "info":
		c.cfg.Logger.Infof(c.sessionID, format, args...)
	case "warn":
		c.cfg.Logger.Warnf(c.sessionID, format, args...)
	case "error":
		c.cfg.Logger.Errorf(c.sessionID, format, args...)
	}
}

// writeLine writes one outbound line, through the HIDE encoder once
// active. Commands and hello lines before HIDE activation go straight to
// the transport.
func (c *ClientSession) writeLine(line string) error {
	if c.hideEnc != nil {
		return c.hideEnc.WriteLine([]byte(line))
	}
	_, err := io.WriteString(c.w, line+"\n")
	return err
}

func (c *ClientSession) readLine() (string, error) {
	line, err := c.framer.ReadLine()
	if err != nil {
		return "", err
	}
	return string(line), nil
}

// Handshake performs the optional client hello, reads the server hello and
// TOK, and emits AUTH. It must be called before any sequence is sent.
func (c *ClientSession) Handshake() error {
	if c.cfg.SendClientHello {
		hello := clientHello{
			Version:   Version{Major: ProtocolMajor, Minor: ProtocolMinor},
			HashAlgos: c.cfg.HashAlgos,
			HideAlgos: c.cfg.HideAlgos,
		}
		if err := c.writeLine(hello.String()); err != nil {
			return err
		}
	}

	helloLine, err := c.readLine()
	if err != nil {
		return err
	}
	sh, err := parseServerHello(helloLine)
	if err != nil {
		return err
	}
	c.Version = sh.Version
	c.HashAlgos = sh.HashAlgos
	c.HideAlgos = sh.HideAlgos

	algo, err := NegotiateHash(c.cfg.HashAlgos, sh.HashAlgos)
	if err != nil {
		return err
	}
	c.HashAlgo = algo
	c.key = c.cfg.Secret

	tokLine, err := c.readLine()
	if err != nil {
		return err
	}
	tag, payload, ok := splitCommand(tokLine)
	if !ok || tag != tagTok {
		return ErrFraming
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return ErrFraming
	}
	c.Challenge = ChallengeToken{Hex: payload, Raw: raw}

	h, err := NewHMAC(algo, c.key)
	if err != nil {
		return err
	}
	h.Write([]byte(c.cfg.KeyID))
	h.Write([]byte(c.Challenge.Hex))
	macHex := hex.EncodeToString(h.Sum(nil))
	if err := c.writeLine(formatAuth(algo, c.cfg.KeyID, macHex)); err != nil {
		return err
	}
	c.Authenticated = true
	c.logf("info", "handshake complete keyid=%s hash=%s", c.cfg.KeyID, algo)
	return nil
}

// ActivateHide negotiates the client->server confidentiality layer. It must
// be called outside a sequence, after Handshake, and at most once per
// session.
func (c *ClientSession) ActivateHide(algoName string) error {
	if !c.Authenticated {
		return ErrHideNotAuthenticated
	}
	if c.Hide != nil {
		return ErrHideAlreadyActive
	}
	spec, ok := LookupCipher(algoName)
	if !ok {
		return ErrUnknownAlgorithm
	}
	if err := c.writeLine(formatHide(spec.Name, 0)); err != nil {
		return err
	}

	sessionKey, err := DeriveSessionKey(spec, c.key, c.Challenge.Raw)
	if err != nil {
		return err
	}
	enc, err := NewHideEncoder(spec, sessionKey, c.w)
	if err != nil {
		return err
	}
	c.Hide = &HideState{Algorithm: spec.Name, BlockSize: spec.BlockSize, SessionKey: sessionKey}
	c.hideEnc = enc

	saltHex, err := CryptoRandEntropy{}.Token(16)
	if err != nil {
		return err
	}
	if err := c.hideEnc.WriteLine([]byte(saltHex)); err != nil {
		return err
	}
	return c.hideEnc.Flush()
}

// SequenceBuilder accumulates one SEQ..SIG batch for SendSequence.
type SequenceBuilder struct {
	SeqID       int64
	BaseTime    int64
	TimeDivisor int64
	DataFormat  int
	Dict        []DictLine
	Data        []DataLine
}

// DictLine is one DICT command to emit ahead of data lines.
type DictLine struct {
	Idx         int
	Unit        string
	UnitDivisor int64
	Name        string
}

// DataLine is one data line to emit; Span is ignored (and must be zero)
// for DataFormat0 sequences.
type DataLine struct {
	DictIdx int
	DeltaT  int64
	Span    int64
	Values  []string
}

// SendSequence emits one complete SEQ..SIG batch, building the sequence
// HMAC locally over exactly the bytes written, and returns the hex-encoded
// signature it sent (for tests and logging).
func (c *ClientSession) SendSequence(b SequenceBuilder) (string, error) {
	tap, err := NewHMACTap(c.HashAlgo, c.key, c.Challenge.Raw)
	if err != nil {
		return "", err
	}
	if err := tap.BeginSequence(); err != nil {
		return "", err
	}

	seqLine := formatSeq(b.SeqID, b.BaseTime, b.TimeDivisor, b.DataFormat)
	if err := c.writeLine(seqLine); err != nil {
		return "", err
	}
	tap.FeedLine([]byte(seqLine))

	for _, d := range b.Dict {
		line := formatDict(d.Idx, d.Unit, d.UnitDivisor, d.Name)
		if err := c.writeLine(line); err != nil {
			return "", err
		}
		tap.FeedLine([]byte(line))
	}

	for _, d := range b.Data {
		line := formatDataLine(b.DataFormat, d)
		if err := c.writeLine(line); err != nil {
			return "", err
		}
		tap.FeedLine([]byte(line))
	}

	sum, err := tap.EndSequence()
	if err != nil {
		return "", err
	}
	sigHex := hex.EncodeToString(sum)
	if err := c.writeLine(formatSig(sigHex)); err != nil {
		return "", err
	}
	if c.hideEnc != nil {
		if err := c.hideEnc.Flush(); err != nil {
			return "", err
		}
	}
	return sigHex, nil
}

func formatDataLine(dataFormat int, d DataLine) string {
	if dataFormat == DataFormat1 {
		fields := make([]string, 0, 3+len(d.Values))
		fields = append(fields, strconv.Itoa(d.DictIdx), strconv.FormatInt(d.DeltaT, 10), strconv.FormatInt(d.Span, 10))
		fields = append(fields, d.Values...)
		return joinComma(fields)
	}
	fields := make([]string, 0, 2+len(d.Values))
	fields = append(fields, strconv.Itoa(d.DictIdx), strconv.FormatInt(d.DeltaT, 10))
	fields = append(fields, d.Values...)
	return joinComma(fields)
}

func joinComma(fields []string) string {
	out := fields[0]
	for _, f := range fields[1:] {
		out += "," + f
	}
	return out
}

// ReadResponse reads and classifies the next server line: an OK/NOK
// response, or a notification dispatched to any registered handler. A REJ
// line is returned as a *Reject error with an empty tag. It blocks until a
// line arrives or ctx is cancelled.
func (c *ClientSession) ReadResponse(ctx context.Context) (tag string, seqID int64, err error) {
	for {
		line, rerr := c.readLineContext(ctx)
		if rerr != nil {
			return "", 0, rerr
		}
		t, payload, ok := splitCommand(line)
		if !ok {
			continue
		}
		switch t {
		case tagOK, tagNok:
			id, perr := strconv.ParseInt(payload, 10, 64)
			if perr != nil {
				return "", 0, fmt.Errorf("s4pp: malformed %s response: %q", t, payload)
			}
			return t, id, nil
		case tagNtfy:
			n, ok := ParseNotification(payload)
			if !ok {
				continue
			}
			if fn := c.notifyHandlers[n.Code]; fn != nil {
				fn(n)
			}
		case tagRej:
			return "", 0, NewReject(payload)
		}
	}
}

func (c *ClientSession) readLineContext(ctx context.Context) (string, error) {
	line, err := c.framer.ReadLineContext(ctx)
	if err != nil {
		return "", err
	}
	return string(line), nil
}
