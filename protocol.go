package s4pp

import (
	"fmt"
	"strconv"
	"strings"
)

// ProtocolMajor and ProtocolMinor identify the S4PP wire version this
// engine speaks.
const (
	ProtocolMajor = 1
	ProtocolMinor = 2
)

// Command tags, as they appear before the ':' on the wire.
const (
	tagAuth = "AUTH"
	tagSeq  = "SEQ"
	tagDict = "DICT"
	tagSig  = "SIG"
	tagHide = "HIDE"
	tagRej  = "REJ"
	tagOK   = "OK"
	tagNok  = "NOK"
	tagNtfy = "NTFY"
	tagTok  = "TOK"
)

// helloPrefix is the literal that opens both the server and client hello line.
const helloPrefix = "S4PP/"

// dashAlgoList is the wire placeholder for "no algorithms of this kind".
const dashAlgoList = "-"

// Version is a parsed "major.minor" protocol version, e.g. from a hello line.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// AtLeast reports whether v is the same or a later version than other.
func (v Version) AtLeast(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

func parseVersion(s string) (Version, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return Version{}, fmt.Errorf("s4pp: malformed version %q", s)
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return Version{}, fmt.Errorf("s4pp: malformed version %q: %w", s, err)
	}
	min, err := strconv.Atoi(minor)
	if err != nil {
		return Version{}, fmt.Errorf("s4pp: malformed version %q: %w", s, err)
	}
	return Version{Major: maj, Minor: min}, nil
}

// splitCSV splits a comma-separated wire list, treating the literal "-" as
// an empty list (per the HIDE-algorithms field convention).
func splitCSV(s string) []string {
	if s == "" || s == dashAlgoList {
		return nil
	}
	return strings.Split(s, ",")
}

// joinCSVOrDash renders a comma-separated wire list, emitting "-" for an
// empty list per the HIDE-algorithms field convention.
func joinCSVOrDash(items []string) string {
	if len(items) == 0 {
		return dashAlgoList
	}
	return strings.Join(items, ",")
}

// serverHello is the parsed form of the server's first line.
type serverHello struct {
	Version    Version
	HashAlgos  []string
	MaxSamples int
	HideAlgos  []string // absent on 1.0/1.1 servers
}

// parseServerHello parses "S4PP/1.2 <hash-algos> <max-samples> <hide-algos>"
// and also the 1.0/1.1 form lacking the trailing hide-algos field.
func parseServerHello(line string) (serverHello, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return serverHello{}, fmt.Errorf("s4pp: malformed server hello %q", line)
	}
	if !strings.HasPrefix(fields[0], helloPrefix) {
		return serverHello{}, fmt.Errorf("s4pp: malformed server hello %q", line)
	}
	ver, err := parseVersion(strings.TrimPrefix(fields[0], helloPrefix))
	if err != nil {
		return serverHello{}, err
	}
	maxSamples, err := strconv.Atoi(fields[2])
	if err != nil {
		return serverHello{}, fmt.Errorf("s4pp: malformed max-samples %q: %w", fields[2], err)
	}
	h := serverHello{
		Version:    ver,
		HashAlgos:  splitCSV(fields[1]),
		MaxSamples: maxSamples,
	}
	if len(fields) >= 4 {
		h.HideAlgos = splitCSV(fields[3])
	}
	return h, nil
}

func (h serverHello) String() string {
	return fmt.Sprintf("%s%s %s %d %s", helloPrefix, h.Version, joinCSVOrDash(h.HashAlgos), h.MaxSamples, joinCSVOrDash(h.HideAlgos))
}

// clientHello is the parsed form of the optional client hello line.
type clientHello struct {
	Version   Version
	HashAlgos []string
	HideAlgos []string
}

// parseClientHello parses "S4PP/1.2 <hash-algos> <hide-algos-or-dash>".
func parseClientHello(line string) (clientHello, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return clientHello{}, fmt.Errorf("s4pp: malformed client hello %q", line)
	}
	if !strings.HasPrefix(fields[0], helloPrefix) {
		return clientHello{}, fmt.Errorf("s4pp: malformed client hello %q", line)
	}
	ver, err := parseVersion(strings.TrimPrefix(fields[0], helloPrefix))
	if err != nil {
		return clientHello{}, err
	}
	c := clientHello{Version: ver, HashAlgos: splitCSV(fields[1])}
	if len(fields) >= 3 {
		c.HideAlgos = splitCSV(fields[2])
	}
	return c, nil
}

func (c clientHello) String() string {
	return fmt.Sprintf("%s%s %s %s", helloPrefix, c.Version, joinCSVOrDash(c.HashAlgos), joinCSVOrDash(c.HideAlgos))
}

// isHello reports whether a raw line looks like a hello line rather than a
// "TAG:payload" command.
func isHello(line string) bool {
	return strings.HasPrefix(line, helloPrefix)
}

// splitCommand splits a "TAG:payload" line into its tag and payload. Lines
// with no ':' are returned with an empty payload and ok=false.
func splitCommand(line string) (tag, payload string, ok bool) {
	t, p, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return t, p, true
}

// splitFields splits a command payload on ',' without any escaping: the
// wire format forbids commas inside field values, so a literal split is
// exactly the contract.
func splitFields(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, ",")
}

func formatTok(tokenHex string) string { return tagTok + ":" + tokenHex }

func formatAuth(algo, keyID, hmacHex string) string {
	return tagAuth + ":" + algo + "," + keyID + "," + hmacHex
}

func formatSeq(seqID, baseTime, timeDivisor int64, dataFormat int) string {
	return fmt.Sprintf("%s:%d,%d,%d,%d", tagSeq, seqID, baseTime, timeDivisor, dataFormat)
}

func formatDict(idx int, unit string, unitDivisor int64, name string) string {
	return fmt.Sprintf("%s:%d,%s,%d,%s", tagDict, idx, unit, unitDivisor, name)
}

func formatSig(hmacHex string) string { return tagSig + ":" + hmacHex }

func formatHide(algo string, blockSize int) string {
	if blockSize <= 0 {
		return tagHide + ":" + algo
	}
	return fmt.Sprintf("%s:%s,%d", tagHide, algo, blockSize)
}

func formatRej(reason string) string { return tagRej + ":" + reason }
func formatOK(seqID int64) string    { return fmt.Sprintf("%s:%d", tagOK, seqID) }
func formatNok(seqID int64) string   { return fmt.Sprintf("%s:%d", tagNok, seqID) }
