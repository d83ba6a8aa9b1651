// Command s4ppc dials an S4PP server, authenticates, and sends either one
// canned sequence holding a single sample or every sequence read from a
// simple line-oriented script file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmattsson/s4pp"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4151", "server address")
	keyID := flag.String("keyid", "", "key identifier (required)")
	secret := flag.String("secret", "", "shared secret (required)")
	hide := flag.String("hide", "", "activate HIDE with this cipher after handshake, e.g. AES-128-CBC")
	script := flag.String("script", "", "path to a sequence script file; if empty, sends one canned sample")
	timeout := flag.Duration("timeout", 10*time.Second, "overall session deadline")
	flag.Parse()

	if *keyID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: s4ppc -keyid <id> -secret <secret> [-addr host:port] [-hide cipher] [-script path]")
		os.Exit(1)
	}

	if err := run(*addr, *keyID, *secret, *hide, *script, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "s4ppc: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, keyID, secret, hide, scriptPath string, timeout time.Duration) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger := s4pp.NewSessionLogger(os.Stderr)
	sess := s4pp.NewClientSession(conn, conn, s4pp.ClientConfig{
		KeyID:  keyID,
		Secret: []byte(secret),
		Logger: logger,
	})
	sess.OnNotification(s4pp.NotifyTime, func(n s4pp.Notification) {
		logger.Infof("client", "server requests time sync: %v", n.Args)
	})
	sess.OnNotification(s4pp.NotifyFirmware, func(n s4pp.Notification) {
		logger.Infof("client", "server advertises firmware: %v", n.Args)
	})

	if err := sess.Handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	if hide != "" {
		if err := sess.ActivateHide(hide); err != nil {
			return fmt.Errorf("activate hide: %w", err)
		}
	}

	builders, err := loadSequences(scriptPath)
	if err != nil {
		return err
	}

	for _, b := range builders {
		sigHex, err := sess.SendSequence(b)
		if err != nil {
			return fmt.Errorf("send seq %d: %w", b.SeqID, err)
		}
		tag, seqID, err := sess.ReadResponse(ctx)
		if err != nil {
			return fmt.Errorf("read response for seq %d: %w", b.SeqID, err)
		}
		fmt.Printf("seq=%d sig=%s response=%s\n", seqID, sigHex, tag)
	}
	return nil
}

// loadSequences returns either the sequences parsed from path, or a single
// canned sequence carrying one data-format-0 sample when path is empty.
func loadSequences(path string) ([]s4pp.SequenceBuilder, error) {
	if path == "" {
		return []s4pp.SequenceBuilder{{
			SeqID:       1,
			BaseTime:    time.Now().Unix(),
			TimeDivisor: 1,
			DataFormat:  s4pp.DataFormat0,
			Dict: []s4pp.DictLine{
				{Idx: 0, Unit: "C", UnitDivisor: 10, Name: "temp"},
			},
			Data: []s4pp.DataLine{
				{DictIdx: 0, DeltaT: 0, Values: []string{"215"}},
			},
		}}, nil
	}
	return parseScript(path)
}

// parseScript reads a script in the form:
//
//	seq <seqid> <basetime> <divisor> <format>
//	dict <idx> <unit> <unitdivisor> <name>
//	data <idx> <deltat> <span-or-"-"> <value...>
//
// Each "seq" line starts a new SequenceBuilder; dict/data lines attach to
// the most recently started one.
func parseScript(path string) ([]s4pp.SequenceBuilder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	var out []s4pp.SequenceBuilder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "seq":
			if len(fields) != 5 {
				return nil, fmt.Errorf("malformed seq line: %q", line)
			}
			seqID, _ := strconv.ParseInt(fields[1], 10, 64)
			baseTime, _ := strconv.ParseInt(fields[2], 10, 64)
			divisor, _ := strconv.ParseInt(fields[3], 10, 64)
			format, _ := strconv.Atoi(fields[4])
			out = append(out, s4pp.SequenceBuilder{
				SeqID:       seqID,
				BaseTime:    baseTime,
				TimeDivisor: divisor,
				DataFormat:  format,
			})
		case "dict":
			if len(out) == 0 || len(fields) != 5 {
				return nil, fmt.Errorf("malformed dict line: %q", line)
			}
			idx, _ := strconv.Atoi(fields[1])
			unitDivisor, _ := strconv.ParseInt(fields[3], 10, 64)
			b := &out[len(out)-1]
			b.Dict = append(b.Dict, s4pp.DictLine{Idx: idx, Unit: fields[2], UnitDivisor: unitDivisor, Name: fields[4]})
		case "data":
			if len(out) == 0 || len(fields) < 4 {
				return nil, fmt.Errorf("malformed data line: %q", line)
			}
			idx, _ := strconv.Atoi(fields[1])
			deltaT, _ := strconv.ParseInt(fields[2], 10, 64)
			var span int64
			if fields[3] != "-" {
				span, _ = strconv.ParseInt(fields[3], 10, 64)
			}
			b := &out[len(out)-1]
			b.Data = append(b.Data, s4pp.DataLine{DictIdx: idx, DeltaT: deltaT, Span: span, Values: fields[4:]})
		default:
			return nil, fmt.Errorf("unknown script directive: %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return out, nil
}
