package s4pp

import "testing"

func TestParseNotification_KnownCodes(t *testing.T) {
	cases := []struct {
		payload string
		want    Notification
	}{
		{"0,1700000000", Notification{Code: NotifyTime, Args: []string{"1700000000"}}},
		{"1,2.4.0,http://example.test/fw.bin", Notification{Code: NotifyFirmware, Args: []string{"2.4.0", "http://example.test/fw.bin"}}},
		{"2,ff,0", Notification{Code: NotifyFlags, Args: []string{"ff", "0"}}},
	}
	for _, c := range cases {
		n, ok := ParseNotification(c.payload)
		if !ok {
			t.Errorf("ParseNotification(%q): ok = false, want true", c.payload)
			continue
		}
		if n.Code != c.want.Code {
			t.Errorf("ParseNotification(%q).Code = %d, want %d", c.payload, n.Code, c.want.Code)
		}
		if len(n.Args) != len(c.want.Args) {
			t.Fatalf("ParseNotification(%q).Args = %v, want %v", c.payload, n.Args, c.want.Args)
		}
		for i := range n.Args {
			if n.Args[i] != c.want.Args[i] {
				t.Errorf("ParseNotification(%q).Args[%d] = %q, want %q", c.payload, i, n.Args[i], c.want.Args[i])
			}
		}
	}
}

// Unknown notification codes must be silently dropped, never rejected.
func TestParseNotification_UnknownCodeIsDropped(t *testing.T) {
	n, ok := ParseNotification("99,whatever")
	if ok {
		t.Errorf("expected ok = false for an unrecognised code, got %+v", n)
	}
}

func TestParseNotification_Malformed(t *testing.T) {
	if _, ok := ParseNotification(""); ok {
		t.Error("empty payload should not parse")
	}
	if _, ok := ParseNotification("not-a-number,x"); ok {
		t.Error("non-numeric code should not parse")
	}
}

func TestFormatTimeNotification(t *testing.T) {
	if got, want := FormatTimeNotification(1700000000, -1), "NTFY:0,1700000000"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := FormatTimeNotification(1700000000, 250), "NTFY:0,1700000000,250"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatFirmwareNotification(t *testing.T) {
	if got, want := FormatFirmwareNotification("2.4.0", ""), "NTFY:1,2.4.0"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := FormatFirmwareNotification("2.4.0", "http://x/fw"), "NTFY:1,2.4.0,http://x/fw"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatFlagsNotification_CommaForm(t *testing.T) {
	got := FormatFlagsNotification(0xff, 0x0)
	want := "NTFY:2,ff,0"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
