package s4pp

import (
	"fmt"
	"strconv"
)

// Notification codes allocated by spec.md §4.8.
const (
	NotifyTime     = 0
	NotifyFirmware = 1
	NotifyFlags    = 2
)

// Notification is a decoded NTFY line. Args holds the payload fields after
// the code, exactly as they appeared on the wire (no further parsing is
// imposed here; callers for recognised codes pull out what they need).
type Notification struct {
	Code int
	Args []string
}

// ParseNotification decodes an NTFY payload (the part after "NTFY:"). An
// unrecognised code is returned with ok=false rather than an error: per
// spec.md §4.7 and testable property 7, unknown codes MUST be silently
// dropped, never rejected.
func ParseNotification(payload string) (Notification, bool) {
	fields := splitFields(payload)
	if len(fields) == 0 {
		return Notification{}, false
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return Notification{}, false
	}
	n := Notification{Code: code, Args: fields[1:]}
	switch code {
	case NotifyTime, NotifyFirmware, NotifyFlags:
		return n, true
	default:
		return n, false
	}
}

// FormatTimeNotification renders NTFY:0. utcMillis < 0 means omit the
// millisecond field; utcSec is always written as whole seconds, with no
// decimal fraction.
func FormatTimeNotification(utcSec int64, utcMillis int) string {
	if utcMillis < 0 {
		return fmt.Sprintf("%s:%d,%d", tagNtfy, NotifyTime, utcSec)
	}
	return fmt.Sprintf("%s:%d,%d,%d", tagNtfy, NotifyTime, utcSec, utcMillis)
}

// FormatFirmwareNotification renders NTFY:1. url may be empty.
func FormatFirmwareNotification(version, url string) string {
	if url == "" {
		return fmt.Sprintf("%s:%d,%s", tagNtfy, NotifyFirmware, version)
	}
	return fmt.Sprintf("%s:%d,%s,%s", tagNtfy, NotifyFirmware, version, url)
}

// FormatFlagsNotification renders NTFY:2 using the comma form, per
// spec.md §9 design note 3 ("the comma form is canonical and should be the
// only form emitted"). setFlags/clearFlags are rendered as lowercase,
// unpadded hex.
func FormatFlagsNotification(setFlags, clearFlags uint64) string {
	return fmt.Sprintf("%s:%d,%s,%s", tagNtfy, NotifyFlags,
		strconv.FormatUint(setFlags, 16), strconv.FormatUint(clearFlags, 16))
}
