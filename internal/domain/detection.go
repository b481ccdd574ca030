package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AddressLength is the length of a colon-hex hardware address (AA:BB:CC:DD:EE:FF).
const AddressLength = 17

// UnknownVendor is the label persisted when neither the vendor table nor the
// record itself names a manufacturer.
const UnknownVendor = "unknown vendor"

var (
	ErrAddressLength = errors.New("hardware address must be 17 characters")
	ErrAddressSyntax = errors.New("hardware address first octet is not hex")
	ErrNonUnicast    = errors.New("hardware address is multicast or broadcast")
)

// DetectionRecord is one sighting of a hardware address by a sensor node.
// It is the unit carried from the collector to the ingest service.
type DetectionRecord struct {
	NodeID          string     `json:"nodo"`
	HardwareAddress string     `json:"mac"`
	SignalStrength  Signal     `json:"rssi"`
	Fingerprint     string     `json:"fingerprint"`
	RawPayload      *string    `json:"raw_packet,omitempty"`
	VendorHint      *string    `json:"vendor,omitempty"`
	ObservedAt      UnixMillis `json:"timestamp,omitempty"`
}

// Raw returns the raw payload or an empty string.
func (r DetectionRecord) Raw() string {
	if r.RawPayload == nil {
		return ""
	}
	return *r.RawPayload
}

// Hint returns the vendor hint or an empty string.
func (r DetectionRecord) Hint() string {
	if r.VendorHint == nil {
		return ""
	}
	return *r.VendorHint
}

// PersistedDetection is a DetectionRecord accepted by the ingest service.
type PersistedDetection struct {
	ID         int64
	Record     DetectionRecord
	VendorName string
	CreatedAt  time.Time
}

// VendorEntry maps an OUI prefix (6 upper-case hex characters) to a manufacturer.
type VendorEntry struct {
	Prefix     string
	VendorName string
}

// Optional returns a pointer to s, for the optional record fields.
func Optional(s string) *string {
	return &s
}

// Signal is a received signal strength in dBm. It decodes from a JSON number
// or from a numeric string, since field collectors forward the CSV text as-is.
type Signal int

func (s *Signal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(str))
	}
	v, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("rssi %q is not an integer", string(b))
	}
	*s = Signal(v)
	return nil
}

// UnixMillis is a wall-clock instant encoded as milliseconds since the epoch.
type UnixMillis int64

func MillisOf(t time.Time) UnixMillis {
	return UnixMillis(t.UnixMilli())
}

func (m UnixMillis) Time() time.Time {
	if m == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(m))
}

// VendorPrefix derives the OUI of addr: separators removed, upper-cased, first
// six characters. ok is false when fewer than six hex characters remain.
func VendorPrefix(addr string) (string, bool) {
	clean := strings.NewReplacer(":", "", "-", "").Replace(addr)
	if len(clean) < 6 {
		return "", false
	}
	prefix := strings.ToUpper(clean[:6])
	for i := 0; i < len(prefix); i++ {
		if !isHex(prefix[i]) {
			return "", false
		}
	}
	return prefix, true
}

// CheckAddress reports why addr cannot be persisted as a device identity, or
// nil when it is a well-formed individually-addressed station.
func CheckAddress(addr string) error {
	if len(addr) != AddressLength {
		return ErrAddressLength
	}
	first, err := strconv.ParseUint(addr[:2], 16, 8)
	if err != nil {
		return ErrAddressSyntax
	}
	if IsGroupAddress(byte(first)) {
		return ErrNonUnicast
	}
	return nil
}

// IsGroupAddress reports whether the I/G bit of the first octet is set.
func IsGroupAddress(firstOctet byte) bool {
	return firstOctet&0x01 == 0x01
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('A' <= c && c <= 'F') || ('a' <= c && c <= 'f')
}
