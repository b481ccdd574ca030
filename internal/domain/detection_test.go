package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAddress(t *testing.T) {
	cases := []struct {
		addr string
		want error
	}{
		{"AA:BB:CC:DD:EE:01", nil},
		{"a4:9f:e7:00:11:22", nil},
		{"01:22:33:44:55:66", ErrNonUnicast},
		{"FF:FF:FF:FF:FF:FF", ErrNonUnicast},
		{"33:33:00:00:00:01", ErrNonUnicast},
		{"AA:BB:CC:DD:EE", ErrAddressLength},
		{"AA:BB:CC:DD:EE:FF:00", ErrAddressLength},
		{"", ErrAddressLength},
		{"ZZ:BB:CC:DD:EE:01", ErrAddressSyntax},
	}
	for _, tc := range cases {
		t.Run(tc.addr, func(t *testing.T) {
			err := CheckAddress(tc.addr)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGroupBitAlwaysRejected(t *testing.T) {
	for octet := 0; octet < 256; octet++ {
		addr := hexOctet(byte(octet)) + ":00:00:00:00:02"
		err := CheckAddress(addr)
		if octet&1 == 1 {
			require.ErrorIs(t, err, ErrNonUnicast, addr)
		} else {
			require.NoError(t, err, addr)
		}
	}
}

func TestVendorPrefix(t *testing.T) {
	prefix, ok := VendorPrefix("aa:bb:cc:dd:ee:01")
	require.True(t, ok)
	assert.Equal(t, "AABBCC", prefix)

	prefix, ok = VendorPrefix("24-6f-28-00-00-00")
	require.True(t, ok)
	assert.Equal(t, "246F28", prefix)

	_, ok = VendorPrefix("AA:BB")
	assert.False(t, ok)

	_, ok = VendorPrefix("GG:BB:CC:DD:EE:FF")
	assert.False(t, ok)
}

func TestSignalDecodesNumberOrString(t *testing.T) {
	var recs []DetectionRecord
	payload := `[{"nodo":"n1","mac":"AA:BB:CC:DD:EE:01","rssi":-40},{"nodo":"n1","mac":"AA:BB:CC:DD:EE:02","rssi":" -71 "}]`
	require.NoError(t, json.Unmarshal([]byte(payload), &recs))
	assert.Equal(t, Signal(-40), recs[0].SignalStrength)
	assert.Equal(t, Signal(-71), recs[1].SignalStrength)

	var bad DetectionRecord
	assert.Error(t, json.Unmarshal([]byte(`{"rssi":"strong"}`), &bad))
}

func TestDetectionRecordWireShape(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	rec := DetectionRecord{
		NodeID:          "NodeSW-3",
		HardwareAddress: "AA:BB:CC:DD:EE:01",
		SignalStrength:  -55,
		Fingerprint:     "fp",
		RawPayload:      Optional("80000000"),
		ObservedAt:      MillisOf(at),
	}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodo":"NodeSW-3","mac":"AA:BB:CC:DD:EE:01","rssi":-55,"fingerprint":"fp","raw_packet":"80000000","timestamp":1700000000123}`, string(b))
	assert.Equal(t, "", rec.Hint())
	assert.True(t, rec.ObservedAt.Time().Equal(at))
}

func TestClassifyNode(t *testing.T) {
	assert.Equal(t, NodeStandalone, ClassifyNode("NodoWS-01"))
	assert.Equal(t, NodeStandalone, ClassifyNode("nodesw_kitchen"))
	assert.Equal(t, NodeStandalone, ClassifyNode("my-STANDALONE-unit"))
	assert.Equal(t, NodeMesh, ClassifyNode("Node1"))
	assert.Equal(t, NodeMesh, ClassifyNode(""))
}

func hexOctet(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}
