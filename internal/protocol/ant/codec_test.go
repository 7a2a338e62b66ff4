package ant

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponseEvent(t *testing.T) {
	ev, err := DecodeResponseEvent([]byte{2, byte(MesgOpenChannel), byte(ChannelInWrongState)})
	require.NoError(t, err)
	assert.Equal(t, uint8(2), ev.Channel)
	assert.Equal(t, MesgOpenChannel, ev.MessageID)
	assert.False(t, ev.Success())
	assert.False(t, ev.IsChannelEvent())

	_, err = DecodeResponseEvent([]byte{1, 2})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestBurstHeaderMasks(t *testing.T) {
	h := DecodeBurstHeader(0b10100011)
	assert.Equal(t, uint8(3), h.Channel)
	assert.Equal(t, uint8(5), h.Sequence)
	assert.True(t, h.Last())
	assert.Equal(t, uint8(1), h.Counter())

	for ch := uint8(0); ch < 32; ch++ {
		for seq := uint8(0); seq < 8; seq++ {
			b := BurstHeader{Channel: ch, Sequence: seq}.Encode()
			assert.Equal(t, BurstHeader{Channel: ch, Sequence: seq}, DecodeBurstHeader(b))
		}
	}
}

func TestDeviceIDRoundTrip(t *testing.T) {
	id := DeviceID{Number: 0xBEEF, Type: 120, Pairing: true, TransmissionType: 5}
	got, err := DecodeDeviceID(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDecodeExtendedInfo(t *testing.T) {
	p := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8,
		ExtFlagDeviceID | ExtFlagRSSI | ExtFlagTimestamp,
		0x34, 0x12, 0x78, 0x01, // device id
		0x20, 0xC4, 0xB0, // rssi
		0x10, 0x00, // timestamp
	}
	info, err := DecodeExtendedInfo(p, DataPayloadLen)
	require.NoError(t, err)
	require.NotNil(t, info.DeviceID)
	assert.Equal(t, uint16(0x1234), info.DeviceID.Number)
	assert.Equal(t, uint8(0x78), info.DeviceID.Type)
	assert.Equal(t, uint8(1), info.DeviceID.TransmissionType)
	require.NotNil(t, info.RSSI)
	assert.Equal(t, int8(-60), info.RSSI.Value)
	require.NotNil(t, info.Timestamp)
	assert.Equal(t, uint16(16), *info.Timestamp)

	info, err = DecodeExtendedInfo(p[:9], DataPayloadLen)
	assert.NoError(t, err)
	assert.Nil(t, info)

	_, err = DecodeExtendedInfo(p[:12], DataPayloadLen)
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestDecodeMisc(t *testing.T) {
	s, err := DecodeChannelStatus([]byte{1, 0x10 | 0x04 | 0x03})
	require.NoError(t, err)
	assert.Equal(t, ChannelStatus{Channel: 1, State: 3, Network: 1, Type: ChannelTypeMaster}, s)

	n, err := DecodeSerialNumber([]byte{0x78, 0x56, 0x34, 0x12})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), n)

	assert.Equal(t, "AJK3.10", DecodeVersion([]byte("AJK3.10\x00\x00")))

	reason, err := DecodeStartup([]byte{0x20})
	require.NoError(t, err)
	assert.Equal(t, ResetCommand, reason)
	assert.Equal(t, "command_reset", reason.String())
}

func TestValidation(t *testing.T) {
	for _, n := range []int{0, 1, 30000, 65534} {
		v, err := ValidateDeviceNumber(n)
		require.NoError(t, err)
		assert.Equal(t, uint16(n), v)
	}
	for _, n := range []int{-1, 65535, 70000} {
		_, err := ValidateDeviceNumber(n)
		var re *RangeError
		require.True(t, errors.As(err, &re), "n=%d", n)
		assert.Equal(t, 65535, re.Max)
	}

	_, err := ValidateDeviceType(127)
	assert.Error(t, err)
	_, err = ValidatePeriod(65535)
	assert.Error(t, err)
	_, err = ValidateRFFrequency(124)
	assert.Error(t, err)
	v, err := ValidateNetworkNumber(255)
	assert.NoError(t, err)
	assert.Equal(t, uint8(255), v)
	_, err = ValidateNetworkNumber(256)
	assert.Error(t, err)
	_, err = ValidateChannelNumber(8, 8)
	assert.Error(t, err)
}

func TestValidateNetworkKey(t *testing.T) {
	for n := 0; n < 20; n++ {
		key := make([]byte, n)
		got, err := ValidateNetworkKey(key)
		if n == 8 {
			require.NoError(t, err)
			assert.Equal(t, key, got)
			continue
		}
		var re *RangeError
		require.True(t, errors.As(err, &re), "len=%d", n)
		assert.Contains(t, re.Error(), "exactly 8")
	}
}
