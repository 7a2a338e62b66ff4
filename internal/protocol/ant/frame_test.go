package ant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncodeParse(t *testing.T) {
	f := AssignChannel(0, ChannelTypeSlave, 0, 0)
	raw := f.Encode()
	// A4 03 42 00 00 00 E5
	assert.Equal(t, []byte{0xA4, 0x03, 0x42, 0x00, 0x00, 0x00, 0xE5}, raw)

	got, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestParseErrors(t *testing.T) {
	good := OpenChannel(1).Encode()

	_, err := Parse(good[:3])
	assert.ErrorIs(t, err, ErrShortPacket)

	bad := append([]byte(nil), good...)
	bad[0] = 0x00
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrBadSync)

	bad = append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrBadChecksum)

	_, err = Parse(append(good, 0x00))
	assert.ErrorIs(t, err, ErrBadLength)
}

func TestStreamDecoderResync(t *testing.T) {
	d := NewStreamDecoder()
	a := OpenChannel(1).Encode()
	b := CloseChannel(2).Encode()

	// 垃圾前缀 + 完整帧 + 半帧
	stream := append([]byte{0x00, 0xA4, 0xFF}, a...)
	stream = append(stream, b[:3]...)
	frames := d.Feed(stream)
	require.Len(t, frames, 1)
	assert.Equal(t, MesgOpenChannel, frames[0].ID)

	frames = d.Feed(b[3:])
	require.Len(t, frames, 1)
	assert.Equal(t, MesgCloseChannel, frames[0].ID)
	assert.Equal(t, uint8(2), frames[0].Channel())
	assert.Equal(t, 0, d.Buffered())
}

func TestBurstPackets(t *testing.T) {
	data := make([]byte, 30)
	for i := range data {
		data[i] = byte(i)
	}
	frames := BurstPackets(2, data)
	require.Len(t, frames, 4)

	wantSeq := []uint8{0, 1, 2, 3 | 0x04}
	for i, f := range frames {
		assert.Equal(t, MesgBurstData, f.ID)
		require.Len(t, f.Payload, 9)
		h := DecodeBurstHeader(f.Payload[0])
		assert.Equal(t, uint8(2), h.Channel)
		assert.Equal(t, wantSeq[i], h.Sequence)
	}
	// 末包补零
	assert.Equal(t, []byte{24, 25, 26, 27, 28, 29, 0, 0}, frames[3].Payload[1:])

	// 第 5 包后计数回到 1
	frames = BurstPackets(0, make([]byte, 40))
	require.Len(t, frames, 5)
	assert.Equal(t, uint8(1|0x04), DecodeBurstHeader(frames[4].Payload[0]).Sequence)
}

func TestAdvancedBurstPackets(t *testing.T) {
	frames := AdvancedBurstPackets(1, make([]byte, 50), 3)
	require.Len(t, frames, 3)
	assert.Len(t, frames[0].Payload, 25)
	assert.Equal(t, MesgAdvBurstData, frames[0].ID)
	assert.True(t, DecodeBurstHeader(frames[2].Payload[0]).Last())
}

func TestCommandPayloads(t *testing.T) {
	assert.Equal(t, []byte{1, 0x10, 0, ExtAssignBackgroundScanning},
		AssignChannel(1, ChannelTypeMaster, 0, ExtAssignBackgroundScanning).Payload)
	assert.Equal(t, []byte{0, 0x39, 0x30, 0x78 | DeviceTypePairingFlag, 1},
		SetChannelID(0, DeviceID{Number: 12345, Type: 0x78, Pairing: true, TransmissionType: 1}).Payload)
	assert.Equal(t, []byte{0, 0x86, 0x1F}, SetChannelPeriod(0, 8070).Payload)
	assert.Equal(t, []byte{0, 1, 2, 3, 0, 0, 0, 0, 0}, BroadcastData(0, []byte{1, 2, 3}).Payload)
	assert.Equal(t, []byte{3, byte(MesgCapabilities)}, RequestMessage(3, MesgCapabilities).Payload)
}

func TestHexdump(t *testing.T) {
	out := Hexdump([]byte("ANT+\x00\x01\x02\x03AB"))
	assert.Equal(t,
		"0000  0x41 0x4e 0x54 0x2b 0x00 0x01 0x02 0x03  ANT+....\n"+
			"0008  0x41 0x42                                AB\n",
		out)
}
