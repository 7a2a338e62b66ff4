package ant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardOptionsInvertedPolarity(t *testing.T) {
	tests := []struct {
		name    string
		mask    byte
		enabled func(Capabilities) bool
	}{
		{"rx channels", CapabilitiesNoRxChannels, func(c Capabilities) bool { return c.RxChannelsEnabled }},
		{"tx channels", CapabilitiesNoTxChannels, func(c Capabilities) bool { return c.TxChannelsEnabled }},
		{"rx messages", CapabilitiesNoRxMessages, func(c Capabilities) bool { return c.RxMessagesEnabled }},
		{"tx messages", CapabilitiesNoTxMessages, func(c Capabilities) bool { return c.TxMessagesEnabled }},
		{"ackd messages", CapabilitiesNoAckdMessages, func(c Capabilities) bool { return c.AckdMessagesEnabled }},
		{"burst transfer", CapabilitiesNoBurstTransfer, func(c Capabilities) bool { return c.BurstTransferEnabled }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleared, err := DecodeCapabilities([]byte{8, 3, 0x00, 0, 0, 0, 0, 0})
			require.NoError(t, err)
			assert.True(t, tt.enabled(cleared), "bit cleared means enabled")

			set, err := DecodeCapabilities([]byte{8, 3, tt.mask, 0, 0, 0, 0, 0})
			require.NoError(t, err)
			assert.False(t, tt.enabled(set), "bit set means disabled")
		})
	}
}

func TestAdvancedOptionsNormalPolarity(t *testing.T) {
	c, err := DecodeCapabilities([]byte{8, 3, 0, 0, CapabilitiesLEDEnabled, 0, 0, 0})
	require.NoError(t, err)
	assert.True(t, c.LEDEnabled)
	assert.False(t, c.ExtMessageEnabled)

	c, err = DecodeCapabilities([]byte{8, 3, 0xFF,
		CapabilitiesSerialNumberEnabled | CapabilitiesNetworkEnabled,
		CapabilitiesExtMessageEnabled,
		2,
		CapabilitiesAdvancedBurstEnabled | CapabilitiesEncryptedChannelEnabled,
		CapabilitiesRFActiveNotificationEnabled,
	})
	require.NoError(t, err)
	assert.Equal(t, uint8(8), c.MaxChannels)
	assert.Equal(t, uint8(3), c.MaxNetworks)
	assert.Equal(t, uint8(2), c.MaxSensRcoreChannels)
	assert.True(t, c.SerialNumberEnabled)
	assert.True(t, c.NetworkEnabled)
	assert.False(t, c.ScriptEnabled)
	assert.False(t, c.LEDEnabled)
	assert.True(t, c.ExtMessageEnabled)
	assert.True(t, c.AdvancedBurstEnabled)
	assert.True(t, c.EncryptedChannelEnabled)
	assert.False(t, c.EventBufferingEnabled)
	assert.True(t, c.RFActiveNotificationEnabled)
	// 标准选项全部置位 => 全部不支持
	assert.False(t, c.RxChannelsEnabled)
	assert.False(t, c.BurstTransferEnabled)
}

func TestCapabilitiesShortPayload(t *testing.T) {
	_, err := DecodeCapabilities([]byte{8, 3})
	assert.ErrorIs(t, err, ErrShortPayload)

	// 旧固件只回 4 字节
	c, err := DecodeCapabilities([]byte{4, 1, 0, CapabilitiesNetworkEnabled})
	require.NoError(t, err)
	assert.True(t, c.NetworkEnabled)
	assert.False(t, c.LEDEnabled)
}

func TestCapabilitiesFlags(t *testing.T) {
	c, err := DecodeCapabilities([]byte{8, 3, CapabilitiesNoTxChannels, 0, CapabilitiesLEDEnabled, 0, 0, 0})
	require.NoError(t, err)
	flags := c.Flags()
	assert.Len(t, flags, len(capabilityTable))
	assert.True(t, flags["led_enabled"])
	assert.False(t, flags["tx_channels_enabled"])
	assert.True(t, flags["rx_channels_enabled"])
}
