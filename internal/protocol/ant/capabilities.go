package ant

import (
	"math/bits"

	"github.com/taoyao-code/ant-server/internal/bitvector"
)

// Polarity 能力位极性
type Polarity int

const (
	// ActiveHigh 位为 1 表示支持
	ActiveHigh Polarity = iota
	// ActiveLow 位为 0 表示支持（标准选项字节）
	ActiveLow
)

// 能力负载字节偏移
const (
	capMaxChannels         = 0
	capMaxNetworks         = 1
	capStandardOptions     = 2
	capAdvancedOptions     = 3
	capAdvancedOptions2    = 4
	capMaxSensRcoreChannel = 5
	capAdvancedOptions3    = 6
	capAdvancedOptions4    = 7
)

// Capabilities 设备能力，解码后只读
type Capabilities struct {
	MaxChannels          uint8 `json:"max_channels"`
	MaxNetworks          uint8 `json:"max_networks"`
	MaxSensRcoreChannels uint8 `json:"max_sensrcore_channels"`

	RxChannelsEnabled    bool `json:"rx_channels_enabled"`
	TxChannelsEnabled    bool `json:"tx_channels_enabled"`
	RxMessagesEnabled    bool `json:"rx_messages_enabled"`
	TxMessagesEnabled    bool `json:"tx_messages_enabled"`
	AckdMessagesEnabled  bool `json:"ackd_messages_enabled"`
	BurstTransferEnabled bool `json:"burst_transfer_enabled"`

	OverunUnderrunEnabled    bool `json:"overun_underrun_enabled"`
	NetworkEnabled           bool `json:"network_enabled"`
	AP1Version2Enabled       bool `json:"ap1_version_2_enabled"`
	SerialNumberEnabled      bool `json:"serial_number_enabled"`
	PerChannelTxPowerEnabled bool `json:"per_channel_tx_power_enabled"`
	LowPrioritySearchEnabled bool `json:"low_priority_search_enabled"`
	ScriptEnabled            bool `json:"script_enabled"`
	SearchListEnabled        bool `json:"search_list_enabled"`

	LEDEnabled        bool `json:"led_enabled"`
	ExtMessageEnabled bool `json:"ext_message_enabled"`
	ScanModeEnabled   bool `json:"scan_mode_enabled"`
	ProxSearchEnabled bool `json:"prox_search_enabled"`
	ExtAssignEnabled  bool `json:"ext_assign_enabled"`
	FSANTFSEnabled    bool `json:"fs_antfs_enabled"`
	FIT1Enabled       bool `json:"fit1_enabled"`

	AdvancedBurstEnabled           bool `json:"advanced_burst_enabled"`
	EventBufferingEnabled          bool `json:"event_buffering_enabled"`
	EventFilteringEnabled          bool `json:"event_filtering_enabled"`
	HighDutySearchModeEnabled      bool `json:"high_duty_search_mode_enabled"`
	ActiveSearchSharingModeEnabled bool `json:"active_search_sharing_mode_enabled"`
	SelectiveDataUpdatesEnabled    bool `json:"selective_data_updates_enabled"`
	EncryptedChannelEnabled        bool `json:"encrypted_channel_enabled"`

	RFActiveNotificationEnabled bool `json:"rf_active_notification_enabled"`
}

type capabilityField struct {
	name     string
	index    int
	mask     byte
	polarity Polarity
	field    func(c *Capabilities) *bool
}

// capabilityTable 每个标志位所在字节、掩码与极性
var capabilityTable = []capabilityField{
	{"rx_channels_enabled", capStandardOptions, CapabilitiesNoRxChannels, ActiveLow, func(c *Capabilities) *bool { return &c.RxChannelsEnabled }},
	{"tx_channels_enabled", capStandardOptions, CapabilitiesNoTxChannels, ActiveLow, func(c *Capabilities) *bool { return &c.TxChannelsEnabled }},
	{"rx_messages_enabled", capStandardOptions, CapabilitiesNoRxMessages, ActiveLow, func(c *Capabilities) *bool { return &c.RxMessagesEnabled }},
	{"tx_messages_enabled", capStandardOptions, CapabilitiesNoTxMessages, ActiveLow, func(c *Capabilities) *bool { return &c.TxMessagesEnabled }},
	{"ackd_messages_enabled", capStandardOptions, CapabilitiesNoAckdMessages, ActiveLow, func(c *Capabilities) *bool { return &c.AckdMessagesEnabled }},
	{"burst_transfer_enabled", capStandardOptions, CapabilitiesNoBurstTransfer, ActiveLow, func(c *Capabilities) *bool { return &c.BurstTransferEnabled }},

	{"overun_underrun_enabled", capAdvancedOptions, CapabilitiesOverunUnderrun, ActiveHigh, func(c *Capabilities) *bool { return &c.OverunUnderrunEnabled }},
	{"network_enabled", capAdvancedOptions, CapabilitiesNetworkEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.NetworkEnabled }},
	{"ap1_version_2_enabled", capAdvancedOptions, CapabilitiesAP1Version2, ActiveHigh, func(c *Capabilities) *bool { return &c.AP1Version2Enabled }},
	{"serial_number_enabled", capAdvancedOptions, CapabilitiesSerialNumberEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.SerialNumberEnabled }},
	{"per_channel_tx_power_enabled", capAdvancedOptions, CapabilitiesPerChannelTxPowerEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.PerChannelTxPowerEnabled }},
	{"low_priority_search_enabled", capAdvancedOptions, CapabilitiesLowPrioritySearchEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.LowPrioritySearchEnabled }},
	{"script_enabled", capAdvancedOptions, CapabilitiesScriptEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.ScriptEnabled }},
	{"search_list_enabled", capAdvancedOptions, CapabilitiesSearchListEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.SearchListEnabled }},

	{"led_enabled", capAdvancedOptions2, CapabilitiesLEDEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.LEDEnabled }},
	{"ext_message_enabled", capAdvancedOptions2, CapabilitiesExtMessageEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.ExtMessageEnabled }},
	{"scan_mode_enabled", capAdvancedOptions2, CapabilitiesScanModeEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.ScanModeEnabled }},
	{"prox_search_enabled", capAdvancedOptions2, CapabilitiesProxSearchEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.ProxSearchEnabled }},
	{"ext_assign_enabled", capAdvancedOptions2, CapabilitiesExtAssignEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.ExtAssignEnabled }},
	{"fs_antfs_enabled", capAdvancedOptions2, CapabilitiesFSANTFSEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.FSANTFSEnabled }},
	{"fit1_enabled", capAdvancedOptions2, CapabilitiesFIT1Enabled, ActiveHigh, func(c *Capabilities) *bool { return &c.FIT1Enabled }},

	{"advanced_burst_enabled", capAdvancedOptions3, CapabilitiesAdvancedBurstEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.AdvancedBurstEnabled }},
	{"event_buffering_enabled", capAdvancedOptions3, CapabilitiesEventBufferingEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.EventBufferingEnabled }},
	{"event_filtering_enabled", capAdvancedOptions3, CapabilitiesEventFilteringEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.EventFilteringEnabled }},
	{"high_duty_search_mode_enabled", capAdvancedOptions3, CapabilitiesHighDutySearchModeEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.HighDutySearchModeEnabled }},
	{"active_search_sharing_mode_enabled", capAdvancedOptions3, CapabilitiesActiveSearchSharingModeEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.ActiveSearchSharingModeEnabled }},
	{"selective_data_updates_enabled", capAdvancedOptions3, CapabilitiesSelectiveDataUpdatesEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.SelectiveDataUpdatesEnabled }},
	{"encrypted_channel_enabled", capAdvancedOptions3, CapabilitiesEncryptedChannelEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.EncryptedChannelEnabled }},

	{"rf_active_notification_enabled", capAdvancedOptions4, CapabilitiesRFActiveNotificationEnabled, ActiveHigh, func(c *Capabilities) *bool { return &c.RFActiveNotificationEnabled }},
}

// DecodeCapabilities 解析能力负载。
// 旧固件只返回前几个字节，缺失的选项字节按 0 处理（高有效位全部关闭）。
func DecodeCapabilities(p []byte) (Capabilities, error) {
	if len(p) < capStandardOptions+1 {
		return Capabilities{}, ErrShortPayload
	}
	var raw [8]byte
	copy(raw[:], p)

	c := Capabilities{
		MaxChannels:          raw[capMaxChannels],
		MaxNetworks:          raw[capMaxNetworks],
		MaxSensRcoreChannels: raw[capMaxSensRcoreChannel],
	}
	vectors := make(map[int]*bitvector.BitVector, 5)
	for _, f := range capabilityTable {
		bv, ok := vectors[f.index]
		if !ok {
			bv = bitvector.FromByte(raw[f.index])
			vectors[f.index] = bv
		}
		bit := bits.TrailingZeros8(f.mask)
		if f.polarity == ActiveLow {
			*f.field(&c) = bv.IsOff(bit)
		} else {
			*f.field(&c) = bv.IsOn(bit)
		}
	}
	return c, nil
}

// Flags 以名字导出全部标志位
func (c Capabilities) Flags() map[string]bool {
	out := make(map[string]bool, len(capabilityTable))
	for _, f := range capabilityTable {
		out[f.name] = *f.field(&c)
	}
	return out
}
