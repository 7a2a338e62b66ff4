package ant

import "fmt"

// MessageID ANT 串口消息 ID
type MessageID uint8

// 消息 ID 表
const (
	MesgInvalid               MessageID = 0x00
	MesgEvent                 MessageID = 0x01 // 响应事件中的“通道事件”标记
	MesgVersion               MessageID = 0x3E
	MesgResponseEvent         MessageID = 0x40
	MesgUnassignChannel       MessageID = 0x41
	MesgAssignChannel         MessageID = 0x42
	MesgChannelMesgPeriod     MessageID = 0x43
	MesgChannelSearchTimeout  MessageID = 0x44
	MesgChannelRadioFreq      MessageID = 0x45
	MesgNetworkKey            MessageID = 0x46
	MesgRadioTxPower          MessageID = 0x47
	MesgRadioCWMode           MessageID = 0x48
	MesgSystemReset           MessageID = 0x4A
	MesgOpenChannel           MessageID = 0x4B
	MesgCloseChannel          MessageID = 0x4C
	MesgRequest               MessageID = 0x4D
	MesgBroadcastData         MessageID = 0x4E
	MesgAcknowledgedData      MessageID = 0x4F
	MesgBurstData             MessageID = 0x50
	MesgChannelID             MessageID = 0x51
	MesgChannelStatus         MessageID = 0x52
	MesgRadioCWInit           MessageID = 0x53
	MesgCapabilities          MessageID = 0x54
	MesgStackLimit            MessageID = 0x55
	MesgScriptData            MessageID = 0x56
	MesgScriptCmd             MessageID = 0x57
	MesgIDListAdd             MessageID = 0x59
	MesgIDListConfig          MessageID = 0x5A
	MesgOpenRxScan            MessageID = 0x5B
	MesgExtChannelRadioFreq   MessageID = 0x5C
	MesgExtBroadcastData      MessageID = 0x5D
	MesgExtAcknowledgedData   MessageID = 0x5E
	MesgExtBurstData          MessageID = 0x5F
	MesgChannelRadioTxPower   MessageID = 0x60
	MesgGetSerialNum          MessageID = 0x61
	MesgGetTempCal            MessageID = 0x62
	MesgSetLPSearchTimeout    MessageID = 0x63
	MesgSetTxSearchOnNext     MessageID = 0x64
	MesgSerialNumSetChannelID MessageID = 0x65
	MesgRxExtMesgsEnable      MessageID = 0x66
	MesgRadioConfigAlways     MessageID = 0x67
	MesgEnableLEDFlash        MessageID = 0x68
	MesgXtalEnable            MessageID = 0x6D
	MesgANTLibConfig          MessageID = 0x6E
	MesgStartup               MessageID = 0x6F
	MesgAutoFreqConfig        MessageID = 0x70
	MesgProxSearchConfig      MessageID = 0x71
	MesgAdvBurstData          MessageID = 0x72
	MesgEventBufferingConfig  MessageID = 0x74
	MesgSetSearchChPriority   MessageID = 0x75
	MesgHighDutySearchMode    MessageID = 0x77
	MesgConfigAdvBurst        MessageID = 0x78
	MesgEventFilterConfig     MessageID = 0x79
	MesgSDUConfig             MessageID = 0x7A
	MesgSDUSetMask            MessageID = 0x7B
	MesgUserConfigPage        MessageID = 0x7C
	MesgEncryptEnable         MessageID = 0x7D
	MesgSetCryptoKey          MessageID = 0x7E
	MesgSetCryptoInfo         MessageID = 0x7F
	MesgCubeCmd               MessageID = 0x80
	MesgActiveSearchSharing   MessageID = 0x81
	MesgNVMCryptoKeyOps       MessageID = 0x83
	MesgSerialError           MessageID = 0xAE
)

// EventCode 通道事件码 / 响应状态码（二者共用同一数值空间）
type EventCode uint8

// 通道事件
const (
	EventRxSearchTimeout       EventCode = 0x01
	EventRxFail                EventCode = 0x02
	EventTx                    EventCode = 0x03
	EventTransferRxFailed      EventCode = 0x04
	EventTransferTxCompleted   EventCode = 0x05
	EventTransferTxFailed      EventCode = 0x06
	EventChannelClosed         EventCode = 0x07
	EventRxFailGoToSearch      EventCode = 0x08
	EventChannelCollision      EventCode = 0x09
	EventTransferTxStart       EventCode = 0x0A
	EventTransferNextDataBlock EventCode = 0x11
	EventSerialQueOverflow     EventCode = 0x34
	EventQueOverflow           EventCode = 0x35
	EventClkError              EventCode = 0x36
	EventStateOverrun          EventCode = 0x37
	EventRxBroadcast           EventCode = 0x9A
	EventRxAcknowledged        EventCode = 0x9B
	EventRxBurstPacket         EventCode = 0x9C
	EventRxExtBroadcast        EventCode = 0x9D
	EventRxExtAcknowledged     EventCode = 0x9E
	EventRxExtBurstPacket      EventCode = 0x9F
	EventRxRSSIBroadcast       EventCode = 0xA0
	EventRxRSSIAcknowledged    EventCode = 0xA1
	EventRxRSSIBurstPacket     EventCode = 0xA2
	EventRxFlagBroadcast       EventCode = 0xA3
	EventRxFlagAcknowledged    EventCode = 0xA4
	EventRxFlagBurstPacket     EventCode = 0xA5
)

// ResponseCode 响应事件中的状态字节，0 表示成功
type ResponseCode uint8

const (
	ResponseNoError             ResponseCode = 0x00
	ChannelInWrongState         ResponseCode = 0x15
	ChannelNotOpened            ResponseCode = 0x16
	ChannelIDNotSet             ResponseCode = 0x18
	CloseAllChannels            ResponseCode = 0x19
	TransferInProgress          ResponseCode = 0x1F
	TransferSequenceNumberError ResponseCode = 0x20
	TransferInError             ResponseCode = 0x21
	MessageSizeExceedsLimit     ResponseCode = 0x27
	InvalidMessage              ResponseCode = 0x28
	InvalidNetworkNumber        ResponseCode = 0x29
	InvalidListID               ResponseCode = 0x30
	InvalidScanTxChannel        ResponseCode = 0x31
	InvalidParameterProvided    ResponseCode = 0x33
	EncryptNegotiationSuccess   ResponseCode = 0x38
	EncryptNegotiationFail      ResponseCode = 0x39
	NVMFullError                ResponseCode = 0x40
	NVMWriteError               ResponseCode = 0x41
	USBStringWriteFail          ResponseCode = 0x70
	NoResponseMessage           ResponseCode = 0x50
)

// 标准选项（byte2，取反极性：置位表示“不支持”）
const (
	CapabilitiesNoRxChannels    = 0x01
	CapabilitiesNoTxChannels    = 0x02
	CapabilitiesNoRxMessages    = 0x04
	CapabilitiesNoTxMessages    = 0x08
	CapabilitiesNoAckdMessages  = 0x10
	CapabilitiesNoBurstTransfer = 0x20
)

// 高级选项 1（byte3）
const (
	CapabilitiesOverunUnderrun           = 0x01
	CapabilitiesNetworkEnabled           = 0x02
	CapabilitiesAP1Version2              = 0x04
	CapabilitiesSerialNumberEnabled      = 0x08
	CapabilitiesPerChannelTxPowerEnabled = 0x10
	CapabilitiesLowPrioritySearchEnabled = 0x20
	CapabilitiesScriptEnabled            = 0x40
	CapabilitiesSearchListEnabled        = 0x80
)

// 高级选项 2（byte4）
const (
	CapabilitiesLEDEnabled        = 0x01
	CapabilitiesExtMessageEnabled = 0x02
	CapabilitiesScanModeEnabled   = 0x04
	CapabilitiesProxSearchEnabled = 0x10
	CapabilitiesExtAssignEnabled  = 0x20
	CapabilitiesFSANTFSEnabled    = 0x40
	CapabilitiesFIT1Enabled       = 0x80
)

// 高级选项 3（byte6）
const (
	CapabilitiesAdvancedBurstEnabled           = 0x01
	CapabilitiesEventBufferingEnabled          = 0x02
	CapabilitiesEventFilteringEnabled          = 0x04
	CapabilitiesHighDutySearchModeEnabled      = 0x08
	CapabilitiesActiveSearchSharingModeEnabled = 0x10
	CapabilitiesSelectiveDataUpdatesEnabled    = 0x40
	CapabilitiesEncryptedChannelEnabled        = 0x80
)

// 高级选项 4（byte7）
const (
	CapabilitiesRFActiveNotificationEnabled = 0x01
)

// 扩展消息标志字节
const (
	ExtFlagDeviceID  = 0x80
	ExtFlagRSSI      = 0x40
	ExtFlagTimestamp = 0x20
)

// 设备类型字节中的配对位
const DeviceTypePairingFlag = 0x80

// ChannelType 通道类型
type ChannelType uint8

const (
	ChannelTypeSlave        ChannelType = 0x00 // 双向从机（接收）
	ChannelTypeMaster       ChannelType = 0x10 // 双向主机（发送）
	ChannelTypeSharedSlave  ChannelType = 0x20
	ChannelTypeSharedMaster ChannelType = 0x30
	ChannelTypeSlaveRxOnly  ChannelType = 0x40
	ChannelTypeMasterTxOnly ChannelType = 0x50
)

// 扩展分配选项
const (
	ExtAssignBackgroundScanning = 0x01
	ExtAssignFrequencyAgility   = 0x04
	ExtAssignFastChannelInit    = 0x10
	ExtAssignAsyncTransmit      = 0x20
)

// StartupReason 启动消息原因字节
type StartupReason uint8

const (
	ResetPowerOn  StartupReason = 0x00
	ResetHardware StartupReason = 0x01
	ResetWatchdog StartupReason = 0x02
	ResetCommand  StartupReason = 0x20
	ResetSync     StartupReason = 0x40
	ResetSuspend  StartupReason = 0x80
)

// 突发序号位（位于突发包首字节高 3 位）
const (
	SequenceFirstMessage   = 0x00
	SequenceNumberInc      = 0x20
	SequenceNumberRollover = 0x60
	SequenceLastMessage    = 0x80
	SequenceNumberMask     = 0xE0
	ChannelNumberMask      = 0x1F
)

var messageNames = map[MessageID]string{
	MesgInvalid:               "invalid",
	MesgEvent:                 "event",
	MesgVersion:               "version",
	MesgResponseEvent:         "response_event",
	MesgUnassignChannel:       "unassign_channel",
	MesgAssignChannel:         "assign_channel",
	MesgChannelMesgPeriod:     "channel_mesg_period",
	MesgChannelSearchTimeout:  "channel_search_timeout",
	MesgChannelRadioFreq:      "channel_radio_freq",
	MesgNetworkKey:            "network_key",
	MesgRadioTxPower:          "radio_tx_power",
	MesgRadioCWMode:           "radio_cw_mode",
	MesgSystemReset:           "system_reset",
	MesgOpenChannel:           "open_channel",
	MesgCloseChannel:          "close_channel",
	MesgRequest:               "request",
	MesgBroadcastData:         "broadcast_data",
	MesgAcknowledgedData:      "acknowledged_data",
	MesgBurstData:             "burst_data",
	MesgChannelID:             "channel_id",
	MesgChannelStatus:         "channel_status",
	MesgRadioCWInit:           "radio_cw_init",
	MesgCapabilities:          "capabilities",
	MesgStackLimit:            "stacklimit",
	MesgScriptData:            "script_data",
	MesgScriptCmd:             "script_cmd",
	MesgIDListAdd:             "id_list_add",
	MesgIDListConfig:          "id_list_config",
	MesgOpenRxScan:            "open_rx_scan",
	MesgExtChannelRadioFreq:   "ext_channel_radio_freq",
	MesgExtBroadcastData:      "ext_broadcast_data",
	MesgExtAcknowledgedData:   "ext_acknowledged_data",
	MesgExtBurstData:          "ext_burst_data",
	MesgChannelRadioTxPower:   "channel_radio_tx_power",
	MesgGetSerialNum:          "get_serial_num",
	MesgGetTempCal:            "get_temp_cal",
	MesgSetLPSearchTimeout:    "set_lp_search_timeout",
	MesgSetTxSearchOnNext:     "set_tx_search_on_next",
	MesgSerialNumSetChannelID: "serial_num_set_channel_id",
	MesgRxExtMesgsEnable:      "rx_ext_mesgs_enable",
	MesgRadioConfigAlways:     "radio_config_always",
	MesgEnableLEDFlash:        "enable_led_flash",
	MesgXtalEnable:            "xtal_enable",
	MesgANTLibConfig:          "antlib_config",
	MesgStartup:               "startup_mesg",
	MesgAutoFreqConfig:        "auto_freq_config",
	MesgProxSearchConfig:      "prox_search_config",
	MesgAdvBurstData:          "adv_burst_data",
	MesgEventBufferingConfig:  "event_buffering_config",
	MesgSetSearchChPriority:   "set_search_ch_priority",
	MesgHighDutySearchMode:    "high_duty_search_mode",
	MesgConfigAdvBurst:        "config_adv_burst",
	MesgEventFilterConfig:     "event_filter_config",
	MesgSDUConfig:             "sdu_config",
	MesgSDUSetMask:            "sdu_set_mask",
	MesgUserConfigPage:        "user_config_page",
	MesgEncryptEnable:         "encrypt_enable",
	MesgSetCryptoKey:          "set_crypto_key",
	MesgSetCryptoInfo:         "set_crypto_info",
	MesgCubeCmd:               "cube_cmd",
	MesgActiveSearchSharing:   "active_search_sharing",
	MesgNVMCryptoKeyOps:       "nvm_crypto_key_ops",
	MesgSerialError:           "serial_error",
}

func (m MessageID) String() string {
	if n, ok := messageNames[m]; ok {
		return n
	}
	return fmt.Sprintf("mesg_0x%02x", uint8(m))
}

var eventNames = map[EventCode]string{
	EventRxSearchTimeout:       "rx_search_timeout",
	EventRxFail:                "rx_fail",
	EventTx:                    "tx",
	EventTransferRxFailed:      "transfer_rx_failed",
	EventTransferTxCompleted:   "transfer_tx_completed",
	EventTransferTxFailed:      "transfer_tx_failed",
	EventChannelClosed:         "channel_closed",
	EventRxFailGoToSearch:      "rx_fail_go_to_search",
	EventChannelCollision:      "channel_collision",
	EventTransferTxStart:       "transfer_tx_start",
	EventTransferNextDataBlock: "transfer_next_data_block",
	EventSerialQueOverflow:     "serial_que_overflow",
	EventQueOverflow:           "que_overflow",
	EventClkError:              "clk_error",
	EventStateOverrun:          "state_overrun",
	EventRxBroadcast:           "rx_broadcast",
	EventRxAcknowledged:        "rx_acknowledged",
	EventRxBurstPacket:         "rx_burst_packet",
	EventRxExtBroadcast:        "rx_ext_broadcast",
	EventRxExtAcknowledged:     "rx_ext_acknowledged",
	EventRxExtBurstPacket:      "rx_ext_burst_packet",
	EventRxRSSIBroadcast:       "rx_rssi_broadcast",
	EventRxRSSIAcknowledged:    "rx_rssi_acknowledged",
	EventRxRSSIBurstPacket:     "rx_rssi_burst_packet",
	EventRxFlagBroadcast:       "rx_flag_broadcast",
	EventRxFlagAcknowledged:    "rx_flag_acknowledged",
	EventRxFlagBurstPacket:     "rx_flag_burst_packet",
}

func (e EventCode) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("event_0x%02x", uint8(e))
}

var responseNames = map[ResponseCode]string{
	ResponseNoError:             "response_no_error",
	ChannelInWrongState:         "channel_in_wrong_state",
	ChannelNotOpened:            "channel_not_opened",
	ChannelIDNotSet:             "channel_id_not_set",
	CloseAllChannels:            "close_all_channels",
	TransferInProgress:          "transfer_in_progress",
	TransferSequenceNumberError: "transfer_sequence_number_error",
	TransferInError:             "transfer_in_error",
	MessageSizeExceedsLimit:     "message_size_exceeds_limit",
	InvalidMessage:              "invalid_message",
	InvalidNetworkNumber:        "invalid_network_number",
	InvalidListID:               "invalid_list_id",
	InvalidScanTxChannel:        "invalid_scan_tx_channel",
	InvalidParameterProvided:    "invalid_parameter_provided",
	EncryptNegotiationSuccess:   "encrypt_negotiation_success",
	EncryptNegotiationFail:      "encrypt_negotiation_fail",
	NVMFullError:                "nvm_full_error",
	NVMWriteError:               "nvm_write_error",
	USBStringWriteFail:          "usb_string_write_fail",
	NoResponseMessage:           "no_response_message",
}

func (c ResponseCode) String() string {
	if n, ok := responseNames[c]; ok {
		return n
	}
	return fmt.Sprintf("status_0x%02x", uint8(c))
}

var startupNames = map[StartupReason]string{
	ResetPowerOn:  "power_on_reset",
	ResetHardware: "hardware_reset_line",
	ResetWatchdog: "watchdog_reset",
	ResetCommand:  "command_reset",
	ResetSync:     "synchronous_reset",
	ResetSuspend:  "suspend_reset",
}

func (r StartupReason) String() string {
	if n, ok := startupNames[r]; ok {
		return n
	}
	return fmt.Sprintf("reset_0x%02x", uint8(r))
}

func (t ChannelType) String() string {
	switch t {
	case ChannelTypeSlave:
		return "slave"
	case ChannelTypeMaster:
		return "master"
	case ChannelTypeSharedSlave:
		return "shared_slave"
	case ChannelTypeSharedMaster:
		return "shared_master"
	case ChannelTypeSlaveRxOnly:
		return "slave_rx_only"
	case ChannelTypeMasterTxOnly:
		return "master_tx_only"
	}
	return fmt.Sprintf("type_0x%02x", uint8(t))
}

// ParseChannelType 由名字解析通道类型
func ParseChannelType(s string) (ChannelType, bool) {
	for _, t := range []ChannelType{ChannelTypeSlave, ChannelTypeMaster, ChannelTypeSharedSlave,
		ChannelTypeSharedMaster, ChannelTypeSlaveRxOnly, ChannelTypeMasterTxOnly} {
		if t.String() == s {
			return t, true
		}
	}
	switch s {
	case "rx", "receive":
		return ChannelTypeSlave, true
	case "tx", "transmit":
		return ChannelTypeMaster, true
	}
	return 0, false
}
