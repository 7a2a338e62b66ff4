package ant

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v >= hi {
		return &RangeError{Field: field, Value: v, Min: lo, Max: hi}
	}
	return nil
}

// ValidateDeviceNumber 设备号 ∈ [0, 65535)
func ValidateDeviceNumber(n int) (uint16, error) {
	if err := checkRange("device_number", n, 0, 65535); err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// ValidateDeviceType 设备类型 ∈ [0, 127)，配对位单独传递
func ValidateDeviceType(n int) (uint8, error) {
	if err := checkRange("device_type", n, 0, 127); err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// ValidateTransmissionType 传输类型 ∈ [0, 255]
func ValidateTransmissionType(n int) (uint8, error) {
	if err := checkRange("transmission_type", n, 0, 256); err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// ValidatePeriod 通道周期 ∈ [0, 65535)，单位 1/32768 秒
func ValidatePeriod(n int) (uint16, error) {
	if err := checkRange("channel_period", n, 0, 65535); err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// ValidateNetworkNumber 网络号 ∈ [0, 255]
func ValidateNetworkNumber(n int) (uint8, error) {
	if err := checkRange("network_number", n, 0, 256); err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// ValidateNetworkKey 网络密钥必须恰好 8 字节，原样返回
func ValidateNetworkKey(key []byte) ([]byte, error) {
	if err := checkRange("network_key_length", len(key), 8, 9); err != nil {
		return nil, err
	}
	return key, nil
}

// ValidateRFFrequency 射频偏移 ∈ [0, 124)，实际频率 2400+offset MHz
func ValidateRFFrequency(n int) (uint8, error) {
	if err := checkRange("rf_frequency", n, 0, 124); err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// ValidateChannelNumber 通道号 ∈ [0, limit)，limit 取设备能力中的最大通道数
func ValidateChannelNumber(n, limit int) (uint8, error) {
	if limit <= 0 || limit > 256 {
		limit = 256
	}
	if err := checkRange("channel_number", n, 0, limit); err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// ValidateTransmitPower 发射功率档位 ∈ [0, 4]
func ValidateTransmitPower(n int) (uint8, error) {
	if err := checkRange("transmit_power", n, 0, 5); err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// ValidateSearchTimeout 搜索超时 ∈ [0, 255]，单位 2.5 秒，255 为不超时
func ValidateSearchTimeout(n int) (uint8, error) {
	if err := checkRange("search_timeout", n, 0, 256); err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// ValidatePayload 单包数据不超过 8 字节
func ValidatePayload(data []byte) error {
	return checkRange("payload_length", len(data), 0, 9)
}
