// Package profile 从 YAML 加载通道配置模板，并在会话上执行完整的通道建立流程。
package profile

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

// Profile 一个通道的配置
type Profile struct {
	Name                     string `yaml:"name"`
	Channel                  int    `yaml:"channel"`
	Type                     string `yaml:"type"`
	Network                  int    `yaml:"network"`
	NetworkKey               string `yaml:"network_key"` // 16 位十六进制，空表示不设置
	ExtendedOptions          uint8  `yaml:"extended_options"`
	DeviceNumber             int    `yaml:"device_number"`
	DeviceType               int    `yaml:"device_type"`
	Pairing                  bool   `yaml:"pairing"`
	TransmissionType         int    `yaml:"transmission_type"`
	Period                   *int   `yaml:"period"`
	RFFrequency              *int   `yaml:"rf_frequency"`
	SearchTimeout            *int   `yaml:"search_timeout"`
	LowPrioritySearchTimeout *int   `yaml:"low_priority_search_timeout"`
	TxPower                  *int   `yaml:"tx_power"`
	Open                     bool   `yaml:"open"`
}

// File YAML 文档结构
type File struct {
	Profiles []Profile `yaml:"profiles"`
}

func intp(v int) *int { return &v }

// ANT+ 常用设备模板（公共频点 57，周期单位 1/32768 秒）
var presets = map[string]Profile{
	"heart_rate":          {Type: "slave", DeviceType: 120, Period: intp(8070), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"bike_speed_cadence":  {Type: "slave", DeviceType: 121, Period: intp(8086), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"bike_power":          {Type: "slave", DeviceType: 11, Period: intp(8182), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"fitness_equipment":   {Type: "slave", DeviceType: 17, Period: intp(8192), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"stride_speed":        {Type: "slave", DeviceType: 124, Period: intp(8134), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"environment_sensor":  {Type: "slave", DeviceType: 25, Period: intp(8192), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"muscle_oxygen":       {Type: "slave", DeviceType: 31, Period: intp(8192), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"bike_speed":          {Type: "slave", DeviceType: 123, Period: intp(8118), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"bike_cadence":        {Type: "slave", DeviceType: 122, Period: intp(8102), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"blood_pressure":      {Type: "slave", DeviceType: 18, Period: intp(8192), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"weight_scale":        {Type: "slave", DeviceType: 119, Period: intp(8192), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"geocache":            {Type: "slave", DeviceType: 19, Period: intp(8192), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
	"light_electric_bike": {Type: "slave", DeviceType: 20, Period: intp(8192), RFFrequency: intp(57), SearchTimeout: intp(12), Open: true},
}

// Preset 按名字返回内置模板，通道号与网络号由调用方填写
func Preset(name string) (Profile, bool) {
	p, ok := presets[name]
	if ok {
		p.Name = name
	}
	return p, ok
}

// Load 读取 YAML 文件
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return Parse(b)
}

// Parse 解析并校验；preset 字段引用内置模板，文件中的字段覆盖模板值
func Parse(b []byte) (*File, error) {
	var raw struct {
		Profiles []yaml.Node `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	f := &File{Profiles: make([]Profile, 0, len(raw.Profiles))}
	seen := make(map[int]string)
	for i := range raw.Profiles {
		node := &raw.Profiles[i]
		var ref struct {
			Preset string `yaml:"preset"`
		}
		if err := node.Decode(&ref); err != nil {
			return nil, fmt.Errorf("profile %d: %w", i, err)
		}
		var p Profile
		if ref.Preset != "" {
			base, ok := Preset(ref.Preset)
			if !ok {
				return nil, fmt.Errorf("profile %d: unknown preset %q", i, ref.Preset)
			}
			p = base
		}
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("profile %d: %w", i, err)
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("channel-%d", p.Channel)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.Name, err)
		}
		if other, dup := seen[p.Channel]; dup {
			return nil, fmt.Errorf("profile %s: channel %d already used by %s", p.Name, p.Channel, other)
		}
		seen[p.Channel] = p.Name
		f.Profiles = append(f.Profiles, p)
	}
	return f, nil
}

// ChannelType 解析通道类型，空串为从机
func (p Profile) ChannelType() (ant.ChannelType, error) {
	if p.Type == "" {
		return ant.ChannelTypeSlave, nil
	}
	t, ok := ant.ParseChannelType(strings.ToLower(p.Type))
	if !ok {
		return 0, fmt.Errorf("unknown channel type %q", p.Type)
	}
	return t, nil
}

// Key 解码网络密钥，未配置时返回 nil
func (p Profile) Key() ([]byte, error) {
	if p.NetworkKey == "" {
		return nil, nil
	}
	k, err := hex.DecodeString(strings.ReplaceAll(p.NetworkKey, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("network_key: %w", err)
	}
	return ant.ValidateNetworkKey(k)
}

// Validate 只做与设备无关的取值检查，通道号上限由会话检查
func (p Profile) Validate() error {
	if p.Channel < 0 || p.Channel > 255 {
		return &ant.RangeError{Field: "channel", Value: p.Channel, Min: 0, Max: 256}
	}
	if _, err := p.ChannelType(); err != nil {
		return err
	}
	if _, err := p.Key(); err != nil {
		return err
	}
	if _, err := ant.ValidateNetworkNumber(p.Network); err != nil {
		return err
	}
	if _, err := ant.ValidateDeviceNumber(p.DeviceNumber); err != nil {
		return err
	}
	if _, err := ant.ValidateDeviceType(p.DeviceType); err != nil {
		return err
	}
	if _, err := ant.ValidateTransmissionType(p.TransmissionType); err != nil {
		return err
	}
	checks := []struct {
		v  *int
		fn func(int) error
	}{
		{p.Period, func(v int) error { _, err := ant.ValidatePeriod(v); return err }},
		{p.RFFrequency, func(v int) error { _, err := ant.ValidateRFFrequency(v); return err }},
		{p.SearchTimeout, func(v int) error { _, err := ant.ValidateSearchTimeout(v); return err }},
		{p.LowPrioritySearchTimeout, func(v int) error { _, err := ant.ValidateSearchTimeout(v); return err }},
		{p.TxPower, func(v int) error { _, err := ant.ValidateTransmitPower(v); return err }},
	}
	for _, c := range checks {
		if c.v == nil {
			continue
		}
		if err := c.fn(*c.v); err != nil {
			return err
		}
	}
	return nil
}
