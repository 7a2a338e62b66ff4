package profile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

// Session Apply 需要的同步命令
type Session interface {
	SetNetworkKeyAndWait(ctx context.Context, network int, key []byte) error
	AssignChannelAndWait(ctx context.Context, n int, t ant.ChannelType, network int, ext uint8) error
	SetChannelIDAndWait(ctx context.Context, n, deviceNumber, deviceType, transmissionType int, pairing bool) error
	SetChannelPeriodAndWait(ctx context.Context, n, period int) error
	SetChannelRFFreqAndWait(ctx context.Context, n, freq int) error
	SetChannelSearchTimeoutAndWait(ctx context.Context, n, timeout int) error
	SetLowPrioritySearchTimeoutAndWait(ctx context.Context, n, timeout int) error
	SetChannelTxPowerAndWait(ctx context.Context, n, power int) error
	OpenChannelAndWait(ctx context.Context, n int) error
}

// Apply 按顺序执行：网络密钥、分配、通道 ID、可选参数、打开。任一步失败即停止。
func Apply(ctx context.Context, s Session, p Profile, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	t, err := p.ChannelType()
	if err != nil {
		return err
	}
	key, err := p.Key()
	if err != nil {
		return err
	}

	steps := []struct {
		name string
		run  func() error
		skip bool
	}{
		{"set network key", func() error { return s.SetNetworkKeyAndWait(ctx, p.Network, key) }, key == nil},
		{"assign channel", func() error {
			return s.AssignChannelAndWait(ctx, p.Channel, t, p.Network, p.ExtendedOptions)
		}, false},
		{"set channel id", func() error {
			return s.SetChannelIDAndWait(ctx, p.Channel, p.DeviceNumber, p.DeviceType, p.TransmissionType, p.Pairing)
		}, false},
		{"set channel period", func() error { return s.SetChannelPeriodAndWait(ctx, p.Channel, deref(p.Period)) }, p.Period == nil},
		{"set rf frequency", func() error { return s.SetChannelRFFreqAndWait(ctx, p.Channel, deref(p.RFFrequency)) }, p.RFFrequency == nil},
		{"set search timeout", func() error {
			return s.SetChannelSearchTimeoutAndWait(ctx, p.Channel, deref(p.SearchTimeout))
		}, p.SearchTimeout == nil},
		{"set low priority search timeout", func() error {
			return s.SetLowPrioritySearchTimeoutAndWait(ctx, p.Channel, deref(p.LowPrioritySearchTimeout))
		}, p.LowPrioritySearchTimeout == nil},
		{"set channel tx power", func() error { return s.SetChannelTxPowerAndWait(ctx, p.Channel, deref(p.TxPower)) }, p.TxPower == nil},
		{"open channel", func() error { return s.OpenChannelAndWait(ctx, p.Channel) }, !p.Open},
	}
	for _, st := range steps {
		if st.skip {
			continue
		}
		if err := st.run(); err != nil {
			return fmt.Errorf("profile %s: %s: %w", p.Name, st.name, err)
		}
	}
	log.Info("profile applied",
		zap.String("profile", p.Name),
		zap.Int("channel", p.Channel),
		zap.Stringer("type", t),
		zap.Bool("open", p.Open))
	return nil
}

// ApplyAll 依次应用全部模板
func ApplyAll(ctx context.Context, s Session, profiles []Profile, log *zap.Logger) error {
	for _, p := range profiles {
		if err := Apply(ctx, s, p, log); err != nil {
			return err
		}
	}
	return nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
