package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/antsim"
	"github.com/taoyao-code/ant-server/internal/transport"
)

// Run 启动下行队列并按配置的传输模式运行设备链路，直到 ctx 结束。
// tcp 模式断线后按 reconnectInterval 重连；致命协议错误直接返回。
func (d *Device) Run(ctx context.Context) error {
	go d.Queue.Run(ctx)

	switch d.cfg.Transport.Mode {
	case "sim":
		return d.runSim(ctx)
	case "tcp":
		return d.runTCP(ctx)
	default:
		return fmt.Errorf("unknown transport mode %q", d.cfg.Transport.Mode)
	}
}

func (d *Device) runSim(ctx context.Context) error {
	pipe := transport.NewPipe(d.cfg.Transport.WriteQueue)
	defer pipe.Close()

	maxCh := d.cfg.MaxChannels
	if maxCh <= 0 || maxCh > 255 {
		maxCh = 8
	}
	radio := antsim.New(pipe,
		antsim.WithLogger(d.log.Named("antsim")),
		antsim.WithChannels(uint8(maxCh), 3))
	go radio.Run(ctx)

	d.log.Info("running against simulated radio")
	err := d.Serve(ctx, pipe)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Device) runTCP(ctx context.Context) error {
	interval := d.cfg.Transport.ReconnectInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	breaker := transport.NewBreaker(d.cfg.Transport.BreakerThreshold, d.cfg.Transport.BreakerCooldown)
	breaker.OnStateChange(func(from, to transport.BreakerState) {
		if to == transport.BreakerOpen && d.metrics != nil {
			d.metrics.DialBreakerTrips.Inc()
		}
		d.log.Warn("dial breaker state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Int64("trips", breaker.Trips()))
	})

	for {
		wait := interval
		if err := breaker.Allow(); err != nil {
			wait = breaker.Remaining()
		} else {
			conn, err := transport.Dial(ctx, d.cfg.Transport, d.log.Named("transport"))
			if err != nil {
				breaker.Failure()
				d.log.Warn("device dial failed",
					zap.String("addr", d.cfg.Transport.Addr),
					zap.Duration("retry_in", interval),
					zap.Error(err))
			} else {
				breaker.Success()
				err = d.Serve(ctx, conn)
				_ = conn.Close()
				if ctx.Err() != nil {
					return nil
				}
				if err != nil && errors.Is(err, errFatal) {
					return err
				}
				d.log.Warn("device link lost, reconnecting",
					zap.Duration("retry_in", interval),
					zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
