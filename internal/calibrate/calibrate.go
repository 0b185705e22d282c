// Package calibrate 在定时发送前测量到券商端点的往返时延，
// 用于估算提前量，使请求尽量贴着目标时刻抵达服务端。
package calibrate

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Estimator 选择时延估计算法。
type Estimator string

const (
	EstimatorP50  Estimator = "p50"
	EstimatorP75  Estimator = "p75"
	EstimatorP90  Estimator = "p90"
	EstimatorMin  Estimator = "min"
	EstimatorEWMA Estimator = "ewma"
)

const ewmaAlpha = 0.3

// Config 控制一轮校准的探测参数。
type Config struct {
	Enabled          bool          `mapstructure:"enabled"`
	ProbeCount       int           `mapstructure:"probe_count"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	WarmupProbes     int           `mapstructure:"warmup_probes"`
	SafetyMargin     time.Duration `mapstructure:"safety_margin"`
	Estimator        Estimator     `mapstructure:"estimator"`
	MaxAcceptableRTT time.Duration `mapstructure:"max_acceptable_rtt"`
}

// Normalize 为零值字段填充默认参数。
func (c *Config) Normalize() {
	if c.ProbeCount <= 0 {
		c.ProbeCount = 10
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 300 * time.Millisecond
	}
	if c.WarmupProbes < 0 {
		c.WarmupProbes = 0
	}
	if c.WarmupProbes == 0 {
		c.WarmupProbes = 2
	}
	if c.Estimator == "" {
		c.Estimator = EstimatorP50
	}
	if c.MaxAcceptableRTT <= 0 {
		c.MaxAcceptableRTT = 500 * time.Millisecond
	}
}

// Validate 校验探测参数之间的约束。
func (c Config) Validate(minInterval time.Duration) error {
	if c.ProbeInterval < minInterval {
		return fmt.Errorf("calibrate: probe_interval (%s) 不能小于请求间隔 (%s)", c.ProbeInterval, minInterval)
	}
	if c.WarmupProbes >= c.ProbeCount {
		return fmt.Errorf("calibrate: warmup_probes (%d) 必须小于 probe_count (%d)", c.WarmupProbes, c.ProbeCount)
	}
	switch c.Estimator {
	case EstimatorP50, EstimatorP75, EstimatorP90, EstimatorMin, EstimatorEWMA:
	default:
		return fmt.Errorf("calibrate: 未知的估计算法 %q", c.Estimator)
	}
	return nil
}

// Summary 为一轮校准的产出。
type Summary struct {
	EstimatedDelay time.Duration
	LastProbeAt    time.Time
}

// ProbeFunc 执行一次探测，返回往返时延与响应状态码。
type ProbeFunc func(ctx context.Context) (time.Duration, int, error)

// Run 按配置执行探测序列并汇总时延估计。
// 探测受会话级限速器约束；单次 RTT 超过上限直接判定校准失败。
func Run(ctx context.Context, cfg Config, limiter *rate.Limiter, probe ProbeFunc, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(0); err != nil {
		return Summary{}, err
	}

	logger.Info("开始RTT校准",
		zap.Int("probe_count", cfg.ProbeCount),
		zap.Duration("probe_interval", cfg.ProbeInterval),
		zap.Int("warmup_probes", cfg.WarmupProbes),
	)

	rtts := make([]time.Duration, 0, cfg.ProbeCount)
	lastProbeAt := time.Now()

	for i := 0; i < cfg.ProbeCount; i++ {
		probeStart := time.Now()

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return Summary{}, err
			}
		}

		rtt, status, err := probe(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("calibrate: 探测 #%d 失败: %w", i+1, err)
		}
		lastProbeAt = time.Now()

		logger.Info("校准探测完成",
			zap.Int("probe", i+1),
			zap.Int("of", cfg.ProbeCount),
			zap.Int("status", status),
			zap.Duration("rtt", rtt),
		)

		if rtt > cfg.MaxAcceptableRTT {
			return Summary{}, fmt.Errorf("calibrate: 探测RTT %s 超过上限 %s", rtt, cfg.MaxAcceptableRTT)
		}

		rtts = append(rtts, rtt)

		if i+1 < cfg.ProbeCount {
			if elapsed := time.Since(probeStart); elapsed < cfg.ProbeInterval {
				select {
				case <-ctx.Done():
					return Summary{}, ctx.Err()
				case <-time.After(cfg.ProbeInterval - elapsed):
				}
			}
		}
	}

	samples := rtts[cfg.WarmupProbes:]
	if len(samples) == 0 {
		return Summary{}, fmt.Errorf("calibrate: 预热后没有可用样本")
	}

	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	minRTT := sorted[0]
	maxRTT := sorted[len(sorted)-1]
	p50 := percentile(sorted, 50)
	p75 := percentile(sorted, 75)
	p90 := percentile(sorted, 90)

	var estimate time.Duration
	switch cfg.Estimator {
	case EstimatorP75:
		estimate = p75
	case EstimatorP90:
		estimate = p90
	case EstimatorMin:
		estimate = minRTT
	case EstimatorEWMA:
		estimate = ewma(samples, ewmaAlpha)
	default:
		estimate = p50
	}

	logger.Info("校准统计",
		zap.Duration("min", minRTT),
		zap.Duration("p50", p50),
		zap.Duration("p75", p75),
		zap.Duration("p90", p90),
		zap.Duration("max", maxRTT),
		zap.Duration("jitter", p90-p50),
		zap.String("estimator", string(cfg.Estimator)),
		zap.Duration("estimate", estimate),
	)

	return Summary{EstimatedDelay: estimate, LastProbeAt: lastProbeAt}, nil
}

// ProbeURL 从下单端点推导探测地址（仅保留 scheme://host[:port]）。
func ProbeURL(orderURL string) (string, error) {
	parsed, err := url.Parse(orderURL)
	if err != nil {
		return "", fmt.Errorf("calibrate: 无效的 order_url %q: %w", orderURL, err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("calibrate: order_url %q 缺少主机名", orderURL)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// percentile 取已排序样本的百分位值（最近秩法）。
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int((p/100)*float64(len(sorted)-1) + 0.5)
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// ewma 对样本做指数加权滑动平均。
func ewma(samples []time.Duration, alpha float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	value := float64(samples[0])
	for _, s := range samples[1:] {
		value = alpha*float64(s) + (1-alpha)*value
	}
	return time.Duration(value)
}
