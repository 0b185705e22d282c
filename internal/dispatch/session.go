package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sarkhati/internal/broker"
	"sarkhati/internal/calibrate"
	"sarkhati/internal/config"
)

const (
	defaultBatchDelay = 100 * time.Millisecond
	// 未配置退避时长时按批次间隔的倍数取值。
	failureBackoffFactor = 5
)

// Doer 抽象 HTTP 客户端，便于测试注入。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Mode 描述会话的运行模式。
type Mode struct {
	// TestMode 为真时只发送一个批次。
	TestMode bool
	// CurlOnly 为真时不发请求，只输出等效 curl 命令。
	CurlOnly bool
}

// DelayModel 控制定时发送时提前量如何从 RTT 推导。
type DelayModel string

const (
	DelayModelRTT     DelayModel = "rtt"
	DelayModelHalfRTT DelayModel = "half_rtt"
)

// Session 驱动单一券商的委托发送循环。
// 一个会话持有固定的委托清单，每个批次把整份清单重新发出。
type Session struct {
	adapter broker.Adapter
	cred    broker.Credential
	specs   []broker.OrderSpec

	client Doer

	batchDelay     time.Duration
	failureBackoff time.Duration
	rateLimit      time.Duration
	limiter        *rate.Limiter

	mode Mode

	targetTime  string
	calibration calibrate.Config
	delayModel  DelayModel

	logger *zap.Logger
	state  atomic.Int32
}

// NewSession 按券商名从配置构建会话。
// 对应券商段缺失、凭证不可用或委托清单非法时返回错误。
func NewSession(name broker.Name, brokers config.BrokersConfig, mode Mode, client Doer, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}

	var (
		adapter    broker.Adapter
		base       config.BrokerConfig
		specs      []broker.OrderSpec
		delayModel DelayModel
		err        error
	)

	switch name {
	case broker.NameMofid:
		cfg := brokers.Mofid
		if cfg == nil {
			return nil, fmt.Errorf("dispatch: 券商 %s 未配置", name)
		}
		base = cfg.BrokerConfig
		adapter = broker.NewMofid(cfg.UserAgent, cfg.OrderURL, cfg.OrderFrom)
		specs, err = canonicalSpecs(cfg.Orders)
	case broker.NameBMI:
		cfg := brokers.BMI
		if cfg == nil {
			return nil, fmt.Errorf("dispatch: 券商 %s 未配置", name)
		}
		base = cfg.BrokerConfig
		adapter = broker.NewBMI(cfg.UserAgent, cfg.OrderURL)
		specs, err = nativeSpecs(cfg.Orders)
	case broker.NameDanayan:
		cfg := brokers.Danayan
		if cfg == nil {
			return nil, fmt.Errorf("dispatch: 券商 %s 未配置", name)
		}
		base = cfg.BrokerConfig
		adapter = broker.NewDanayan(cfg.UserAgent, cfg.OrderURL, cfg.PaymentGateway)
		specs, err = canonicalSpecs(cfg.Orders)
	case broker.NameOrdibehesht:
		cfg := brokers.Ordibehesht
		if cfg == nil {
			return nil, fmt.Errorf("dispatch: 券商 %s 未配置", name)
		}
		base = cfg.BrokerConfig
		adapter = broker.NewOrdibehesht(cfg.UserAgent, cfg.OrderURL)
		specs, err = nativeSpecs(cfg.Orders)
	case broker.NameAlvand:
		cfg := brokers.Alvand
		if cfg == nil {
			return nil, fmt.Errorf("dispatch: 券商 %s 未配置", name)
		}
		if cfg.NT == "" {
			return nil, fmt.Errorf("dispatch: 券商 %s 缺少 nt 参数", name)
		}
		base = cfg.BrokerConfig
		adapter = broker.NewAlvand(cfg.UserAgent, cfg.OrderURL, cfg.NT, cfg.BankAccountID, cfg.CoreType)
		specs, err = canonicalSpecs(cfg.Orders)
	case broker.NameBidar:
		cfg := brokers.Bidar
		if cfg == nil {
			return nil, fmt.Errorf("dispatch: 券商 %s 未配置", name)
		}
		base = cfg.BrokerConfig
		adapter = broker.NewBidar(cfg.UserAgent, cfg.OrderURL, cfg.XUserTrace)
		specs, err = canonicalSpecs(cfg.Orders)
		delayModel, err = parseDelayModel(cfg.DelayModel, err)
	default:
		return nil, fmt.Errorf("dispatch: 未知券商 %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: 券商 %s 委托清单非法: %w", name, err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("dispatch: 券商 %s 委托清单为空", name)
	}

	cred, err := broker.ResolveCredential(base.Cookie, base.Authorization)
	if err != nil {
		return nil, fmt.Errorf("dispatch: 券商 %s 凭证不可用: %w", name, err)
	}
	// 提前构造一次请求头，凭证类型不匹配在这里暴露。
	if _, err := adapter.Headers(cred); err != nil {
		return nil, fmt.Errorf("dispatch: 券商 %s 凭证类型不被支持: %w", name, err)
	}

	// 报文编码在每次发送时进行；这里先试编码一遍，
	// 让配置层面的报文问题在构建阶段就暴露。
	for i, spec := range specs {
		if _, err := adapter.Serialize(spec); err != nil {
			return nil, fmt.Errorf("dispatch: 券商 %s 第%d笔委托编码失败: %w", name, i+1, err)
		}
	}

	s := &Session{
		adapter:        adapter,
		cred:           cred,
		specs:          specs,
		client:         client,
		batchDelay:     base.BatchDelay,
		failureBackoff: base.FailureBackoff,
		rateLimit:      base.RateLimit,
		mode:           mode,
		targetTime:     base.TargetTime,
		calibration:    base.Calibration,
		delayModel:     delayModel,
		logger:         logger.With(zap.String("broker", string(name))),
	}
	s.normalize()

	if s.targetTime != "" {
		if _, err := parseTargetTime(s.targetTime); err != nil {
			return nil, fmt.Errorf("dispatch: 券商 %s target_time 非法: %w", name, err)
		}
		if s.calibration.Enabled {
			if err := s.calibration.Validate(s.rateLimit); err != nil {
				return nil, fmt.Errorf("dispatch: 券商 %s 校准配置非法: %w", name, err)
			}
		}
	}

	// 未配置 rate_limit 时批次内不做节流
	if s.rateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Every(s.rateLimit), 1)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	s.state.Store(int32(StateIdle))
	return s, nil
}

func (s *Session) normalize() {
	if s.batchDelay <= 0 {
		s.batchDelay = defaultBatchDelay
	}
	if s.failureBackoff <= 0 {
		s.failureBackoff = failureBackoffFactor * s.batchDelay
	}
	if s.delayModel == "" {
		s.delayModel = DelayModelRTT
	}
	s.calibration.Normalize()
}

// Broker 返回会话绑定的券商名。
func (s *Session) Broker() broker.Name {
	return s.adapter.Name()
}

// Orders 返回会话持有的委托数。
func (s *Session) Orders() int {
	return len(s.specs)
}

func canonicalSpecs(orders []config.OrderConfig) ([]broker.OrderSpec, error) {
	specs := make([]broker.OrderSpec, 0, len(orders))
	for i, oc := range orders {
		ord, err := oc.Order()
		if err != nil {
			return nil, fmt.Errorf("第%d笔: %w", i+1, err)
		}
		specs = append(specs, broker.CanonicalSpec(ord))
	}
	return specs, nil
}

func nativeSpecs(orders []broker.StandardOrder) ([]broker.OrderSpec, error) {
	specs := make([]broker.OrderSpec, 0, len(orders))
	for i, ord := range orders {
		raw, err := json.Marshal(ord)
		if err != nil {
			return nil, fmt.Errorf("第%d笔: %w", i+1, err)
		}
		specs = append(specs, broker.NativeSpec(raw))
	}
	return specs, nil
}

func parseDelayModel(raw string, prev error) (DelayModel, error) {
	if prev != nil {
		return "", prev
	}
	switch DelayModel(raw) {
	case "", DelayModelRTT:
		return DelayModelRTT, nil
	case DelayModelHalfRTT:
		return DelayModelHalfRTT, nil
	default:
		return "", fmt.Errorf("未知的 delay_model %q", raw)
	}
}
