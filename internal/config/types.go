package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"sarkhati/internal/broker"
	"sarkhati/internal/calibrate"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Brokers  BrokersConfig  `mapstructure:"brokers"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// DispatchConfig 控制券商选择与运行模式；命令行参数可覆盖。
type DispatchConfig struct {
	// Broker 为要运行的券商名，或 all 表示全部已配置券商并行。
	Broker string `mapstructure:"broker"`
	// TestMode 为真时每个会话只跑一个批次便停止。
	TestMode bool `mapstructure:"test_mode"`
	// CurlOnly 为真时只打印等效 curl 命令，不真正发送请求。
	CurlOnly bool `mapstructure:"curl_only"`
	// StatusPort 非零时启动状态接口，暴露各会话的运行阶段。
	StatusPort int `mapstructure:"status_port"`
}

// BrokerConfig 为各券商会话共用的基础字段。
type BrokerConfig struct {
	Cookie        string `mapstructure:"cookie"`
	Authorization string `mapstructure:"authorization"`
	UserAgent     string `mapstructure:"user_agent"`
	OrderURL      string `mapstructure:"order_url"`
	// BatchDelay 为批次全部成功后到下一批次的间隔。
	BatchDelay time.Duration `mapstructure:"batch_delay"`
	// FailureBackoff 为批次内出现失败后的退避时长，零值时取批次间隔的5倍。
	FailureBackoff time.Duration `mapstructure:"failure_backoff"`
	// RateLimit 为同一会话相邻请求之间的最小间隔。
	RateLimit time.Duration `mapstructure:"rate_limit"`
	// TargetTime 非空时启用定时发送，格式 HH:MM:SS.mmm（德黑兰时区）。
	TargetTime  string           `mapstructure:"target_time"`
	Calibration calibrate.Config `mapstructure:"calibration"`
}

// OrderConfig 为统一格式委托的配置表示。
type OrderConfig struct {
	Side         string `mapstructure:"side"`
	Price        int64  `mapstructure:"price"`
	Quantity     int64  `mapstructure:"quantity"`
	ISIN         string `mapstructure:"isin"`
	Validity     string `mapstructure:"validity"`
	ValidityDate string `mapstructure:"validity_date"`
}

// Order 把配置表示转换为领域委托，字段校验在会话构建阶段统一进行。
func (o OrderConfig) Order() (broker.Order, error) {
	side, err := broker.ParseSide(o.Side)
	if err != nil {
		return broker.Order{}, err
	}
	validity, err := broker.ParseValidity(o.Validity)
	if err != nil {
		return broker.Order{}, err
	}
	ord := broker.Order{
		Side:         side,
		Price:        o.Price,
		Quantity:     o.Quantity,
		ISIN:         o.ISIN,
		Validity:     validity,
		ValidityDate: o.ValidityDate,
	}
	if err := ord.Validate(); err != nil {
		return broker.Order{}, err
	}
	return ord, nil
}

// MofidConfig 描述 Mofid 会话。
type MofidConfig struct {
	BrokerConfig `mapstructure:",squash"`
	OrderFrom    string        `mapstructure:"order_from"`
	Orders       []OrderConfig `mapstructure:"orders"`
}

// StandardBrokerConfig 描述直接携带原生报文的券商会话（BMI、Ordibehesht）。
type StandardBrokerConfig struct {
	BrokerConfig `mapstructure:",squash"`
	Orders       []broker.StandardOrder `mapstructure:"orders"`
}

// DanayanConfig 描述 Danayan 会话。
type DanayanConfig struct {
	BrokerConfig   `mapstructure:",squash"`
	PaymentGateway int           `mapstructure:"payment_gateway"`
	Orders         []OrderConfig `mapstructure:"orders"`
}

// AlvandConfig 描述 Alvand 会话。
type AlvandConfig struct {
	BrokerConfig  `mapstructure:",squash"`
	NT            string        `mapstructure:"nt"`
	BankAccountID int64         `mapstructure:"bank_account_id"`
	CoreType      string        `mapstructure:"core_type"`
	Orders        []OrderConfig `mapstructure:"orders"`
}

// BidarConfig 描述 Bidar 会话。
type BidarConfig struct {
	BrokerConfig `mapstructure:",squash"`
	XUserTrace   string `mapstructure:"x_user_trace"`
	// DelayModel 控制定时发送的提前量模型：rtt 或 half_rtt。
	DelayModel string        `mapstructure:"delay_model"`
	Orders     []OrderConfig `mapstructure:"orders"`
}

// BrokersConfig 聚合各券商的可选配置段；未出现的券商为 nil。
type BrokersConfig struct {
	Mofid       *MofidConfig          `mapstructure:"mofid"`
	BMI         *StandardBrokerConfig `mapstructure:"bmi"`
	Danayan     *DanayanConfig        `mapstructure:"danayan"`
	Ordibehesht *StandardBrokerConfig `mapstructure:"ordibehesht"`
	Alvand      *AlvandConfig         `mapstructure:"alvand"`
	Bidar       *BidarConfig          `mapstructure:"bidar"`
}

// Configured 返回配置中出现的券商名，顺序固定。
func (b BrokersConfig) Configured() []broker.Name {
	var names []broker.Name
	if b.Mofid != nil {
		names = append(names, broker.NameMofid)
	}
	if b.BMI != nil {
		names = append(names, broker.NameBMI)
	}
	if b.Danayan != nil {
		names = append(names, broker.NameDanayan)
	}
	if b.Ordibehesht != nil {
		names = append(names, broker.NameOrdibehesht)
	}
	if b.Alvand != nil {
		names = append(names, broker.NameAlvand)
	}
	if b.Bidar != nil {
		names = append(names, broker.NameBidar)
	}
	return names
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对全局配置做基本校验。
// 券商段的细节校验在会话构建阶段进行，失败只影响对应会话。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	if c.Dispatch.Broker == "" {
		err = multierr.Append(err, errors.New("dispatch.broker 不能为空"))
	} else if c.Dispatch.Broker != "all" {
		known := false
		for _, name := range broker.Names() {
			if string(name) == c.Dispatch.Broker {
				known = true
				break
			}
		}
		if !known {
			err = multierr.Append(err, fmt.Errorf("dispatch.broker 指向未知券商 %q", c.Dispatch.Broker))
		}
	}

	if len(c.Brokers.Configured()) == 0 {
		err = multierr.Append(err, errors.New("brokers 至少需要配置一家券商"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}
