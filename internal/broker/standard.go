package broker

import (
	"fmt"
	"net/http"
)

const (
	// BMIOrderURL 为 BMI Bourse 的默认下单端点。
	BMIOrderURL = "https://api2.bmibourse.ir/Web/V1/Order/Post"
	// OrdibeheshtOrderURL 为 Ordibehesht 的默认下单端点。
	OrdibeheshtOrderURL = "https://api.samanbourse.ir/Web/V1/Order/Post"

	bmiOrigin          = "https://online.bmibourse.ir"
	bmiReferer         = "https://online.bmibourse.ir/"
	ordibeheshtOrigin  = "https://online.oibourse.ir"
	ordibeheshtReferer = "https://online.oibourse.ir/"
)

// StandardOrder 是 BMI/Ordibehesht 共用的券商原生报文。
// 协议字段（各类协议勾选、资方、隐藏量等）没有统一格式的干净投影，
// 因此整体从配置透传，字段名必须与券商契约逐字一致。
type StandardOrder struct {
	IsSymbolCautionAgreement  bool    `json:"IsSymbolCautionAgreement" mapstructure:"is_symbol_caution_agreement"`
	CautionAgreementSelected  bool    `json:"CautionAgreementSelected" mapstructure:"caution_agreement_selected"`
	IsSymbolSepahAgreement    bool    `json:"IsSymbolSepahAgreement" mapstructure:"is_symbol_sepah_agreement"`
	SepahAgreementSelected    bool    `json:"SepahAgreementSelected" mapstructure:"sepah_agreement_selected"`
	OrderCount                int64   `json:"orderCount" mapstructure:"order_count"`
	OrderPrice                int64   `json:"orderPrice" mapstructure:"order_price"`
	FinancialProviderID       int     `json:"FinancialProviderId" mapstructure:"financial_provider_id"`
	MinimumQuantity           int64   `json:"minimumQuantity" mapstructure:"minimum_quantity"`
	MaxShow                   int64   `json:"maxShow" mapstructure:"max_show"`
	OrderID                   int64   `json:"orderId" mapstructure:"order_id"`
	ISIN                      string  `json:"isin" mapstructure:"isin"`
	OrderSide                 int     `json:"orderSide" mapstructure:"order_side"`
	OrderValidity             int     `json:"orderValidity" mapstructure:"order_validity"`
	OrderValidityDate         *string `json:"orderValiditydate" mapstructure:"order_validity_date"`
	ShortSellIsEnabled        bool    `json:"shortSellIsEnabled" mapstructure:"short_sell_is_enabled"`
	ShortSellIncentivePercent int     `json:"shortSellIncentivePercent" mapstructure:"short_sell_incentive_percent"`
}

// Standard 覆盖共用同一套报文与头部结构的券商（BMI、Ordibehesht），
// 仅端点与 Origin/Referer 不同。只接受 Cookie 凭证。
type Standard struct {
	name      Name
	userAgent string
	orderURL  string
	origin    string
	referer   string
}

// NewBMI 创建 BMI Bourse 适配器。
func NewBMI(userAgent, orderURL string) *Standard {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if orderURL == "" {
		orderURL = BMIOrderURL
	}
	return &Standard{
		name:      NameBMI,
		userAgent: userAgent,
		orderURL:  orderURL,
		origin:    bmiOrigin,
		referer:   bmiReferer,
	}
}

// NewOrdibehesht 创建 Ordibehesht 适配器。
func NewOrdibehesht(userAgent, orderURL string) *Standard {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if orderURL == "" {
		orderURL = OrdibeheshtOrderURL
	}
	return &Standard{
		name:      NameOrdibehesht,
		userAgent: userAgent,
		orderURL:  orderURL,
		origin:    ordibeheshtOrigin,
		referer:   ordibeheshtReferer,
	}
}

func (s *Standard) Name() Name { return s.name }

func (s *Standard) OrderURL() string { return s.orderURL }

// Serialize 只接受原生报文；该类券商的委托不从统一格式翻译。
func (s *Standard) Serialize(spec OrderSpec) ([]byte, error) {
	if spec.Native == nil {
		return nil, fmt.Errorf("broker: %s 只接受券商原生报文委托", s.name)
	}
	return compactNative(spec.Native)
}

func (s *Standard) Headers(cred Credential) (http.Header, error) {
	if cred.Kind != CredentialCookie {
		return nil, ErrUnsupportedCredential
	}

	h := baseHeaders(s.userAgent, "*/*", s.origin, s.referer, "same-site")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Cookie", cred.Value)
	return h, nil
}

func (s *Standard) Classify(status int, body []byte) Outcome {
	return ClassifyStatus(status, body)
}
