package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	// MofidOrderURL 为 Mofid Online 的默认下单端点。
	MofidOrderURL = "https://mofidonline.com/apigateway/api/v1/Order/send"

	mofidOrigin  = "https://tg.mofidonline.com"
	mofidReferer = "https://tg.mofidonline.com/"

	// mofid 的有效期编码：1 当日有效，2 指定日期前有效。
	mofidValidityDay       = 1
	mofidValidityUntilDate = 2
)

// Mofid 对接 Mofid Online 网关。唯一同时支持 Cookie 与 Bearer 两种凭证的券商。
type Mofid struct {
	userAgent string
	orderURL  string
	orderFrom string
}

// NewMofid 创建 Mofid 适配器。orderFrom 标记下单来源渠道。
func NewMofid(userAgent, orderURL, orderFrom string) *Mofid {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if orderURL == "" {
		orderURL = MofidOrderURL
	}
	if orderFrom == "" {
		orderFrom = "web"
	}
	return &Mofid{userAgent: userAgent, orderURL: orderURL, orderFrom: orderFrom}
}

func (m *Mofid) Name() Name { return NameMofid }

func (m *Mofid) OrderURL() string { return m.orderURL }

type mofidPayload struct {
	OrderSide    string  `json:"orderSide"`
	Price        int64   `json:"price"`
	Quantity     int64   `json:"quantity"`
	SymbolISIN   string  `json:"symbolIsin"`
	ValidityType int     `json:"validityType"`
	ValidityDate *string `json:"validityDate"`
	OrderFrom    string  `json:"orderFrom"`
}

// Serialize 把委托编码为 Mofid 报文，方向编码为 "Buy"/"Sell" 字符串。
func (m *Mofid) Serialize(spec OrderSpec) ([]byte, error) {
	if spec.Native != nil {
		return compactNative(spec.Native)
	}
	order := spec.Canonical
	if order == nil {
		return nil, fmt.Errorf("broker: mofid 委托为空")
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	side := "Buy"
	if order.Side == SideSell {
		side = "Sell"
	}

	validity := mofidValidityDay
	var validityDate *string
	if order.Validity == ValidityUntilDate {
		validity = mofidValidityUntilDate
		validityDate = &order.ValidityDate
	}

	return json.Marshal(mofidPayload{
		OrderSide:    side,
		Price:        order.Price,
		Quantity:     order.Quantity,
		SymbolISIN:   order.ISIN,
		ValidityType: validity,
		ValidityDate: validityDate,
		OrderFrom:    m.orderFrom,
	})
}

// Headers 构造 Mofid 请求头；Cookie 与 Bearer 按凭证类型二选一。
func (m *Mofid) Headers(cred Credential) (http.Header, error) {
	h := baseHeaders(m.userAgent, "application/json, text/plain, */*", mofidOrigin, mofidReferer, "same-site")
	h.Set("x-appname", "titan")

	switch cred.Kind {
	case CredentialCookie:
		h.Set("Cookie", cred.Value)
	case CredentialBearer:
		h.Set("Authorization", cred.BearerValue())
	default:
		return nil, ErrUnsupportedCredential
	}

	return h, nil
}

func (m *Mofid) Classify(status int, body []byte) Outcome {
	return ClassifyStatus(status, body)
}

// compactNative 压缩原生报文并确保其为合法 JSON。
func compactNative(raw json.RawMessage) ([]byte, error) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("broker: 原生报文不是合法 JSON: %w", err)
	}
	return json.Marshal(decoded)
}
