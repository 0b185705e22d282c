package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	// DanayanOrderURL 为 Danayan TseOms 的默认下单端点。
	DanayanOrderURL = "https://otapi.danayan.broker/api/v1/TseOms/RegisterOrder"

	danayanOrigin = "https://trader.danayan.broker"

	// danayan 的方向与有效期均为整数编码。
	danayanSideBuy           = 1
	danayanSideSell          = 2
	danayanValidityDay       = 1
	danayanValidityUntilDate = 2
)

// Danayan 对接 Danayan 券商的 TseOms 网关。只接受 Cookie 凭证。
type Danayan struct {
	userAgent      string
	orderURL       string
	paymentGateway int
}

// NewDanayan 创建 Danayan 适配器。paymentGateway 指定出入金通道编码。
func NewDanayan(userAgent, orderURL string, paymentGateway int) *Danayan {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if orderURL == "" {
		orderURL = DanayanOrderURL
	}
	return &Danayan{userAgent: userAgent, orderURL: orderURL, paymentGateway: paymentGateway}
}

func (d *Danayan) Name() Name { return NameDanayan }

func (d *Danayan) OrderURL() string { return d.orderURL }

type danayanPayload struct {
	OrderValidityType   int    `json:"orderValidityType"`
	OrderPaymentGateway int    `json:"orderPaymentGateway"`
	Price               int64  `json:"price"`
	Quantity            int64  `json:"quantity"`
	DisclosedQuantity   *int64 `json:"disclosedQuantity"`
	ISIN                string `json:"isin"`
	OrderSide           int    `json:"orderSide"`
}

// Serialize 把委托编码为 Danayan 报文，方向编码为整数（买1卖2）。
func (d *Danayan) Serialize(spec OrderSpec) ([]byte, error) {
	if spec.Native != nil {
		return compactNative(spec.Native)
	}
	order := spec.Canonical
	if order == nil {
		return nil, fmt.Errorf("broker: danayan 委托为空")
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	side := danayanSideBuy
	if order.Side == SideSell {
		side = danayanSideSell
	}

	validity := danayanValidityDay
	if order.Validity == ValidityUntilDate {
		validity = danayanValidityUntilDate
	}

	return json.Marshal(danayanPayload{
		OrderValidityType:   validity,
		OrderPaymentGateway: d.paymentGateway,
		Price:               order.Price,
		Quantity:            order.Quantity,
		DisclosedQuantity:   nil,
		ISIN:                order.ISIN,
		OrderSide:           side,
	})
}

func (d *Danayan) Headers(cred Credential) (http.Header, error) {
	if cred.Kind != CredentialCookie {
		return nil, ErrUnsupportedCredential
	}

	h := baseHeaders(d.userAgent, "application/json, text/plain, */*", danayanOrigin, "", "same-site")
	h.Set("Cookie", cred.Value)
	return h, nil
}

func (d *Danayan) Classify(status int, body []byte) Outcome {
	return ClassifyStatus(status, body)
}
