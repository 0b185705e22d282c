package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const (
	// BidarOrderURL 为 Bidar Trader 的默认下单端点。
	BidarOrderURL = "https://api.bidartrader.ir/trader/v1/order/buy"

	bidarOrigin  = "https://bidartrader.ir"
	bidarReferer = "https://bidartrader.ir/"

	bidarValidityDay = "day"
)

// Bidar 对接 Bidar Trader。只接受 Bearer 凭证，可选 x-user-trace 追踪头；
// 报文所有字段均为字符串。
type Bidar struct {
	userAgent  string
	orderURL   string
	xUserTrace string
}

// NewBidar 创建 Bidar 适配器。xUserTrace 为空时不发送追踪头。
func NewBidar(userAgent, orderURL, xUserTrace string) *Bidar {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if orderURL == "" {
		orderURL = BidarOrderURL
	}
	return &Bidar{userAgent: userAgent, orderURL: orderURL, xUserTrace: xUserTrace}
}

func (b *Bidar) Name() Name { return NameBidar }

func (b *Bidar) OrderURL() string { return b.orderURL }

type bidarPayload struct {
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
	ISIN     string `json:"isin"`
	Validity string `json:"validity"`
	Price    string `json:"price"`
}

// Serialize 把委托编码为 Bidar 报文，数值一律编码为十进制字符串。
func (b *Bidar) Serialize(spec OrderSpec) ([]byte, error) {
	if spec.Native != nil {
		return compactNative(spec.Native)
	}
	order := spec.Canonical
	if order == nil {
		return nil, fmt.Errorf("broker: bidar 委托为空")
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	side := string(SideBuy)
	if order.Side == SideSell {
		side = string(SideSell)
	}

	validity := bidarValidityDay
	if order.Validity == ValidityUntilDate {
		validity = order.ValidityDate
	}

	return json.Marshal(bidarPayload{
		Type:     side,
		Quantity: strconv.FormatInt(order.Quantity, 10),
		ISIN:     order.ISIN,
		Validity: validity,
		Price:    strconv.FormatInt(order.Price, 10),
	})
}

func (b *Bidar) Headers(cred Credential) (http.Header, error) {
	if cred.Kind != CredentialBearer {
		return nil, ErrUnsupportedCredential
	}

	h := baseHeaders(b.userAgent, "application/json", bidarOrigin, bidarReferer, "same-site")
	h.Set("TE", "trailers")
	h.Set("Authorization", cred.BearerValue())
	if b.xUserTrace != "" {
		h.Set("x-user-trace", b.xUserTrace)
	}
	return h, nil
}

func (b *Bidar) Classify(status int, body []byte) Outcome {
	return ClassifyStatus(status, body)
}
