package broker

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

const (
	// AlvandOrderURL 为 Alvand（Exir 平台）的默认下单端点。
	AlvandOrderURL = "https://arzeshafarin.exirbroker.com/api/v1/order"

	alvandOrigin  = "https://arzeshafarin.exirbroker.com"
	alvandReferer = "https://arzeshafarin.exirbroker.com/exir/mainNew"

	// alvand 的方向与有效期为符号化枚举字符串。
	alvandSideBuy           = "buy"
	alvandSideSell          = "sell"
	alvandValidityDay       = "day"
	alvandValidityUntilDate = "until_date"
	alvandOrderTypeLimit    = "limit"
)

// Alvand 对接 Exir 平台上的 Alvand 券商。除 Cookie 外还要求逐请求
// 计算的 X-App-N 防护头，算法依赖登录后获得的 nt 令牌。
type Alvand struct {
	userAgent     string
	orderURL      string
	nt            string
	bankAccountID int64
	coreType      string
}

// NewAlvand 创建 Alvand 适配器。nt 为登录后 userInfo 中的令牌。
func NewAlvand(userAgent, orderURL, nt string, bankAccountID int64, coreType string) *Alvand {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if orderURL == "" {
		orderURL = AlvandOrderURL
	}
	if coreType == "" {
		coreType = "normal"
	}
	return &Alvand{
		userAgent:     userAgent,
		orderURL:      orderURL,
		nt:            nt,
		bankAccountID: bankAccountID,
		coreType:      coreType,
	}
}

func (a *Alvand) Name() Name { return NameAlvand }

func (a *Alvand) OrderURL() string { return a.orderURL }

type alvandPayload struct {
	InsMaxLcode             string `json:"insMaxLcode"`
	BankAccountID           int64  `json:"bankAccountId"`
	Side                    string `json:"side"`
	OrderType               string `json:"orderType"`
	Quantity                int64  `json:"quantity"`
	Price                   int64  `json:"price"`
	ValidityType            string `json:"validityType"`
	ValidityDate            string `json:"validityDate"`
	CoreType                string `json:"coreType"`
	HasUnderCautionAgreement bool   `json:"hasUnderCautionAgreement"`
	DividedOrder            bool   `json:"dividedOrder"`
}

// Serialize 把委托编码为 Exir 报文，方向编码为 "buy"/"sell" 符号串。
func (a *Alvand) Serialize(spec OrderSpec) ([]byte, error) {
	if spec.Native != nil {
		return compactNative(spec.Native)
	}
	order := spec.Canonical
	if order == nil {
		return nil, fmt.Errorf("broker: alvand 委托为空")
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	side := alvandSideBuy
	if order.Side == SideSell {
		side = alvandSideSell
	}

	validity := alvandValidityDay
	validityDate := ""
	if order.Validity == ValidityUntilDate {
		validity = alvandValidityUntilDate
		validityDate = order.ValidityDate
	}

	return json.Marshal(alvandPayload{
		InsMaxLcode:   order.ISIN,
		BankAccountID: a.bankAccountID,
		Side:          side,
		OrderType:     alvandOrderTypeLimit,
		Quantity:      order.Quantity,
		Price:         order.Price,
		ValidityType:  validity,
		ValidityDate:  validityDate,
		CoreType:      a.coreType,
	})
}

// Headers 构造 Exir 请求头，X-App-N 每次调用重新计算。
func (a *Alvand) Headers(cred Credential) (http.Header, error) {
	if cred.Kind != CredentialCookie {
		return nil, ErrUnsupportedCredential
	}

	h := baseHeaders(a.userAgent, "application/json, text/plain, */*", alvandOrigin, alvandReferer, "same-origin")
	h.Set("X-App-N", calculateXAppN(a.nt, a.orderURL, time.Now().UTC()))
	h.Set("Cookie", cred.Value)
	return h, nil
}

func (a *Alvand) Classify(status int, body []byte) Outcome {
	return ClassifyStatus(status, body)
}

// calculateXAppN 复算 Exir 前端的 X-App-N 防护值。
//
// 取 UTC 当前时刻回拨 2 秒（容忍时钟偏差）的当日秒数，乘以端点 URL
// 的字符码之和得到第二段；第一段为从 nt 令牌按当日秒数选位截取的
// 5 位数值乘以第二段后向下取整。
func calculateXAppN(nt, url string, now time.Time) string {
	now = now.Add(-2 * time.Second)
	utcSeconds := int64(3600*now.Hour() + 60*now.Minute() + now.Second())

	var urlCharSum int64
	for _, c := range url {
		urlCharSum += int64(c)
	}

	l := nt
	if len(nt) > 2 {
		l = nt[2:]
	}

	var offset int64
	if len(nt) >= 2 {
		if parsed, err := strconv.ParseInt(nt[0:2], 10, 64); err == nil {
			offset = parsed
		}
	}

	pos := 0
	if lLen := int64(len(l)); lLen > 5 {
		p := utcSeconds%(lLen-5) - offset
		if p < 0 {
			p = -p
		}
		pos = int(p)
	}

	extracted := "0"
	if pos < len(l) {
		end := pos + 5
		if end > len(l) {
			end = len(l)
		}
		extracted = l[pos:end]
	}

	value, err := strconv.ParseFloat(extracted, 64)
	if err != nil {
		value = 0
	}

	secondPart := utcSeconds * urlCharSum
	firstPart := int64(math.Floor(value * float64(secondPart)))

	return fmt.Sprintf("%d.%d", firstPart, secondPart)
}
