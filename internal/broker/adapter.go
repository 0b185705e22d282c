package broker

import (
	"errors"
	"net/http"
)

// Name 是支持的券商枚举标签。
type Name string

const (
	NameMofid       Name = "mofid"
	NameBMI         Name = "bmi"
	NameDanayan     Name = "danayan"
	NameOrdibehesht Name = "ordibehesht"
	NameAlvand      Name = "alvand"
	NameBidar       Name = "bidar"
)

// Names 按固定顺序列出全部支持的券商。
func Names() []Name {
	return []Name{NameMofid, NameBMI, NameDanayan, NameOrdibehesht, NameAlvand, NameBidar}
}

// DefaultUserAgent 为各券商统一的默认浏览器标识。
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:145.0) Gecko/20100101 Firefox/145.0"

// ErrUnsupportedCredential 表示凭证类型与券商要求不符。
var ErrUnsupportedCredential = errors.New("broker: credential kind not supported by this broker")

// Adapter 把统一委托翻译成券商报文，并对响应做成败归类。
// 每个实现对应一家券商，在会话构建时选定一次；所有方法必须是
// (OrderSpec, Credential) 的纯函数，不得修改共享的券商常量数据。
type Adapter interface {
	// Name 返回券商标签。
	Name() Name

	// OrderURL 返回下单端点。
	OrderURL() string

	// Serialize 把委托编码为该券商的请求体。原生报文原样透传。
	Serialize(spec OrderSpec) ([]byte, error)

	// Headers 按凭证构造完整请求头。
	Headers(cred Credential) (http.Header, error)

	// Classify 根据响应状态码与响应体归类单笔委托结果。
	Classify(status int, body []byte) Outcome
}

// baseHeaders 构造各券商共用的浏览器伪装头。
func baseHeaders(userAgent, accept, origin, referer, secFetchSite string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", accept)
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	h.Set("Origin", origin)
	h.Set("Connection", "keep-alive")
	if referer != "" {
		h.Set("Referer", referer)
	}
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", secFetchSite)
	h.Set("Priority", "u=0")
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", "application/json")
	return h
}
