package broker

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// snippetLimit 限制诊断用响应体片段的长度。
const snippetLimit = 512

// OutcomeKind 标记单笔委托的终态。
type OutcomeKind int

const (
	// OutcomeSuccess 表示传输层返回 2xx。
	OutcomeSuccess OutcomeKind = iota
	// OutcomeHTTPFailure 表示收到非 2xx 状态码（含 401/403 凭证过期）。
	OutcomeHTTPFailure
	// OutcomeTransportFailure 表示连接、超时、DNS 等传输层故障，没有状态码。
	OutcomeTransportFailure
	// OutcomeSkipped 表示 curl-only 模式下未实际发送。
	OutcomeSkipped
)

// Outcome 是单笔委托的归类结果，仅用于上报，批次结束后不保留。
type Outcome struct {
	Kind   OutcomeKind
	Status int
	// Snippet 为截断后的响应体片段，仅在 HTTP 结果中填充。
	Snippet string
	// Reason 为传输层故障描述。
	Reason string
}

// Failed 判断该结果是否计为失败（序列化失败、HTTP 失败或传输失败）。
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeHTTPFailure || o.Kind == OutcomeTransportFailure
}

// ClassifyStatus 按状态码归类响应：当且仅当 2xx 视为成功。
func ClassifyStatus(status int, body []byte) Outcome {
	snippet := BodySnippet(body)
	if status >= 200 && status < 300 {
		return Outcome{Kind: OutcomeSuccess, Status: status, Snippet: snippet}
	}
	return Outcome{Kind: OutcomeHTTPFailure, Status: status, Snippet: snippet}
}

// SerializationFailure 表示委托无法编码为券商报文。按 HTTP 失败计入，
// 不发起网络调用，下个批次照常重试。
func SerializationFailure(err error) Outcome {
	return Outcome{Kind: OutcomeHTTPFailure, Reason: err.Error()}
}

// TransportFailure 构造传输层故障结果，不携带状态码。
func TransportFailure(err error) Outcome {
	return Outcome{Kind: OutcomeTransportFailure, Reason: err.Error()}
}

// BodySnippet 截断响应体并解码 \uXXXX 转义，便于日志阅读。
// 截断点回退到完整字符的边界，波斯语响应不会被切成非法 UTF-8。
func BodySnippet(body []byte) string {
	s := string(body)
	if strings.Contains(s, `\u`) {
		s = DecodeUnicodeEscapes(s)
	}
	if len(s) > snippetLimit {
		cut := snippetLimit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// DecodeUnicodeEscapes 把响应体中的 \uXXXX 序列还原为字符。
// 券商返回的波斯语提示常以转义形式出现，解码后日志才可读。
func DecodeUnicodeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] == '\\' && i+5 < len(s) && s[i+1] == 'u' {
			code, err := strconv.ParseUint(s[i+2:i+6], 16, 32)
			if err == nil {
				b.WriteRune(rune(code))
				i += 6
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}

	return b.String()
}
