package dispatch

import (
	"net/http"
	"sort"
	"strings"
)

// RenderCurl 把一次下单请求渲染成可直接执行的 curl 命令。
// 请求头按名称排序，保证输出稳定。
func RenderCurl(url string, headers http.Header, body []byte) string {
	var b strings.Builder
	b.WriteString("curl ")
	b.WriteString(shellQuote(url))
	b.WriteString(" -X POST")

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range headers[name] {
			b.WriteString(" -H ")
			b.WriteString(shellQuote(name + ": " + value))
		}
	}

	b.WriteString(" --data-raw ")
	b.WriteString(shellQuote(string(body)))
	return b.String()
}

// shellQuote 用单引号包裹并转义内部的单引号。
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
