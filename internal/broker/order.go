package broker

import (
	"encoding/json"
	"fmt"
)

// Side 表示委托方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 解析配置中的方向字符串。
func ParseSide(raw string) (Side, error) {
	switch Side(raw) {
	case SideBuy, SideSell:
		return Side(raw), nil
	default:
		return "", fmt.Errorf("broker: 无效的委托方向 %q", raw)
	}
}

// Validity 表示委托有效期类型。
type Validity string

const (
	ValidityDay       Validity = "day"
	ValidityUntilDate Validity = "until_date"
)

// ParseValidity 解析配置中的有效期字符串，空值按当日有效处理。
func ParseValidity(raw string) (Validity, error) {
	switch Validity(raw) {
	case "":
		return ValidityDay, nil
	case ValidityDay, ValidityUntilDate:
		return Validity(raw), nil
	default:
		return "", fmt.Errorf("broker: 无效的有效期类型 %q", raw)
	}
}

// Order 为券商无关的委托意图：方向、价格、数量、标的及有效期。
// 各 Adapter 负责把它翻译成对应券商的报文格式。
type Order struct {
	Side         Side
	Price        int64
	Quantity     int64
	ISIN         string
	Validity     Validity
	ValidityDate string
}

// Validate 校验委托字段的基本合法性。
func (o Order) Validate() error {
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("broker: 无效的委托方向 %q", o.Side)
	}
	if o.Price <= 0 {
		return fmt.Errorf("broker: 委托价格必须大于0, 当前为 %d", o.Price)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("broker: 委托数量必须大于0, 当前为 %d", o.Quantity)
	}
	if o.ISIN == "" {
		return fmt.Errorf("broker: 委托缺少标的代码")
	}
	if o.Validity == ValidityUntilDate && o.ValidityDate == "" {
		return fmt.Errorf("broker: until_date 有效期必须指定 validity_date")
	}
	return nil
}

// OrderSpec 是批次内的单个委托：要么是统一格式的 Order，
// 要么是配置里直接给出的券商原生报文（无法投影到统一格式的券商使用后者）。
type OrderSpec struct {
	Canonical *Order
	Native    json.RawMessage
}

// CanonicalSpec 构造统一格式的委托。
func CanonicalSpec(order Order) OrderSpec {
	return OrderSpec{Canonical: &order}
}

// NativeSpec 构造券商原生报文的委托。
func NativeSpec(raw json.RawMessage) OrderSpec {
	return OrderSpec{Native: raw}
}
