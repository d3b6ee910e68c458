// 文件: pkg/fixed/decimal.go
// 定点数值类型 - 全系统统一 8 位小数精度
//
// 所有金额/数量用 Decimal 表示:
// - 解析拒绝超过 8 位小数与非法格式
// - 加减精确, 乘法向零截断到 8 位
// - 序列化固定 8 位小数, 如 "50000.00000000"
// - 禁止经过 float64, 避免二进制浮点误差

package fixed

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale 全局小数位数
const Scale = 8

var (
	ErrMalformed = errors.New("malformed decimal")
	ErrScale     = errors.New("decimal exceeds 8 fractional digits")
)

// =============================================================================
// Decimal - 8 位定点数
// =============================================================================

// Decimal 不可变定点数, 零值为 0
type Decimal struct {
	d decimal.Decimal
}

// Zero 返回 0
func Zero() Decimal {
	return Decimal{}
}

// FromInt 从整数构造
func FromInt(n int64) Decimal {
	return Decimal{d: decimal.NewFromInt(n)}
}

// Parse 解析十进制字符串
// 允许格式: [+-]digits 或 [+-]digits.digits, 小数部分最多 8 位
func Parse(s string) (Decimal, error) {
	if err := checkFormat(s); err != nil {
		return Decimal{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Decimal{d: d}, nil
}

// MustParse 解析失败直接 panic, 仅用于常量初始化
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func checkFormat(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty string", ErrMalformed)
	}
	body := s
	if body[0] == '+' || body[0] == '-' {
		body = body[1:]
	}
	intPart, fracPart, hasDot := strings.Cut(body, ".")
	if intPart == "" {
		return fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if hasDot && fracPart == "" {
		return fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if !isDigits(intPart) || (hasDot && !isDigits(fracPart)) {
		return fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if len(fracPart) > Scale {
		return fmt.Errorf("%w: %q", ErrScale, s)
	}
	return nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// 运算
// =============================================================================

// Add 精确加法
func (a Decimal) Add(b Decimal) Decimal {
	return Decimal{d: a.d.Add(b.d)}
}

// Sub 精确减法
func (a Decimal) Sub(b Decimal) Decimal {
	return Decimal{d: a.d.Sub(b.d)}
}

// Mul 乘法, 结果向零截断到 8 位小数
func (a Decimal) Mul(b Decimal) Decimal {
	return Decimal{d: a.d.Mul(b.d).Truncate(Scale)}
}

// Neg 取反
func (a Decimal) Neg() Decimal {
	return Decimal{d: a.d.Neg()}
}

// Cmp 比较: a<b 返回 -1, a==b 返回 0, a>b 返回 1
func (a Decimal) Cmp(b Decimal) int {
	return a.d.Cmp(b.d)
}

func (a Decimal) Equal(b Decimal) bool {
	return a.d.Equal(b.d)
}

func (a Decimal) LessThan(b Decimal) bool {
	return a.d.Cmp(b.d) < 0
}

func (a Decimal) GreaterThan(b Decimal) bool {
	return a.d.Cmp(b.d) > 0
}

func (a Decimal) GreaterThanOrEqual(b Decimal) bool {
	return a.d.Cmp(b.d) >= 0
}

func (a Decimal) IsZero() bool {
	return a.d.IsZero()
}

// IsPositive 严格大于 0
func (a Decimal) IsPositive() bool {
	return a.d.IsPositive()
}

func (a Decimal) IsNegative() bool {
	return a.d.IsNegative()
}

// Float64 近似值, 仅用于监控指标, 账务计算禁止使用
func (a Decimal) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// =============================================================================
// 序列化
// =============================================================================

// String 固定 8 位小数输出
// 系统内所有值小数位 <= 8, StringFixed 不会产生舍入
func (a Decimal) String() string {
	return a.d.StringFixed(Scale)
}

// MarshalJSON 输出 JSON 字符串, 如 "100.50000000"
func (a Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON 接受字符串或裸数字两种形式
func (a *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		return nil
	}
	d, err := Parse(s)
	if err != nil {
		return err
	}
	*a = d
	return nil
}

// Value 存库为字符串, 对应 DECIMAL(40,8) 列
func (a Decimal) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan 从数据库读取
func (a *Decimal) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*a = Decimal{}
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("%w: %q", ErrMalformed, string(v))
		}
		*a = Decimal{d: d}
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrMalformed, v)
		}
		*a = Decimal{d: d}
		return nil
	case int64:
		*a = FromInt(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into fixed.Decimal", value)
	}
}
