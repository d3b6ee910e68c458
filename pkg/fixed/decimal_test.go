package fixed

import (
	"encoding/json"
	"errors"
	"testing"
)

// =============================================================================
// 解析测试
// =============================================================================

func TestParse_Valid(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"50000", "50000.00000000"},
		{"50000.5", "50000.50000000"},
		{"0", "0.00000000"},
		{"0.00000001", "0.00000001"},
		{"50000.00000000", "50000.00000000"},
		{"+2.5", "2.50000000"},
		{"-3.25", "-3.25000000"},
		{"10000000000000000000000000", "10000000000000000000000000.00000000"},
	}

	for _, c := range cases {
		d, err := Parse(c.in)
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", c.in, err)
			continue
		}
		if d.String() != c.want {
			t.Errorf("Parse(%q) = %s, want %s", c.in, d.String(), c.want)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	bad := []string{"", "abc", "1.2.3", "1e5", ".5", "1.", "1,000", " 1", "0x10", "--1"}
	for _, s := range bad {
		if _, err := Parse(s); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q) expected ErrMalformed, got %v", s, err)
		}
	}
}

func TestParse_ScaleLimit(t *testing.T) {
	// 9 位小数拒绝
	if _, err := Parse("0.123456789"); !errors.Is(err, ErrScale) {
		t.Errorf("expected ErrScale, got %v", err)
	}
	// 恰好 8 位通过
	if _, err := Parse("0.12345678"); err != nil {
		t.Errorf("8 decimal places should parse, got %v", err)
	}
}

// =============================================================================
// 运算测试
// =============================================================================

func TestAddSub_Exact(t *testing.T) {
	// 0.1 + 0.2 == 0.3, float64 做不到的
	a := MustParse("0.1")
	b := MustParse("0.2")
	if got := a.Add(b); !got.Equal(MustParse("0.3")) {
		t.Errorf("0.1 + 0.2 = %s, want 0.30000000", got)
	}

	c := MustParse("10000").Sub(MustParse("9999.99999999"))
	if c.String() != "0.00000001" {
		t.Errorf("expected 0.00000001, got %s", c)
	}
}

func TestMul_Truncates(t *testing.T) {
	cases := []struct {
		a, b, want string
	}{
		{"0.5", "50000", "25000.00000000"},
		// 2500 * 0.015 = 37.5, 手续费场景
		{"2500", "0.015", "37.50000000"},
		// 0.00000003 * 0.5 = 0.000000015 -> 截断到 0.00000001
		{"0.00000003", "0.5", "0.00000001"},
		// 结果小于最小精度 -> 0
		{"0.00000001", "0.1", "0.00000000"},
		// 负数向零截断
		{"-0.00000003", "0.5", "-0.00000001"},
	}

	for _, c := range cases {
		got := MustParse(c.a).Mul(MustParse(c.b))
		if got.String() != c.want {
			t.Errorf("%s * %s = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestCmp(t *testing.T) {
	a := MustParse("1.00000001")
	b := MustParse("1.00000002")

	if a.Cmp(b) != -1 || b.Cmp(a) != 1 || a.Cmp(a) != 0 {
		t.Errorf("Cmp ordering broken: %s vs %s", a, b)
	}
	if !a.LessThan(b) || !b.GreaterThan(a) || !b.GreaterThanOrEqual(a) {
		t.Errorf("comparison helpers broken")
	}
	if !Zero().IsZero() || Zero().IsPositive() {
		t.Errorf("zero predicates broken")
	}
	if !MustParse("-1").IsNegative() {
		t.Errorf("expected -1 to be negative")
	}
}

// =============================================================================
// 序列化测试
// =============================================================================

func TestJSON(t *testing.T) {
	type payload struct {
		Price Decimal `json:"price"`
	}

	out, err := json.Marshal(payload{Price: MustParse("50000")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"price":"50000.00000000"}` {
		t.Errorf("unexpected json: %s", out)
	}

	// 字符串与裸数字都能解
	var p payload
	if err := json.Unmarshal([]byte(`{"price":"123.45"}`), &p); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if p.Price.String() != "123.45000000" {
		t.Errorf("expected 123.45000000, got %s", p.Price)
	}
	if err := json.Unmarshal([]byte(`{"price":123.45}`), &p); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if p.Price.String() != "123.45000000" {
		t.Errorf("expected 123.45000000, got %s", p.Price)
	}

	// 精度超限报错
	if err := json.Unmarshal([]byte(`{"price":"0.123456789"}`), &p); err == nil {
		t.Errorf("expected scale error")
	}
}

func TestSQLRoundTrip(t *testing.T) {
	d := MustParse("99.12345678")
	v, err := d.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v.(string) != "99.12345678" {
		t.Errorf("expected 99.12345678, got %v", v)
	}

	var back Decimal
	if err := back.Scan([]byte("99.12345678")); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !back.Equal(d) {
		t.Errorf("scan round trip mismatch: %s", back)
	}

	var fromInt Decimal
	if err := fromInt.Scan(int64(7)); err != nil {
		t.Fatalf("scan int64: %v", err)
	}
	if fromInt.String() != "7.00000000" {
		t.Errorf("expected 7.00000000, got %s", fromInt)
	}
}
