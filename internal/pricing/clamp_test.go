package pricing

import "testing"

func TestClampFloorsAtMinPrice(t *testing.T) {
	min := dec(95)
	cfg := SafetyConfig{MinPrice: &min}

	out := cfg.Clamp(dec(100), dec(90.25))
	if !out.Equal(dec(95)) {
		t.Fatalf("期望 95, 实际 %s", out)
	}
}

func TestClampCeilsAtMaxPrice(t *testing.T) {
	max := dec(110)
	cfg := SafetyConfig{MaxPrice: &max}

	out := cfg.Clamp(dec(100), dec(130))
	if !out.Equal(dec(110)) {
		t.Fatalf("期望 110, 实际 %s", out)
	}
}

func TestClampMinMaxBothSetStayInBounds(t *testing.T) {
	min := dec(95)
	max := dec(110)
	cfg := SafetyConfig{MinPrice: &min, MaxPrice: &max}

	for _, candidate := range []float64{10, 94.99, 95, 100, 110, 110.01, 500} {
		out := cfg.Clamp(dec(100), dec(candidate))
		if out.LessThan(min) || out.GreaterThan(max) {
			t.Fatalf("candidate %v: 结果 %s 越过 [95,110]", candidate, out)
		}
	}
}

func TestClampPercentBoundIsSymmetric(t *testing.T) {
	pct := dec(10)
	cfg := SafetyConfig{MaxChangePercent: &pct}

	down := cfg.Clamp(dec(100), dec(50))
	if !down.Equal(dec(90)) {
		t.Fatalf("下行期望 90, 实际 %s", down)
	}

	up := cfg.Clamp(dec(100), dec(150))
	if !up.Equal(dec(110)) {
		t.Fatalf("上行期望 110, 实际 %s", up)
	}
}

func TestClampWithinPercentBoundUntouched(t *testing.T) {
	pct := dec(10)
	cfg := SafetyConfig{MaxChangePercent: &pct}

	out := cfg.Clamp(dec(100), dec(95))
	if !out.Equal(dec(95)) {
		t.Fatalf("界内 candidate 不应被改动, 实际 %s", out)
	}
}

// The percent bound measures against the original price, after the absolute
// bounds already ran. A floor far above the current price can therefore be
// stepped back below itself. This is pinned behaviour.
func TestClampOrderingCanReExceedAbsoluteBounds(t *testing.T) {
	min := dec(120)
	pct := dec(5)
	cfg := SafetyConfig{MinPrice: &min, MaxChangePercent: &pct}

	out := cfg.Clamp(dec(100), dec(50))
	if !out.Equal(dec(105)) {
		t.Fatalf("期望 105 (floor 120 被 5%% 上限拉回), 实际 %s", out)
	}
	if !out.LessThan(min) {
		t.Fatal("该用例应演示结果落在 min_price 之下")
	}
}
