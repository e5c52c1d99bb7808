package classifier

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassify_RuleOrder(t *testing.T) {
	c := New()

	tests := []struct {
		name  string
		input Input
		want  string
	}{
		{
			name: "merchant match wins",
			input: Input{
				MerchantName: "Walmart",
				Description:  "Grocery run",
				Amount:       decimal.NewFromFloat(-45.00),
			},
			want: "Groceries",
		},
		{
			name: "merchant match is case-insensitive",
			input: Input{
				MerchantName: "STARBUCKS #1234",
				Amount:       decimal.NewFromFloat(-6.50),
			},
			want: "Coffee & Tea",
		},
		{
			name: "merchant beats keyword",
			input: Input{
				MerchantName: "Netflix",
				Description:  "rent payment",
				Amount:       decimal.NewFromFloat(-15.99),
			},
			want: "Entertainment",
		},
		{
			name: "keyword match when no merchant hit",
			input: Input{
				MerchantName: "Property Mgmt LLC",
				Description:  "Monthly RENT payment",
				Amount:       decimal.NewFromFloat(-1800.00),
			},
			want: "Housing",
		},
		{
			name: "large debit heuristic",
			input: Input{
				MerchantName: "Some Store",
				Description:  "purchase",
				Amount:       decimal.NewFromFloat(-1200.00),
			},
			want: CategoryLargePurchases,
		},
		{
			name: "debit at threshold is not large",
			input: Input{
				Amount: decimal.NewFromInt(-500),
			},
			want: CategoryMiscellaneous,
		},
		{
			name: "credit sign heuristic",
			input: Input{
				MerchantName: "Acme Corp",
				Description:  "misc credit",
				Amount:       decimal.NewFromFloat(250.00),
			},
			want: CategoryIncome,
		},
		{
			name:  "fallback for empty input",
			input: Input{},
			want:  CategoryMiscellaneous,
		},
		{
			name: "small unknown debit falls through",
			input: Input{
				MerchantName: "Corner Shop",
				Description:  "stuff",
				Amount:       decimal.NewFromFloat(-9.99),
			},
			want: CategoryMiscellaneous,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.input)
			if got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := New()
	in := Input{
		MerchantName: "Trader Joe's",
		Description:  "groceries",
		Amount:       decimal.NewFromFloat(-82.31),
	}

	first := c.Classify(in)
	for i := 0; i < 100; i++ {
		if got := c.Classify(in); got != first {
			t.Fatalf("Classify() not deterministic: got %q then %q", first, got)
		}
	}
}

func TestClassify_Totality(t *testing.T) {
	c := New()

	// Every input must yield a non-empty label.
	inputs := []Input{
		{},
		{Pending: true},
		{Amount: decimal.Zero},
		{MerchantName: "\x00\xff weird bytes"},
		{Description: "ünïcödé"},
		{Amount: decimal.RequireFromString("-999999999999.99")},
		{Amount: decimal.RequireFromString("999999999999.99")},
	}
	for _, in := range inputs {
		if got := c.Classify(in); got == "" {
			t.Errorf("Classify(%+v) returned empty label", in)
		}
	}
}

func TestClassify_CustomRules(t *testing.T) {
	c := New(
		WithMerchantRules([]Rule{{Pattern: "acme", Category: "Widgets"}}),
		WithKeywordRules(nil),
		WithLargeDebitThreshold(decimal.NewFromInt(10)),
	)

	if got := c.Classify(Input{MerchantName: "ACME Inc"}); got != "Widgets" {
		t.Errorf("custom merchant rule: got %q, want Widgets", got)
	}
	if got := c.Classify(Input{Amount: decimal.NewFromInt(-11)}); got != CategoryLargePurchases {
		t.Errorf("custom threshold: got %q, want %q", got, CategoryLargePurchases)
	}
}
