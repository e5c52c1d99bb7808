// Package classifier assigns spending categories to transactions using a
// fixed, ordered rule set. Classification is pure and deterministic: the
// same input always yields the same label, which keeps re-syncs idempotent.
package classifier

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Default category labels produced by the built-in rules.
const (
	CategoryIncome         = "Income"
	CategoryLargePurchases = "Large Purchases"
	CategoryMiscellaneous  = "Miscellaneous"
)

// Input is the subset of transaction fields the classifier looks at.
type Input struct {
	Description  string
	MerchantName string
	Amount       decimal.Decimal
	Pending      bool
}

// Rule maps a lowercase match pattern to a category label.
// Rules are evaluated in slice order; the first match wins.
type Rule struct {
	Pattern  string
	Category string
}

// Classifier evaluates rules in a fixed order:
// merchant table, then description keyword table, then the large-debit
// heuristic, then the credit-sign heuristic, then the fallback.
// It never fails: every input gets a non-empty label.
type Classifier struct {
	merchantRules []Rule
	keywordRules  []Rule

	// largeDebitThreshold is the debit magnitude above which a transaction
	// is labeled as a large purchase.
	largeDebitThreshold decimal.Decimal
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMerchantRules replaces the default merchant table.
func WithMerchantRules(rules []Rule) Option {
	return func(c *Classifier) { c.merchantRules = rules }
}

// WithKeywordRules replaces the default description keyword table.
func WithKeywordRules(rules []Rule) Option {
	return func(c *Classifier) { c.keywordRules = rules }
}

// WithLargeDebitThreshold replaces the default large-debit threshold.
func WithLargeDebitThreshold(threshold decimal.Decimal) Option {
	return func(c *Classifier) { c.largeDebitThreshold = threshold }
}

// New creates a Classifier with the default rule tables unless overridden.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		merchantRules:       defaultMerchantRules,
		keywordRules:        defaultKeywordRules,
		largeDebitThreshold: decimal.NewFromInt(500),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the category label for the given input.
// Rule evaluation order, first match wins:
//  1. merchant-name substring match (case-insensitive)
//  2. description keyword match (case-insensitive)
//  3. debit magnitude above the large-debit threshold
//  4. positive amount (credit)
//  5. fallback
func (c *Classifier) Classify(in Input) string {
	merchant := strings.ToLower(in.MerchantName)
	for _, rule := range c.merchantRules {
		if rule.Pattern != "" && strings.Contains(merchant, rule.Pattern) {
			return rule.Category
		}
	}

	description := strings.ToLower(in.Description)
	for _, rule := range c.keywordRules {
		if rule.Pattern != "" && strings.Contains(description, rule.Pattern) {
			return rule.Category
		}
	}

	if in.Amount.IsNegative() && in.Amount.Abs().GreaterThan(c.largeDebitThreshold) {
		return CategoryLargePurchases
	}

	if in.Amount.IsPositive() {
		return CategoryIncome
	}

	return CategoryMiscellaneous
}

// defaultMerchantRules is the built-in merchant table. Patterns must be
// lowercase; they are matched as substrings of the merchant name.
var defaultMerchantRules = []Rule{
	{Pattern: "walmart", Category: "Groceries"},
	{Pattern: "kroger", Category: "Groceries"},
	{Pattern: "trader joe", Category: "Groceries"},
	{Pattern: "whole foods", Category: "Groceries"},
	{Pattern: "safeway", Category: "Groceries"},
	{Pattern: "costco", Category: "Groceries"},
	{Pattern: "starbucks", Category: "Coffee & Tea"},
	{Pattern: "dunkin", Category: "Coffee & Tea"},
	{Pattern: "mcdonald", Category: "Restaurants"},
	{Pattern: "chipotle", Category: "Restaurants"},
	{Pattern: "doordash", Category: "Restaurants"},
	{Pattern: "uber eats", Category: "Restaurants"},
	{Pattern: "uber", Category: "Transportation"},
	{Pattern: "lyft", Category: "Transportation"},
	{Pattern: "shell", Category: "Gas"},
	{Pattern: "chevron", Category: "Gas"},
	{Pattern: "exxon", Category: "Gas"},
	{Pattern: "netflix", Category: "Entertainment"},
	{Pattern: "spotify", Category: "Entertainment"},
	{Pattern: "hulu", Category: "Entertainment"},
	{Pattern: "amazon", Category: "Shopping"},
	{Pattern: "target", Category: "Shopping"},
	{Pattern: "best buy", Category: "Shopping"},
	{Pattern: "cvs", Category: "Health"},
	{Pattern: "walgreens", Category: "Health"},
	{Pattern: "delta", Category: "Travel"},
	{Pattern: "united airlines", Category: "Travel"},
	{Pattern: "airbnb", Category: "Travel"},
	{Pattern: "marriott", Category: "Travel"},
}

// defaultKeywordRules is the built-in description keyword table.
var defaultKeywordRules = []Rule{
	{Pattern: "payroll", Category: "Income"},
	{Pattern: "direct deposit", Category: "Income"},
	{Pattern: "salary", Category: "Income"},
	{Pattern: "grocery", Category: "Groceries"},
	{Pattern: "groceries", Category: "Groceries"},
	{Pattern: "supermarket", Category: "Groceries"},
	{Pattern: "rent", Category: "Housing"},
	{Pattern: "mortgage", Category: "Housing"},
	{Pattern: "electric", Category: "Utilities"},
	{Pattern: "water bill", Category: "Utilities"},
	{Pattern: "internet", Category: "Utilities"},
	{Pattern: "insurance", Category: "Insurance"},
	{Pattern: "pharmacy", Category: "Health"},
	{Pattern: "gym", Category: "Health"},
	{Pattern: "parking", Category: "Transportation"},
	{Pattern: "toll", Category: "Transportation"},
	{Pattern: "atm withdrawal", Category: "Cash"},
	{Pattern: "transfer", Category: "Transfers"},
	{Pattern: "interest", Category: "Income"},
	{Pattern: "refund", Category: "Income"},
}
