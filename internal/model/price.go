package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is a service price as stored: either a number or free text like "$60".
type Price struct {
	text    string
	amount  decimal.Decimal
	numeric bool
}

func NumericPrice(d decimal.Decimal) Price { return Price{amount: d, numeric: true} }

func TextPrice(s string) Price { return Price{text: s} }

// ParsePrice accepts the JSON types a document field can hold.
func ParsePrice(v any) (Price, error) {
	switch p := v.(type) {
	case nil:
		return Price{}, nil
	case Price:
		return p, nil
	case string:
		return TextPrice(p), nil
	case float64:
		return NumericPrice(decimal.NewFromFloat(p)), nil
	case int:
		return NumericPrice(decimal.NewFromInt(int64(p))), nil
	case int64:
		return NumericPrice(decimal.NewFromInt(p)), nil
	case json.Number:
		d, err := decimal.NewFromString(p.String())
		if err != nil {
			return Price{}, err
		}
		return NumericPrice(d), nil
	case decimal.Decimal:
		return NumericPrice(p), nil
	}
	return Price{}, fmt.Errorf("%w: price of type %T", ErrInvalid, v)
}

func (p Price) IsSet() bool { return p.numeric || p.text != "" }

func (p Price) IsNumeric() bool { return p.numeric }

// Display renders numbers as currency and keeps text verbatim.
func (p Price) Display() string {
	if p.numeric {
		return "$" + p.amount.String()
	}
	return p.text
}

// Amount extracts a decimal from either form.
func (p Price) Amount() (decimal.Decimal, bool) {
	if p.numeric {
		return p.amount, true
	}
	s := strings.TrimSpace(p.text)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Value is the document field form of the price.
func (p Price) Value() any {
	switch {
	case p.numeric:
		return p.amount.InexactFloat64()
	case p.text != "":
		return p.text
	}
	return nil
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Value())
}

func (p *Price) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	parsed, err := ParsePrice(v)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
