package journal

import (
	"encoding/json"
	"fmt"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/shopspring/decimal"
)

// Decimals travel as text in both backends so no precision is lost.

func optDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseOptDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseDecimals(dst []*decimal.Decimal, src ...string) error {
	for i, s := range src {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("parse decimal %q: %w", s, err)
		}
		*dst[i] = d
	}
	return nil
}

func encodeBracket(b *domain.Bracket) (*string, error) {
	if b.Empty() {
		return nil, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}

func decodeBracket(s *string) (*domain.Bracket, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var b domain.Bracket
	if err := json.Unmarshal([]byte(*s), &b); err != nil {
		return nil, fmt.Errorf("decode bracket: %w", err)
	}
	return &b, nil
}

// orderRow holds the text-encoded columns shared by both backends.
type orderRow struct {
	quantity, filledQuantity, fee, reserved string
	limitPrice, stopPrice, filledPrice      *string
	bracket                                 *string
}

func encodeOrder(o *domain.Order) (orderRow, error) {
	bracket, err := encodeBracket(o.Bracket)
	if err != nil {
		return orderRow{}, err
	}
	return orderRow{
		quantity:       o.Quantity.String(),
		filledQuantity: o.FilledQuantity.String(),
		fee:            o.Fee.String(),
		reserved:       o.Reserved.String(),
		limitPrice:     optDecimal(o.LimitPrice),
		stopPrice:      optDecimal(o.StopPrice),
		filledPrice:    optDecimal(o.FilledPrice),
		bracket:        bracket,
	}, nil
}

func (r orderRow) decodeInto(o *domain.Order) error {
	if err := parseDecimals(
		[]*decimal.Decimal{&o.Quantity, &o.FilledQuantity, &o.Fee, &o.Reserved},
		r.quantity, r.filledQuantity, r.fee, r.reserved,
	); err != nil {
		return err
	}
	var err error
	if o.LimitPrice, err = parseOptDecimal(r.limitPrice); err != nil {
		return err
	}
	if o.StopPrice, err = parseOptDecimal(r.stopPrice); err != nil {
		return err
	}
	if o.FilledPrice, err = parseOptDecimal(r.filledPrice); err != nil {
		return err
	}
	o.Bracket, err = decodeBracket(r.bracket)
	return err
}
