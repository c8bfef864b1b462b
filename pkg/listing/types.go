package listing

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// Response represents the listing endpoint's envelope.
type Response struct {
	Data   ListData `json:"data"`
	Status Status   `json:"status"`
}

type ListData struct {
	CryptoCurrencyList []RawListing `json:"cryptoCurrencyList"`
	TotalCount         Number       `json:"totalCount"`
}

// Status carries the provider's error code; anything other than "0" is a failure.
type Status struct {
	Timestamp    string `json:"timestamp"`
	ErrorCode    Code   `json:"error_code"`
	ErrorCodeAlt Code   `json:"errorCode"`
	ErrorMessage string `json:"error_message"`
	ErrorMsgAlt  string `json:"errorMessage"`
}

// Failed reports whether the provider signalled an error.
func (s Status) Failed() bool {
	return !s.ErrorCode.IsZero() || !s.ErrorCodeAlt.IsZero()
}

// Code returns whichever error code the provider populated.
func (s Status) Code() string {
	if !s.ErrorCode.IsZero() {
		return string(s.ErrorCode)
	}
	return string(s.ErrorCodeAlt)
}

// Message returns whichever error message the provider populated.
func (s Status) Message() string {
	if s.ErrorMessage != "" {
		return s.ErrorMessage
	}
	return s.ErrorMsgAlt
}

// RawListing is one market listing as the provider sends it.
type RawListing struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Symbol            string     `json:"symbol"`
	Slug              string     `json:"slug"`
	CMCRank           Number     `json:"cmcRank"`
	IsActive          Flag       `json:"isActive"`
	DateAdded         Time       `json:"dateAdded"`
	LastUpdated       Time       `json:"lastUpdated"`
	CirculatingSupply Number     `json:"circulatingSupply"`
	TotalSupply       Number     `json:"totalSupply"`
	MaxSupply         Number     `json:"maxSupply"`
	Quotes            []RawQuote `json:"quotes"`
}

// RawQuote is a listing's market data in one quote currency.
type RawQuote struct {
	Name             string `json:"name"` // quote currency, e.g. "USD"
	Price            Number `json:"price"`
	Volume24h        Number `json:"volume24h"`
	MarketCap        Number `json:"marketCap"`
	PercentChange1h  Number `json:"percentChange1h"`
	PercentChange24h Number `json:"percentChange24h"`
	PercentChange7d  Number `json:"percentChange7d"`
	PercentChange30d Number `json:"percentChange30d"`
	PercentChange60d Number `json:"percentChange60d"`
	PercentChange90d Number `json:"percentChange90d"`
	PercentChange1y  Number `json:"percentChange1y"`
	Dominance        Number `json:"dominance"`
	Turnover         Number `json:"turnover"`
	LastUpdated      Time   `json:"lastUpdated"`
}

// Number is a tolerant numeric field. It accepts JSON numbers, numeric
// strings and null; anything unparsable leaves it unset instead of failing
// the whole page.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	n.Value, n.Valid = v, true
	return nil
}

// Ptr returns the value or nil when absent.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Flag accepts booleans as well as 0/1 numbers and strings.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch strings.Trim(strings.TrimSpace(string(b)), `"`) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Time is a tolerant timestamp. Unparsable or missing values stay zero and
// are replaced with the epoch sentinel by the transformer.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *Time) UnmarshalJSON(b []byte) error {
	t.Time = time.Time{}
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	// epoch milliseconds
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		t.Time = time.UnixMilli(ms).UTC()
	}
	return nil
}

// Code is an error code the provider sends either as a number or a string.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "null" {
		s = ""
	}
	*c = Code(s)
	return nil
}

// IsZero is true for an absent or "0" code.
func (c Code) IsZero() bool {
	return c == "" || c == "0"
}
