package ingest

import (
	"math"
	"testing"
	"time"

	"coinpulse/pkg/listing"
)

func num(v float64) listing.Number { return listing.Number{Value: v, Valid: true} }

// go test -v --run TestClamp
func TestClamp(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		max  float64
		want *float64
	}{
		{"nan", math.NaN(), MaxPrice, nil},
		{"pos inf", math.Inf(1), MaxVolume, ptr(MaxVolume)},
		{"neg inf", math.Inf(-1), MaxPercentage, ptr(-MaxPercentage)},
		{"too large", 5e20, MaxSupply, ptr(MaxSupply)},
		{"in range", 42.5, MaxPrice, ptr(42.5)},
		{"negative in range", -12, MaxPercentage, ptr(-12)},
	}

	for _, tc := range cases {
		got := Clamp(tc.in, tc.max)
		switch {
		case tc.want == nil && got != nil:
			t.Errorf("%s: expected nil, got %v", tc.name, *got)
		case tc.want != nil && (got == nil || *got != *tc.want):
			t.Errorf("%s: expected %v, got %v", tc.name, *tc.want, got)
		}
	}
}

func ptr(v float64) *float64 { return &v }

// go test -v --run TestToCurrencyRecord
func TestToCurrencyRecord(t *testing.T) {
	raw := listing.RawListing{
		ID:                1,
		Name:              " Bitcoin ",
		Symbol:            "BTC",
		Slug:              "bitcoin",
		CMCRank:           num(0),
		IsActive:          true,
		CirculatingSupply: num(math.Inf(1)),
		MaxSupply:         num(math.NaN()),
	}

	rec := ToCurrencyRecord(raw)
	if rec.Name != "Bitcoin" || rec.Symbol != "BTC" || !rec.IsActive {
		t.Errorf("unexpected identity fields: %+v", rec)
	}
	if rec.Rank != nil {
		t.Errorf("expected nil rank for rank 0, got %d", *rec.Rank)
	}
	if rec.CirculatingSupply == nil || *rec.CirculatingSupply != MaxSupply {
		t.Errorf("expected supply clamped to %v, got %v", MaxSupply, rec.CirculatingSupply)
	}
	if rec.MaxSupply != nil {
		t.Errorf("expected NaN max supply to be dropped, got %v", *rec.MaxSupply)
	}
	if rec.TotalSupply != nil {
		t.Errorf("expected absent total supply to stay nil")
	}
	if !rec.DateAdded.Equal(EpochSentinel) || !rec.LastUpdated.Equal(EpochSentinel) {
		t.Errorf("expected epoch sentinel dates, got %v / %v", rec.DateAdded, rec.LastUpdated)
	}

	raw.CMCRank = num(7)
	if rec := ToCurrencyRecord(raw); rec.Rank == nil || *rec.Rank != 7 {
		t.Errorf("expected rank 7, got %v", rec.Rank)
	}
}

// go test -v --run TestToPriceSnapshots
func TestToPriceSnapshots(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := listing.RawListing{
		ID: 1,
		Quotes: []listing.RawQuote{
			{Name: "usd", Price: num(-5), Volume24h: num(math.NaN()), PercentChange24h: num(2e7)},
			{Name: "", Price: num(10)},
			{Name: "BTC", Price: num(2e13), Turnover: num(math.Inf(-1))},
			{Name: "EUR"},
		},
	}

	snaps := ToPriceSnapshots(raw, ts)
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots (unnamed quote dropped), got %d", len(snaps))
	}

	usd := snaps[0]
	if usd.QuoteCurrency != "USD" || !usd.Timestamp.Equal(ts) {
		t.Errorf("unexpected usd snapshot key: %+v", usd)
	}
	if usd.Price != 0 {
		t.Errorf("expected negative price floored to 0, got %v", usd.Price)
	}
	if usd.Volume24h != nil {
		t.Errorf("expected NaN volume dropped")
	}
	if usd.PercentChange24h == nil || *usd.PercentChange24h != MaxPercentage {
		t.Errorf("expected percentage clamped, got %v", usd.PercentChange24h)
	}

	btc := snaps[1]
	if btc.Price != MaxPrice {
		t.Errorf("expected price clamped to %v, got %v", MaxPrice, btc.Price)
	}
	if btc.Turnover == nil || *btc.Turnover != -MaxTurnover {
		t.Errorf("expected turnover clamped to %v, got %v", -MaxTurnover, btc.Turnover)
	}

	if snaps[2].Price != 0 {
		t.Errorf("expected missing price to become 0, got %v", snaps[2].Price)
	}
}
