package alarm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestKindOneShot(t *testing.T) {
	for _, k := range Kinds {
		want := k != KindRsiDivergence
		if k.OneShot() != want {
			t.Fatalf("%s one-shot = %v, want %v", k, k.OneShot(), want)
		}
	}
}

func TestDedupKeyDiscriminators(t *testing.T) {
	inst := Instrument{Raw: "btc", Venue: VenueBinance, Symbol: "BTCUSDT"}
	now := time.Now()

	a := New("42", inst, PriceTarget{Target: decimal.NewFromInt(100)}, now)
	b := New("42", inst, PriceTarget{Target: decimal.NewFromInt(200)}, now)
	if a.DedupKey() != b.DedupKey() {
		t.Fatalf("price targets on the same instrument should share a slot: %s vs %s", a.DedupKey(), b.DedupKey())
	}

	e20 := New("42", inst, EmaTouch{Period: 20, Interval: "1h", Tolerance: AutoTolerance}, now)
	e50 := New("42", inst, EmaTouch{Period: 50, Interval: "1h", Tolerance: AutoTolerance}, now)
	if e20.DedupKey() == e50.DedupKey() {
		t.Fatal("different EMA periods must not collide")
	}

	green := New("42", inst, VolumeThreshold{Color: Green, Threshold: decimal.NewFromInt(1)}, now)
	red := New("42", inst, VolumeThreshold{Color: Red, Threshold: decimal.NewFromInt(1)}, now)
	if green.DedupKey() == red.DedupKey() {
		t.Fatal("volume colours must not collide")
	}

	other := New("43", inst, PriceTarget{Target: decimal.NewFromInt(100)}, now)
	if other.DedupKey() == a.DedupKey() {
		t.Fatal("owners must not collide")
	}
}

func TestAlarmJSONKeepsVariant(t *testing.T) {
	swing := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	met := false
	original := New("7", Instrument{Raw: "eth", Venue: VenueBinance, Symbol: "ETHUSDT"},
		EmaTouch{Period: 200, Interval: "4h", Tolerance: Tolerance{Percent: decimal.RequireFromString("0.25")}}, swing)
	original.State = State{Met: &met, LastSwing: &swing}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Alarm
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	params, ok := decoded.Params.(EmaTouch)
	if !ok {
		t.Fatalf("expected EmaTouch params, got %T", decoded.Params)
	}
	if params.Period != 200 || params.Interval != "4h" || params.Tolerance.Auto {
		t.Fatalf("unexpected params %+v", params)
	}
	if !params.Tolerance.Percent.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("tolerance lost: %s", params.Tolerance)
	}
	if decoded.ID != original.ID || decoded.DedupKey() != original.DedupKey() {
		t.Fatal("identity changed across encoding")
	}
	if v, ok := decoded.State.MetValue(); !ok || v {
		t.Fatalf("met flag not preserved")
	}
}

func TestStateResetKeepsSwing(t *testing.T) {
	swing := time.Now().UTC()
	s := State{}.WithMet(true).WithSwing(swing)
	reset := s.Reset()
	if _, defined := reset.MetValue(); defined {
		t.Fatal("reset must leave the flag undefined")
	}
	if reset.LastSwing == nil || !reset.LastSwing.Equal(swing) {
		t.Fatal("reset must keep the swing timestamp")
	}
}

func TestReplacingCarriesDivergenceSwing(t *testing.T) {
	inst := Instrument{Raw: "eth", Venue: VenueBinance, Symbol: "ETHUSDT"}
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	swing := created.Add(time.Hour)

	old := New("7", inst, RsiDivergence{Direction: Bullish, Interval: "4h", Lookback: 60}, created)
	old.State = State{}.WithSwing(swing).WithMet(true)
	next := New("7", inst, RsiDivergence{Direction: Bullish, Interval: "4h", Lookback: 30}, created.Add(time.Minute)).Replacing(old)
	if next.State.LastSwing == nil || !next.State.LastSwing.Equal(swing) {
		t.Fatalf("swing should carry over, got %+v", next.State)
	}
	if next.State.Met != nil {
		t.Fatal("edge flag must not carry over")
	}
	if !next.CreatedAt.Equal(created) {
		t.Fatalf("creation time should be kept, got %v", next.CreatedAt)
	}

	cross := New("7", inst, CrossUp{Target: decimal.NewFromInt(1)}, created.Add(time.Minute))
	oldCross := New("7", inst, CrossUp{Target: decimal.NewFromInt(2)}, created)
	oldCross.State = State{}.WithMet(false)
	if got := cross.Replacing(oldCross); got.State.Met != nil {
		t.Fatalf("cross state should start fresh, got %+v", got.State)
	}
}

func TestValidate(t *testing.T) {
	inst := Instrument{Raw: "btc", Venue: VenueBinance, Symbol: "BTCUSDT"}
	feed := Instrument{Raw: "chainlink:0x1", Venue: VenueChainlink, Symbol: "0x1"}
	cases := []struct {
		name  string
		alarm Alarm
		ok    bool
	}{
		{"price", New("1", inst, PriceTarget{Target: decimal.NewFromInt(1)}, time.Now()), true},
		{"zero target", New("1", inst, PriceTarget{}, time.Now()), false},
		{"bad interval", New("1", inst, EmaTouch{Period: 20, Interval: "7m", Tolerance: AutoTolerance}, time.Now()), false},
		{"bad colour", New("1", inst, VolumeThreshold{Color: "blue", Threshold: decimal.NewFromInt(1)}, time.Now()), false},
		{"short lookback", New("1", inst, RsiDivergence{Direction: Bullish, Interval: "1h", Lookback: 1}, time.Now()), false},
		{"feed cross", New("1", feed, CrossUp{Target: decimal.NewFromInt(1)}, time.Now()), true},
		{"feed ema", New("1", feed, EmaTouch{Period: 20, Interval: "1h", Tolerance: AutoTolerance}, time.Now()), false},
		{"no owner", New("", inst, PriceTarget{Target: decimal.NewFromInt(1)}, time.Now()), false},
	}
	for _, tc := range cases {
		err := tc.alarm.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: Validate() = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestParseTolerance(t *testing.T) {
	tol, err := ParseTolerance("AUTO")
	if err != nil || !tol.Auto {
		t.Fatalf("auto not recognised: %+v %v", tol, err)
	}
	tol, err = ParseTolerance("0.5%")
	if err != nil || tol.Auto || !tol.Percent.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("percentage not parsed: %+v %v", tol, err)
	}
	if _, err := ParseTolerance("-1"); err == nil {
		t.Fatal("negative tolerance must fail")
	}
}
