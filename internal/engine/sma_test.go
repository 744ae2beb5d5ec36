package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
)

func smaSnapshot() param.Snapshot {
	return param.Snapshot{
		Model: "sma",
		Values: map[string]param.Value{
			ParamMarginalCoefficients: param.MappingValue(map[string]decimal.Decimal{
				"bucket_1": fixedpoint.MustParse("0.12"),
				"bucket_2": fixedpoint.MustParse("0.15"),
				"bucket_3": fixedpoint.MustParse("0.18"),
			}),
			ParamBucketThresholds: param.MappingValue(map[string]decimal.Decimal{
				"bucket_1_2": decimal.New(8, 10),
				"bucket_2_3": decimal.New(24, 11),
			}),
			ParamLCMultiplier:        param.NumberValue(decimal.NewFromInt(15)),
			ParamRWAMultiplier:       param.NumberValue(fixedpoint.MustParse("12.5")),
			ParamNationalDiscretion:  param.FlagValue(false),
			ParamMinDataQualityYears: param.IntValue(5),
			ParamLossHorizonYears:    param.IntValue(10),
		},
	}
}

func biRow(period string, year int, ildc, sc, fc string) indicator.BusinessIndicator {
	return indicator.BusinessIndicator{
		ID:              "bi-" + period,
		EntityID:        "BANK001",
		Period:          period,
		CalculationDate: time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
		ILDC:            fixedpoint.MustParse(ildc),
		SC:              fixedpoint.MustParse(sc),
		FC:              fixedpoint.MustParse(fc),
	}
}

// quarterlyLosses builds n losses of the given net amount, spread quarterly
// backwards from the final year.
func quarterlyLosses(n int, net string, finalYear int) []loss.Event {
	out := make([]loss.Event, 0, n)
	for i := 0; i < n; i++ {
		year := finalYear - i/4
		month := time.Month(3*(i%4) + 1)
		date := time.Date(year, month, 15, 0, 0, 0, 0, time.UTC)
		out = append(out, loss.Event{
			ID:             "loss-" + date.Format("2006-01-02"),
			EntityID:       "BANK001",
			GrossAmount:    fixedpoint.MustParse(net),
			NetAmount:      fixedpoint.MustParse(net),
			AccountingDate: date,
		})
	}
	return out
}

func TestSMABucket2NormalILM(t *testing.T) {
	calc := NewSMACalculator()
	snap := smaSnapshot()

	// Three periods averaging ₹10,000 crore: squarely bucket 2.
	in := SMAInput{
		EntityID:        "BANK001",
		CalculationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Indicators: []indicator.BusinessIndicator{
			biRow("2021", 2021, "62000000000", "24000000000", "16000000000"), // 1.02e11
			biRow("2022", 2022, "60000000000", "22000000000", "16000000000"), // 0.98e11
			biRow("2023", 2023, "61000000000", "23000000000", "16000000000"), // 1.00e11
		},
		// Twenty quarterly losses of ₹10 crore net over 5 years.
		Losses: quarterlyLosses(20, "100000000", 2023),
	}

	res, err := calc.Calculate(in, snap)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if !res.BICurrent.Equal(fixedpoint.MustParse("100000000000")) {
		t.Errorf("bi_current = %s, want 1.0e11", res.BICurrent)
	}
	if !res.BIAverage.Equal(fixedpoint.MustParse("100000000000")) {
		t.Errorf("bi_avg = %s, want 1.0e11", res.BIAverage)
	}
	if res.Bucket != 2 {
		t.Fatalf("bucket = %d, want 2", res.Bucket)
	}

	// BIC = 8e10·0.12 + 2e10·0.15 = 9.6e9 + 3e9 = 1.26e10
	if !res.BIC.Equal(fixedpoint.MustParse("12600000000")) {
		t.Errorf("BIC = %s, want 1.26e10", res.BIC)
	}
	if len(res.Bands) != 2 {
		t.Errorf("bands = %d, want 2", len(res.Bands))
	}

	// avg annual losses = 20·1e8 / 5 = 4e8; LC = 15·4e8 = 6e9
	if res.YearsWithData != 5 {
		t.Errorf("years with data = %d, want 5", res.YearsWithData)
	}
	if !res.AvgAnnualLosses.Equal(fixedpoint.MustParse("400000000")) {
		t.Errorf("avg annual losses = %s, want 4e8", res.AvgAnnualLosses)
	}
	if !res.LC.Equal(fixedpoint.MustParse("6000000000")) {
		t.Errorf("LC = %s, want 6e9", res.LC)
	}

	if res.ILMGated {
		t.Fatalf("ILM unexpectedly gated: %s", res.ILMGateReason)
	}
	// ILM = ln(e − 1 + 6e9/1.26e10) = ln(1.71828... + 0.47619...) ≈ 0.7859
	if !res.ILM.Equal(fixedpoint.MustParse("0.7859")) {
		t.Errorf("ILM = %s, want 0.7859", res.ILM)
	}

	wantORC := fixedpoint.RoundMoney(res.BIC.Mul(res.ILM))
	if !res.ORC.Equal(wantORC) {
		t.Errorf("ORC = %s, want %s", res.ORC, wantORC)
	}
	wantRWA := fixedpoint.RoundMoney(wantORC.Mul(fixedpoint.MustParse("12.5")))
	if !res.RWA.Equal(wantRWA) {
		t.Errorf("RWA = %s, want %s", res.RWA, wantRWA)
	}
	if len(res.IncludedLossIDs) != 20 {
		t.Errorf("included loss ids = %d, want 20", len(res.IncludedLossIDs))
	}
}

func TestSMABucket1Gating(t *testing.T) {
	calc := NewSMACalculator()
	snap := smaSnapshot()

	in := SMAInput{
		EntityID:        "BANK001",
		CalculationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Indicators: []indicator.BusinessIndicator{
			biRow("2023", 2023, "40000000000", "18000000000", "10000000000"), // 6.8e10 < T1
		},
		Losses: quarterlyLosses(20, "100000000", 2023),
	}

	res, err := calc.Calculate(in, snap)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if res.Bucket != 1 {
		t.Fatalf("bucket = %d, want 1", res.Bucket)
	}
	if !res.ILMGated {
		t.Fatal("expected ILM gated in bucket 1")
	}
	if !res.ILM.Equal(decimal.NewFromInt(1)) {
		t.Errorf("ILM = %s, want 1", res.ILM)
	}
	if !strings.Contains(res.ILMGateReason, "Bucket 1") {
		t.Errorf("gate reason = %q, want mention of Bucket 1", res.ILMGateReason)
	}
	// Gated: ORC = BIC.
	if !res.ORC.Equal(fixedpoint.RoundMoney(res.BIC)) {
		t.Errorf("ORC = %s, want BIC %s", res.ORC, res.BIC)
	}
}

func TestSMAInsufficientDataGating(t *testing.T) {
	calc := NewSMACalculator()
	snap := smaSnapshot()

	in := SMAInput{
		EntityID:        "BANK001",
		CalculationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Indicators: []indicator.BusinessIndicator{
			biRow("2023", 2023, "61000000000", "23000000000", "16000000000"), // bucket 2
		},
		// Only 3 years of loss history.
		Losses: quarterlyLosses(12, "100000000", 2023),
	}

	res, err := calc.Calculate(in, snap)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !res.ILMGated {
		t.Fatal("expected ILM gated on insufficient data")
	}
	if !strings.Contains(res.ILMGateReason, "3 years < 5 years") {
		t.Errorf("gate reason = %q, want mention of 3 years < 5 years", res.ILMGateReason)
	}
	if !res.ORC.Equal(fixedpoint.RoundMoney(res.BIC)) {
		t.Errorf("ORC = %s, want BIC", res.ORC)
	}
}

func TestSMANationalDiscretionGating(t *testing.T) {
	calc := NewSMACalculator()
	snap := smaSnapshot()
	snap.Values[ParamNationalDiscretion] = param.FlagValue(true)

	in := SMAInput{
		EntityID: "BANK001",
		Indicators: []indicator.BusinessIndicator{
			biRow("2023", 2023, "61000000000", "23000000000", "16000000000"),
		},
		Losses: quarterlyLosses(20, "100000000", 2023),
	}

	res, err := calc.Calculate(in, snap)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !res.ILMGated || !strings.Contains(res.ILMGateReason, "National discretion") {
		t.Errorf("gated=%v reason=%q", res.ILMGated, res.ILMGateReason)
	}
}

func TestSMAZeroLosses(t *testing.T) {
	calc := NewSMACalculator()
	snap := smaSnapshot()

	lc, avg, years, _ := calc.LossComponent(nil, snap)
	if !lc.IsZero() || !avg.IsZero() || years != 0 {
		t.Errorf("LossComponent(nil) = (%s, %s, %d), want zeros", lc, avg, years)
	}
}

func TestSMABucketBoundaries(t *testing.T) {
	calc := NewSMACalculator()
	snap := smaSnapshot()

	tests := []struct {
		name string
		avg  string
		want int
	}{
		{name: "zero is bucket 1", avg: "0", want: 1},
		{name: "below T1", avg: "79999999999", want: 1},
		{name: "exactly T1 is bucket 2", avg: "80000000000", want: 2},
		{name: "below T2", avg: "2399999999999", want: 2},
		{name: "exactly T2 is bucket 3", avg: "2400000000000", want: 3},
		{name: "negative treated as bucket 1", avg: "-1", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, _, _ := calc.Bucket(fixedpoint.MustParse(tt.avg), snap)
			if bucket != tt.want {
				t.Errorf("Bucket(%s) = %d, want %d", tt.avg, bucket, tt.want)
			}
		})
	}
}

func TestSMABICBucket3Attribution(t *testing.T) {
	calc := NewSMACalculator()
	snap := smaSnapshot()

	avg := fixedpoint.MustParse("3000000000000") // ₹3,00,000 crore
	bucket, t1, t2 := calc.Bucket(avg, snap)
	if bucket != 3 {
		t.Fatalf("bucket = %d, want 3", bucket)
	}
	bic, bands := calc.BIC(avg, bucket, t1, t2, snap)

	// 8e10·0.12 + 2.32e12·0.15 + 6e11·0.18 = 4.656e11
	if !bic.Equal(fixedpoint.MustParse("465600000000")) {
		t.Errorf("BIC = %s, want 4.656e11", bic)
	}
	if len(bands) != 3 {
		t.Fatalf("bands = %d, want 3", len(bands))
	}
	if !bands[1].Amount.Equal(fixedpoint.MustParse("2320000000000")) {
		t.Errorf("band 2 amount = %s, want 2.32e12", bands[1].Amount)
	}
	if !bands[2].Amount.Equal(fixedpoint.MustParse("600000000000")) {
		t.Errorf("band 3 amount = %s, want 6e11", bands[2].Amount)
	}
}

func TestSMATransformsNegativeComponents(t *testing.T) {
	calc := NewSMACalculator()

	bi := calc.PeriodBI(indicator.BusinessIndicator{
		ILDC: fixedpoint.MustParse("-48000000000"),
		SC:   fixedpoint.MustParse("-18000000000"),
		FC:   fixedpoint.MustParse("14000000000"),
	})
	// |−4.8e10| + max(0, −1.8e10) + |1.4e10| = 6.2e10
	if !bi.Equal(fixedpoint.MustParse("62000000000")) {
		t.Errorf("PeriodBI = %s, want 6.2e10", bi)
	}
}

func TestSMANoIndicators(t *testing.T) {
	calc := NewSMACalculator()
	if _, err := calc.Calculate(SMAInput{EntityID: "BANK001"}, smaSnapshot()); err == nil {
		t.Fatal("expected error with no indicator periods")
	}
}
