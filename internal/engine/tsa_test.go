package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
)

func tsaSnapshot(allowOffset, floorAtZero bool) param.Snapshot {
	return param.Snapshot{
		Model: "tsa",
		Values: map[string]param.Value{
			ParamBetaFactors: param.MappingValue(map[string]decimal.Decimal{
				"retail_banking":     fixedpoint.MustParse("0.12"),
				"commercial_banking": fixedpoint.MustParse("0.15"),
				"trading_sales":      fixedpoint.MustParse("0.18"),
				"corporate_finance":  fixedpoint.MustParse("0.18"),
				"payment_settlement": fixedpoint.MustParse("0.18"),
				"agency_services":    fixedpoint.MustParse("0.15"),
				"asset_management":   fixedpoint.MustParse("0.12"),
				"retail_brokerage":   fixedpoint.MustParse("0.12"),
			}),
			ParamAllowNegativeOffset: param.FlagValue(allowOffset),
			ParamFloorAnnualAtZero:   param.FlagValue(floorAtZero),
			ParamLookbackYears:       param.IntValue(3),
			ParamRWAMultiplier:       param.NumberValue(fixedpoint.MustParse("12.5")),
		},
	}
}

func lineRow(year int, line, gi, excl string) indicator.BusinessLineIncome {
	return indicator.BusinessLineIncome{
		Year:          year,
		BusinessLine:  line,
		GrossIncome:   fixedpoint.MustParse(gi),
		ExcludedItems: fixedpoint.MustParse(excl),
	}
}

func TestTSANegativeOffsetWithinYear(t *testing.T) {
	calc := NewTSACalculator()

	in := TSAInput{
		EntityID: "BANK001",
		LineIncome: []indicator.BusinessLineIncome{
			lineRow(2023, "retail_banking", "1000000000", "0"),
			lineRow(2023, "trading_sales", "200000000", "300000000"), // net −1e8
		},
	}

	res, err := calc.Calculate(in, tsaSnapshot(true, true))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	// 1e9·0.12 + (−1e8)·0.18 = 1.2e8 − 1.8e7 = 1.02e8
	if !res.ORC.Equal(fixedpoint.MustParse("102000000")) {
		t.Errorf("ORC = %s, want 1.02e8", res.ORC)
	}
	if res.Years[0].FloorApplied {
		t.Error("floor should not fire on a positive year")
	}
	if len(res.Years[0].Contributions) != 2 {
		t.Errorf("contributions = %d, want 2", len(res.Years[0].Contributions))
	}
}

func TestTSAAnnualFloor(t *testing.T) {
	calc := NewTSACalculator()

	in := TSAInput{
		EntityID: "BANK001",
		LineIncome: []indicator.BusinessLineIncome{
			// 2023 heavily negative, 2022 positive.
			lineRow(2023, "trading_sales", "100000000", "2000000000"), // net −1.9e9
			lineRow(2022, "retail_banking", "1000000000", "0"),
		},
	}

	res, err := calc.Calculate(in, tsaSnapshot(true, true))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	// 2023 floors at 0; average = (0 + 1.2e8) / 2 = 6e7
	if !res.ORC.Equal(fixedpoint.MustParse("60000000")) {
		t.Errorf("ORC = %s, want 6e7", res.ORC)
	}

	var floored bool
	for _, y := range res.Years {
		if y.Year == 2023 {
			floored = y.FloorApplied
			if !y.Total.IsZero() {
				t.Errorf("2023 total = %s, want 0", y.Total)
			}
		}
	}
	if !floored {
		t.Error("expected floor applied to 2023")
	}
}

func TestTSANoNegativeOffset(t *testing.T) {
	calc := NewTSACalculator()

	in := TSAInput{
		EntityID: "BANK001",
		LineIncome: []indicator.BusinessLineIncome{
			lineRow(2023, "retail_banking", "1000000000", "0"),
			lineRow(2023, "trading_sales", "200000000", "300000000"), // negative dropped
		},
	}

	res, err := calc.Calculate(in, tsaSnapshot(false, true))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// Negative contribution ignored: ORC = 1.2e8.
	if !res.ORC.Equal(fixedpoint.MustParse("120000000")) {
		t.Errorf("ORC = %s, want 1.2e8", res.ORC)
	}
}

func TestTSAUnknownBusinessLine(t *testing.T) {
	calc := NewTSACalculator()

	in := TSAInput{
		EntityID: "BANK001",
		LineIncome: []indicator.BusinessLineIncome{
			lineRow(2023, "weather_derivatives", "1000000000", "0"),
		},
	}

	if _, err := calc.Calculate(in, tsaSnapshot(true, true)); err == nil {
		t.Fatal("expected error on unknown business line")
	}
}

func TestTSALookbackWindow(t *testing.T) {
	calc := NewTSACalculator()

	in := TSAInput{
		EntityID: "BANK001",
		LineIncome: []indicator.BusinessLineIncome{
			lineRow(2020, "retail_banking", "9000000000", "0"),
			lineRow(2021, "retail_banking", "1000000000", "0"),
			lineRow(2022, "retail_banking", "1000000000", "0"),
			lineRow(2023, "retail_banking", "1000000000", "0"),
		},
	}

	res, err := calc.Calculate(in, tsaSnapshot(true, true))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// Only 2021–2023 count: each year 1.2e8.
	if !res.ORC.Equal(fixedpoint.MustParse("120000000")) {
		t.Errorf("ORC = %s, want 1.2e8", res.ORC)
	}
	if len(res.Years) != 3 {
		t.Errorf("years = %d, want 3", len(res.Years))
	}
}
