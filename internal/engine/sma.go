// Package engine implements the SMA, BIA, and TSA calculation engines as pure
// functions over validated inputs plus a parameter snapshot, and the unified
// dispatcher in front of them.
package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
)

// Parameter names shared with the seeded defaults.
const (
	ParamMarginalCoefficients = "marginal_coefficients"
	ParamBucketThresholds     = "bucket_thresholds"
	ParamLCMultiplier         = "lc_multiplier"
	ParamRWAMultiplier        = "rwa_multiplier"
	ParamMinLossThreshold     = "min_loss_threshold"
	ParamNationalDiscretion   = "national_discretion_ilm_one"
	ParamMinDataQualityYears  = "min_data_quality_years"
	ParamLossHorizonYears     = "loss_horizon_years"
	ParamAlpha                = "alpha"
	ParamLookbackYears        = "lookback_years"
	ParamBetaFactors          = "beta_factors"
	ParamAllowNegativeOffset  = "allow_negative_offset"
	ParamFloorAnnualAtZero    = "floor_annual_at_zero"
)

// Fallback values matching the seeded RBI defaults; the snapshot normally
// supplies all of these.
var (
	defaultT1            = decimal.New(8, 10)   // ₹8,000 crore
	defaultT2            = decimal.New(24, 11)  // ₹2,40,000 crore
	defaultCoefficient1  = fixedpoint.MustParse("0.12")
	defaultCoefficient2  = fixedpoint.MustParse("0.15")
	defaultCoefficient3  = fixedpoint.MustParse("0.18")
	defaultLCMultiplier  = decimal.NewFromInt(15)
	defaultRWAMultiplier = fixedpoint.MustParse("12.5")
)

// SMAInput is the validated input bundle for one SMA run.
type SMAInput struct {
	EntityID        string
	CalculationDate time.Time
	// Indicators holds the target period plus up to two prior periods.
	Indicators []indicator.BusinessIndicator
	// Losses holds the threshold-filtered, non-excluded loss events inside
	// the horizon.
	Losses []loss.Event
}

// PeriodBI is one period's transformed Business Indicator.
type PeriodBI struct {
	Period string          `json:"period"`
	BI     decimal.Decimal `json:"bi"`
}

// BandAttribution records the amount and charge attributed to one marginal
// coefficient band for lineage.
type BandAttribution struct {
	Bucket      int             `json:"bucket"`
	Coefficient decimal.Decimal `json:"coefficient"`
	Amount      decimal.Decimal `json:"amount"`
	Charge      decimal.Decimal `json:"charge"`
}

// GatingMetadata describes the bucket decision and whether ILM gating applies.
type GatingMetadata struct {
	Bucket       int             `json:"bucket"`
	ThresholdOne decimal.Decimal `json:"threshold_one"`
	ThresholdTwo decimal.Decimal `json:"threshold_two"`
	YearsWithData int            `json:"years_with_data"`
	MinYears     int             `json:"min_years"`
	Gated        bool            `json:"gated"`
	Reason       string          `json:"reason,omitempty"`
}

// SMAResult carries the full intermediates of one SMA run.
type SMAResult struct {
	BICurrent       decimal.Decimal   `json:"bi_current"`
	BIAverage       decimal.Decimal   `json:"bi_three_year_avg"`
	PeriodBIs       []PeriodBI        `json:"period_bis"`
	Bucket          int               `json:"bucket"`
	BIC             decimal.Decimal   `json:"bic"`
	Bands           []BandAttribution `json:"bands"`
	LC              decimal.Decimal   `json:"lc"`
	AvgAnnualLosses decimal.Decimal   `json:"avg_annual_losses"`
	YearsWithData   int               `json:"years_with_data"`
	LossYearTotals  map[int]decimal.Decimal `json:"loss_year_totals"`
	ILM             decimal.Decimal   `json:"ilm"`
	ILMGated        bool              `json:"ilm_gated"`
	ILMGateReason   string            `json:"ilm_gate_reason,omitempty"`
	ORC             decimal.Decimal   `json:"orc"`
	RWA             decimal.Decimal   `json:"rwa"`
	Gating          GatingMetadata    `json:"gating_metadata"`
	IncludedLossIDs []string          `json:"included_loss_ids"`
}

// SMACalculator computes RBI Basel III SMA capital. Stateless and safe for
// concurrent use.
type SMACalculator struct{}

// NewSMACalculator constructs an SMACalculator.
func NewSMACalculator() *SMACalculator { return &SMACalculator{} }

// PeriodBI applies the RBI Max/Min/Abs transforms to one period:
// BI = |ildc| + max(0, sc) + |fc|.
func (c *SMACalculator) PeriodBI(bi indicator.BusinessIndicator) decimal.Decimal {
	sc := bi.SC
	if sc.IsNegative() {
		sc = decimal.Zero
	}
	return bi.ILDC.Abs().Add(sc).Add(bi.FC.Abs())
}

// BusinessIndicator computes bi_current and the up-to-three-period average.
func (c *SMACalculator) BusinessIndicator(indicators []indicator.BusinessIndicator) (current, avg decimal.Decimal, periods []PeriodBI, err error) {
	if len(indicators) == 0 {
		return decimal.Zero, decimal.Zero, nil,
			serrors.InsufficientData("no business indicator periods available")
	}

	sorted := make([]indicator.BusinessIndicator, len(indicators))
	copy(sorted, indicators)
	// Most recent period first.
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CalculationDate.Equal(sorted[j].CalculationDate) {
			return sorted[i].CalculationDate.After(sorted[j].CalculationDate)
		}
		return sorted[i].Period > sorted[j].Period
	})
	if len(sorted) > 3 {
		sorted = sorted[:3]
	}

	values := make([]decimal.Decimal, 0, len(sorted))
	for _, bi := range sorted {
		v := c.PeriodBI(bi)
		values = append(values, v)
		periods = append(periods, PeriodBI{Period: bi.Period, BI: v})
	}

	avg, err = fixedpoint.Mean(values)
	if err != nil {
		return decimal.Zero, decimal.Zero, nil, serrors.InsufficientData("no business indicator periods available")
	}
	return values[0], avg, periods, nil
}

// Bucket assigns the RBI size bucket from the three-year average BI.
// Thresholds are inclusive above: bi_avg == T1 lands in bucket 2.
func (c *SMACalculator) Bucket(biAvg decimal.Decimal, snap param.Snapshot) (int, decimal.Decimal, decimal.Decimal) {
	thresholds := snap.Mapping(ParamBucketThresholds)
	t1, t2 := defaultT1, defaultT2
	if v, ok := thresholds["bucket_1_2"]; ok {
		t1 = v
	}
	if v, ok := thresholds["bucket_2_3"]; ok {
		t2 = v
	}

	switch {
	case biAvg.LessThan(t1):
		return 1, t1, t2
	case biAvg.LessThan(t2):
		return 2, t1, t2
	default:
		return 3, t1, t2
	}
}

// BIC applies the marginal coefficients progressively across the bucket bands
// and records the attribution per band.
func (c *SMACalculator) BIC(biAvg decimal.Decimal, bucket int, t1, t2 decimal.Decimal, snap param.Snapshot) (decimal.Decimal, []BandAttribution) {
	coeffs := snap.Mapping(ParamMarginalCoefficients)
	c1, c2, c3 := defaultCoefficient1, defaultCoefficient2, defaultCoefficient3
	if v, ok := coeffs["bucket_1"]; ok {
		c1 = v
	}
	if v, ok := coeffs["bucket_2"]; ok {
		c2 = v
	}
	if v, ok := coeffs["bucket_3"]; ok {
		c3 = v
	}

	var bands []BandAttribution
	addBand := func(bucket int, coeff, amount decimal.Decimal) decimal.Decimal {
		charge := amount.Mul(coeff)
		bands = append(bands, BandAttribution{Bucket: bucket, Coefficient: coeff, Amount: amount, Charge: charge})
		return charge
	}

	switch bucket {
	case 1:
		bic := addBand(1, c1, biAvg)
		return bic, bands
	case 2:
		bic := addBand(1, c1, t1)
		bic = bic.Add(addBand(2, c2, biAvg.Sub(t1)))
		return bic, bands
	default:
		bic := addBand(1, c1, t1)
		bic = bic.Add(addBand(2, c2, t2.Sub(t1)))
		bic = bic.Add(addBand(3, c3, biAvg.Sub(t2)))
		return bic, bands
	}
}

// LossComponent aggregates net losses by accounting year over the horizon and
// scales the average by the LC multiplier. Zero qualifying losses yield
// LC = 0 with zero years of data.
func (c *SMACalculator) LossComponent(losses []loss.Event, snap param.Snapshot) (lc, avgAnnual decimal.Decimal, years int, yearTotals map[int]decimal.Decimal) {
	yearTotals = make(map[int]decimal.Decimal)
	for _, ev := range losses {
		year := ev.AccountingDate.Year()
		yearTotals[year] = yearTotals[year].Add(ev.NetAmount)
	}

	years = len(yearTotals)
	if years == 0 {
		return decimal.Zero, decimal.Zero, 0, yearTotals
	}

	total := decimal.Zero
	for _, t := range yearTotals {
		total = total.Add(t)
	}
	avgAnnual = total.Div(decimal.NewFromInt(int64(years)))
	lc = snap.Number(ParamLCMultiplier, defaultLCMultiplier).Mul(avgAnnual)
	return lc, avgAnnual, years, yearTotals
}

// ILM applies the gating rules in order and otherwise computes
// ln(e − 1 + LC/BIC) at extended precision, rounded to 4 decimals.
func (c *SMACalculator) ILM(lc, bic decimal.Decimal, bucket, yearsWithData int, snap param.Snapshot) (ilm decimal.Decimal, gated bool, reason string, err error) {
	one := decimal.NewFromInt(1)
	minYears := snap.Int(ParamMinDataQualityYears, 5)

	switch {
	case bucket == 1:
		return one, true, "ILM gated: Bank is in Bucket 1", nil
	case yearsWithData < minYears:
		return one, true,
			"ILM gated: Insufficient data quality (" +
				itoa(yearsWithData) + " years < " + itoa(minYears) + " years)", nil
	case snap.Flag(ParamNationalDiscretion, false):
		return one, true, "ILM gated: National discretion, ILM set to 1", nil
	case bic.IsZero():
		return one, true, "ILM gated: BIC is zero", nil
	}

	ratio, err := fixedpoint.Div(lc, bic)
	if err != nil {
		return decimal.Zero, false, "", err
	}
	raw, err := fixedpoint.Ln(fixedpoint.EMinusOne.Add(ratio))
	if err != nil {
		return decimal.Zero, false, "", err
	}
	return fixedpoint.RoundRatio(raw), false, "", nil
}

// Calculate runs the full SMA pipeline over the input bundle.
func (c *SMACalculator) Calculate(in SMAInput, snap param.Snapshot) (*SMAResult, error) {
	current, avg, periods, err := c.BusinessIndicator(in.Indicators)
	if err != nil {
		return nil, err
	}

	bucket, t1, t2 := c.Bucket(avg, snap)
	bic, bands := c.BIC(avg, bucket, t1, t2, snap)
	lc, avgAnnual, years, yearTotals := c.LossComponent(in.Losses, snap)

	ilm, gated, reason, err := c.ILM(lc, bic, bucket, years, snap)
	if err != nil {
		return nil, err
	}

	orc := fixedpoint.RoundMoney(bic.Mul(ilm))
	rwa := fixedpoint.RoundMoney(orc.Mul(snap.Number(ParamRWAMultiplier, defaultRWAMultiplier)))

	ids := make([]string, 0, len(in.Losses))
	for _, ev := range in.Losses {
		ids = append(ids, ev.ID)
	}

	return &SMAResult{
		BICurrent:       current,
		BIAverage:       avg,
		PeriodBIs:       periods,
		Bucket:          bucket,
		BIC:             bic,
		Bands:           bands,
		LC:              lc,
		AvgAnnualLosses: avgAnnual,
		YearsWithData:   years,
		LossYearTotals:  yearTotals,
		ILM:             ilm,
		ILMGated:        gated,
		ILMGateReason:   reason,
		ORC:             orc,
		RWA:             rwa,
		Gating: GatingMetadata{
			Bucket:        bucket,
			ThresholdOne:  t1,
			ThresholdTwo:  t2,
			YearsWithData: years,
			MinYears:      snap.Int(ParamMinDataQualityYears, 5),
			Gated:         gated,
			Reason:        reason,
		},
		IncludedLossIDs: ids,
	}, nil
}

func itoa(n int) string {
	return decimal.NewFromInt(int64(n)).String()
}
