package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
)

// TSAInput is the validated input bundle for one Standardized Approach run.
type TSAInput struct {
	EntityID   string
	LineIncome []indicator.BusinessLineIncome
}

// TSALineContribution is one (year, business line) charge for lineage.
type TSALineContribution struct {
	BusinessLine string          `json:"business_line"`
	Beta         decimal.Decimal `json:"beta"`
	NetGI        decimal.Decimal `json:"net_gi"`
	Charge       decimal.Decimal `json:"charge"`
}

// TSAYear is one year's total with its per-line breakdown.
type TSAYear struct {
	Year          int                   `json:"year"`
	Contributions []TSALineContribution `json:"contributions"`
	RawTotal      decimal.Decimal       `json:"raw_total"`
	FloorApplied  bool                  `json:"floor_applied"`
	Total         decimal.Decimal       `json:"total"`
}

// TSAResult carries the intermediates of one TSA run.
type TSAResult struct {
	Years []TSAYear       `json:"years"`
	ORC   decimal.Decimal `json:"orc"`
	RWA   decimal.Decimal `json:"rwa"`
}

// TSACalculator computes capital under the Standardized Approach.
// Stateless and safe for concurrent use.
type TSACalculator struct{}

// NewTSACalculator constructs a TSACalculator.
func NewTSACalculator() *TSACalculator { return &TSACalculator{} }

// defaultBetas carries the RBI beta factors per business line.
var defaultBetas = map[string]decimal.Decimal{
	"retail_banking":     fixedpoint.MustParse("0.12"),
	"commercial_banking": fixedpoint.MustParse("0.15"),
	"trading_sales":      fixedpoint.MustParse("0.18"),
	"corporate_finance":  fixedpoint.MustParse("0.18"),
	"payment_settlement": fixedpoint.MustParse("0.18"),
	"agency_services":    fixedpoint.MustParse("0.15"),
	"asset_management":   fixedpoint.MustParse("0.12"),
	"retail_brokerage":   fixedpoint.MustParse("0.12"),
}

// Calculate sums beta-weighted net gross income per year, netting negative
// line contributions within the year first and flooring the yearly total at
// zero second, then averages the yearly totals.
func (c *TSACalculator) Calculate(in TSAInput, snap param.Snapshot) (*TSAResult, error) {
	if len(in.LineIncome) == 0 {
		return nil, serrors.InsufficientData("no business line income periods available")
	}

	betas := snap.Mapping(ParamBetaFactors)
	if betas == nil {
		betas = defaultBetas
	}
	allowOffset := snap.Flag(ParamAllowNegativeOffset, true)
	floorAtZero := snap.Flag(ParamFloorAnnualAtZero, true)

	byYear := make(map[int][]indicator.BusinessLineIncome)
	for _, row := range in.LineIncome {
		byYear[row.Year] = append(byYear[row.Year], row)
	}

	yearsDesc := make([]int, 0, len(byYear))
	for y := range byYear {
		yearsDesc = append(yearsDesc, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(yearsDesc)))

	lookback := snap.Int(ParamLookbackYears, 3)
	if len(yearsDesc) > lookback {
		yearsDesc = yearsDesc[:lookback]
	}

	var (
		years  []TSAYear
		totals []decimal.Decimal
	)
	for _, y := range yearsDesc {
		rows := byYear[y]
		sort.Slice(rows, func(i, j int) bool { return rows[i].BusinessLine < rows[j].BusinessLine })

		var contribs []TSALineContribution
		raw := decimal.Zero
		for _, row := range rows {
			beta, ok := betas[row.BusinessLine]
			if !ok {
				return nil, serrors.InvalidEnum("business_line", row.BusinessLine)
			}
			net := row.Net()
			charge := beta.Mul(net)
			contribs = append(contribs, TSALineContribution{
				BusinessLine: row.BusinessLine,
				Beta:         beta,
				NetGI:        net,
				Charge:       charge,
			})
			if charge.Sign() >= 0 || allowOffset {
				raw = raw.Add(charge)
			}
		}

		total := raw
		floored := false
		if floorAtZero && total.Sign() < 0 {
			total = decimal.Zero
			floored = true
		}
		years = append(years, TSAYear{
			Year:          y,
			Contributions: contribs,
			RawTotal:      raw,
			FloorApplied:  floored,
			Total:         total,
		})
		totals = append(totals, total)
	}

	mean, err := fixedpoint.Mean(totals)
	if err != nil {
		return nil, serrors.InsufficientData("no qualifying years for TSA average")
	}
	orc := fixedpoint.RoundMoney(mean)
	rwa := fixedpoint.RoundMoney(orc.Mul(snap.Number(ParamRWAMultiplier, defaultRWAMultiplier)))

	return &TSAResult{Years: years, ORC: orc, RWA: rwa}, nil
}
