package engine

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
)

// BIAInput is the validated input bundle for one Basic Indicator Approach run.
type BIAInput struct {
	EntityID    string
	GrossIncome []indicator.GrossIncomeYear
}

// BIAYear is one year's contribution detail for lineage.
type BIAYear struct {
	Year     int             `json:"year"`
	NetGI    decimal.Decimal `json:"net_gi"`
	Included bool            `json:"included"`
}

// BIAResult carries the intermediates of one BIA run.
type BIAResult struct {
	Years         []BIAYear       `json:"years"`
	ExcludedYears []string        `json:"excluded_years"`
	PositiveYears int             `json:"positive_years"`
	AverageGI     decimal.Decimal `json:"average_gi"`
	Alpha         decimal.Decimal `json:"alpha"`
	ORC           decimal.Decimal `json:"orc"`
	RWA           decimal.Decimal `json:"rwa"`
}

// BIACalculator computes capital under the Basic Indicator Approach.
// Stateless and safe for concurrent use.
type BIACalculator struct{}

// NewBIACalculator constructs a BIACalculator.
func NewBIACalculator() *BIACalculator { return &BIACalculator{} }

var defaultAlpha = fixedpoint.MustParse("0.15")

// Calculate averages positive net gross income over the lookback window and
// applies alpha. Years with non-positive net GI are excluded from both the
// numerator and the denominator.
func (c *BIACalculator) Calculate(in BIAInput, snap param.Snapshot) (*BIAResult, error) {
	if len(in.GrossIncome) == 0 {
		return nil, serrors.InsufficientData("no gross income periods available")
	}

	rows := make([]indicator.GrossIncomeYear, len(in.GrossIncome))
	copy(rows, in.GrossIncome)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Year > rows[j].Year })

	lookback := snap.Int(ParamLookbackYears, 3)
	if len(rows) > lookback {
		rows = rows[:lookback]
	}

	var (
		years    []BIAYear
		excluded []string
		sum      decimal.Decimal
		positive int
	)
	for _, row := range rows {
		net := row.Net()
		included := net.Sign() > 0
		years = append(years, BIAYear{Year: row.Year, NetGI: net, Included: included})
		if included {
			sum = sum.Add(net)
			positive++
		} else {
			excluded = append(excluded, strconv.Itoa(row.Year))
		}
	}

	if positive == 0 {
		return nil, serrors.New(serrors.ErrCodeNoPositiveGIYears,
			"no years with positive gross income in the lookback window", 422).
			WithDetails("lookback_years", lookback)
	}

	avg := sum.Div(decimal.NewFromInt(int64(positive)))
	alpha := snap.Number(ParamAlpha, defaultAlpha)
	orc := fixedpoint.RoundMoney(alpha.Mul(avg))
	rwa := fixedpoint.RoundMoney(orc.Mul(snap.Number(ParamRWAMultiplier, defaultRWAMultiplier)))

	return &BIAResult{
		Years:         years,
		ExcludedYears: excluded,
		PositiveYears: positive,
		AverageGI:     avg,
		Alpha:         alpha,
		ORC:           orc,
		RWA:           rwa,
	}, nil
}
