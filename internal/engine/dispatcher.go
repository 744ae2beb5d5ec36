package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/internal/domain/validation"
)

// Bundle is the typed input superset accepted by the dispatcher. Each
// methodology reads the slice it needs.
type Bundle struct {
	EntityID        string
	CalculationDate time.Time
	Indicators      []indicator.BusinessIndicator
	Losses          []loss.Event
	GrossIncome     []indicator.GrossIncomeYear
	LineIncome      []indicator.BusinessLineIncome
}

// Envelope wraps any engine result in a uniform shape.
type Envelope struct {
	Method capital.Methodology `json:"method"`
	ORC    decimal.Decimal     `json:"orc"`
	RWA    decimal.Decimal     `json:"rwa"`
	SMA    *SMAResult          `json:"sma,omitempty"`
	BIA    *BIAResult          `json:"bia,omitempty"`
	TSA    *TSAResult          `json:"tsa,omitempty"`
}

// Dispatcher validates input bundles and routes them to the engines.
// Stateless and safe for concurrent use.
type Dispatcher struct {
	sma *SMACalculator
	bia *BIACalculator
	tsa *TSACalculator
}

// NewDispatcher constructs a Dispatcher over fresh engines.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		sma: NewSMACalculator(),
		bia: NewBIACalculator(),
		tsa: NewTSACalculator(),
	}
}

// Validate checks the bundle against the method's required shape, collecting
// every violation instead of failing on the first.
func (d *Dispatcher) Validate(method capital.Methodology, b Bundle) []validation.Error {
	var violations []validation.Error
	if b.EntityID == "" {
		violations = append(violations, validation.Violation(
			serrors.ErrCodeMissingRequiredField, "entity_id", "entity_id is required"))
	}

	switch method {
	case capital.SMA:
		if len(b.Indicators) == 0 {
			violations = append(violations, validation.Violation(
				serrors.ErrCodeInsufficientData, "indicators",
				"SMA requires at least one business indicator period"))
		}
	case capital.BIA:
		if len(b.GrossIncome) == 0 {
			violations = append(violations, validation.Violation(
				serrors.ErrCodeInsufficientData, "gross_income",
				"BIA requires gross income periods"))
		}
	case capital.TSA:
		if len(b.LineIncome) == 0 {
			violations = append(violations, validation.Violation(
				serrors.ErrCodeInsufficientData, "line_income",
				"TSA requires business line income periods"))
		}
		for i, row := range b.LineIncome {
			if !loss.BusinessLine(row.BusinessLine).Valid() {
				violations = append(violations, validation.Error{
					ErrorCode:    serrors.ErrCodeInvalidEnumValue,
					ErrorMessage: "unknown business line " + row.BusinessLine,
					Field:        "line_income",
					Details:      map[string]interface{}{"index": i},
				})
			}
		}
	default:
		violations = append(violations, validation.Violation(
			serrors.ErrCodeUnknownMethodology, "model_name",
			"unknown methodology "+string(method)))
	}
	return violations
}

// Run validates and executes one methodology over the bundle.
func (d *Dispatcher) Run(ctx context.Context, method capital.Methodology, b Bundle, snap param.Snapshot) (*Envelope, []validation.Error, error) {
	if violations := d.Validate(method, b); len(violations) > 0 {
		return nil, violations, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	env := &Envelope{Method: method}
	switch method {
	case capital.SMA:
		res, err := d.sma.Calculate(SMAInput{
			EntityID:        b.EntityID,
			CalculationDate: b.CalculationDate,
			Indicators:      b.Indicators,
			Losses:          b.Losses,
		}, snap)
		if err != nil {
			return nil, nil, err
		}
		env.SMA, env.ORC, env.RWA = res, res.ORC, res.RWA
	case capital.BIA:
		res, err := d.bia.Calculate(BIAInput{EntityID: b.EntityID, GrossIncome: b.GrossIncome}, snap)
		if err != nil {
			return nil, nil, err
		}
		env.BIA, env.ORC, env.RWA = res, res.ORC, res.RWA
	case capital.TSA:
		res, err := d.tsa.Calculate(TSAInput{EntityID: b.EntityID, LineIncome: b.LineIncome}, snap)
		if err != nil {
			return nil, nil, err
		}
		env.TSA, env.ORC, env.RWA = res, res.ORC, res.RWA
	}
	return env, nil, nil
}

// Comparison is the outcome of running one methodology in comparison mode.
type Comparison struct {
	Envelope   *Envelope          `json:"envelope,omitempty"`
	Violations []validation.Error `json:"violations,omitempty"`
	Err        error              `json:"-"`
}

// Compare runs multiple methodologies over the same bundle concurrently and
// gathers the outcomes keyed by methodology.
func (d *Dispatcher) Compare(ctx context.Context, methods []capital.Methodology, b Bundle, snaps map[capital.Methodology]param.Snapshot) map[capital.Methodology]Comparison {
	results := make(map[capital.Methodology]Comparison, len(methods))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, method := range methods {
		wg.Add(1)
		go func(method capital.Methodology) {
			defer wg.Done()
			env, violations, err := d.Run(ctx, method, b, snaps[method])
			mu.Lock()
			results[method] = Comparison{Envelope: env, Violations: violations, Err: err}
			mu.Unlock()
		}(method)
	}
	wg.Wait()
	return results
}
