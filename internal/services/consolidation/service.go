// Package consolidation walks the entity hierarchy and composes consolidated
// Business Indicators with corporate-action adjustments.
package consolidation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/entity"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// disclosurePeriodMonths is the Pillar 3 window for corporate actions.
const disclosurePeriodMonths = 36

// Service composes consolidated calculations over the entity forest.
type Service struct {
	entities   storage.EntityStore
	indicators storage.BusinessIndicatorStore
	log        *logger.Logger
}

// NewService constructs a consolidation Service.
func NewService(entities storage.EntityStore, indicators storage.BusinessIndicatorStore, log *logger.Logger) *Service {
	return &Service{entities: entities, indicators: indicators, log: log.WithComponent("consolidation")}
}

// AddEntity registers an entity after verifying the parent link keeps the
// hierarchy acyclic.
func (s *Service) AddEntity(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	if e.ID == "" {
		return entity.Entity{}, serrors.MissingField("id")
	}
	if e.ParentEntityID != "" {
		if err := s.checkNoCycle(ctx, e.ID, e.ParentEntityID); err != nil {
			return entity.Entity{}, err
		}
	}
	return s.entities.CreateEntity(ctx, e)
}

// checkNoCycle rejects a parent link that would make childID an ancestor of
// itself.
func (s *Service) checkNoCycle(ctx context.Context, childID, parentID string) error {
	seen := map[string]bool{childID: true}
	current := parentID
	for current != "" {
		if seen[current] {
			return serrors.New(serrors.ErrCodeConsolidationCycle,
				"entity hierarchy cycle detected", 409).
				WithDetails("entity_id", childID).WithDetails("ancestor", current)
		}
		seen[current] = true
		parent, err := s.entities.GetEntity(ctx, current)
		if err != nil {
			// A dangling parent is a forest root from traversal's view.
			return nil
		}
		current = parent.ParentEntityID
	}
	return nil
}

// CalculateConsolidated walks the tree rooted at parentID and composes the
// consolidated BI at the requested level, applying corporate-action
// adjustments and emitting disclosure items for actions inside the window.
func (s *Service) CalculateConsolidated(ctx context.Context, parentID string, level entity.ConsolidationLevel, date time.Time, includeSubsidiaries, includeCorporateActions bool) (*entity.ConsolidationResult, error) {
	root, err := s.entities.GetEntity(ctx, parentID)
	if err != nil {
		return nil, err
	}

	included, excluded, err := s.selectEntities(ctx, root, level, date, includeSubsidiaries)
	if err != nil {
		return nil, err
	}

	result := &entity.ConsolidationResult{
		ParentEntityID:   parentID,
		Level:            level,
		CalculationDate:  date,
		IncludedEntities: included,
		ExcludedEntities: excluded,
	}

	total := decimal.Zero
	for _, id := range included {
		bi, err := s.latestBI(ctx, id, date)
		if err != nil {
			return nil, err
		}
		total = total.Add(bi)
	}

	if includeCorporateActions {
		adjusted, adjustments, disclosures, err := s.applyCorporateActions(ctx, total, included, date)
		if err != nil {
			return nil, err
		}
		total = adjusted
		result.Adjustments = adjustments
		result.DisclosureItems = disclosures
	}

	result.ConsolidatedBI = total
	return result, nil
}

// selectEntities applies the level rules: consolidated includes every active
// descendant, sub_consolidated the node and its direct children, subsidiary
// only the root. Inactive entities are always excluded.
func (s *Service) selectEntities(ctx context.Context, root entity.Entity, level entity.ConsolidationLevel, date time.Time, includeSubsidiaries bool) (included, excluded []string, err error) {
	appendEntity := func(e entity.Entity) {
		if e.Active {
			included = append(included, e.ID)
		} else {
			excluded = append(excluded, e.ID)
		}
	}
	appendEntity(root)

	if level == entity.LevelSubsidiary || !includeSubsidiaries {
		return included, excluded, nil
	}

	switch level {
	case entity.LevelSubConsolidated:
		children, err := s.entities.ListChildEntities(ctx, root.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, child := range children {
			if s.mappingExcluded(ctx, root.ID, child.ID, date) {
				excluded = append(excluded, child.ID)
				continue
			}
			appendEntity(child)
		}
	case entity.LevelConsolidated:
		// Breadth-first walk; acyclicity is enforced at ingestion so the
		// traversal terminates without a depth bound.
		queue := []string{root.ID}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			children, err := s.entities.ListChildEntities(ctx, current)
			if err != nil {
				return nil, nil, err
			}
			for _, child := range children {
				if s.mappingExcluded(ctx, current, child.ID, date) {
					excluded = append(excluded, child.ID)
					continue
				}
				appendEntity(child)
				if child.Active {
					queue = append(queue, child.ID)
				}
			}
		}
	}
	return included, excluded, nil
}

// mappingExcluded reports whether an explicit mapping exists for the pair but
// has lapsed at the date. Pairs with no mapping at all consolidate by the
// parent link alone.
func (s *Service) mappingExcluded(ctx context.Context, parentID, childID string, date time.Time) bool {
	mappings, err := s.entities.ListConsolidationMappings(ctx, parentID, childID)
	if err != nil || len(mappings) == 0 {
		return false
	}
	for _, m := range mappings {
		if m.EffectiveAt(date) {
			return false
		}
	}
	return true
}

func (s *Service) latestBI(ctx context.Context, entityID string, date time.Time) (decimal.Decimal, error) {
	rows, err := s.indicators.ListBusinessIndicators(ctx, entityID, date, 1)
	if err != nil {
		return decimal.Zero, err
	}
	if len(rows) == 0 {
		return decimal.Zero, nil
	}
	return rows[0].Total(), nil
}

// applyCorporateActions adjusts the consolidated BI per RBI-approved and
// completed corporate actions (proposed and cancelled ones are skipped) and
// emits disclosure items for the 36-month window.
func (s *Service) applyCorporateActions(ctx context.Context, total decimal.Decimal, included []string, date time.Time) (decimal.Decimal, []entity.BIAdjustment, []entity.DisclosureItem, error) {
	actions, err := s.entities.ListCorporateActions(ctx, included, date)
	if err != nil {
		return decimal.Zero, nil, nil, err
	}

	var (
		adjustments []entity.BIAdjustment
		disclosures []entity.DisclosureItem
	)
	windowStart := date.AddDate(0, -disclosurePeriodMonths, 0)

	for _, action := range actions {
		if action.Status == entity.ActionCancelled || action.Status == entity.ActionProposed {
			continue
		}

		switch {
		case action.ActionType == entity.ActionAcquisition && action.PriorBIInclusionRequired && !action.EffectiveDate.After(date):
			prior, err := s.latestBI(ctx, action.TargetEntityID, action.EffectiveDate)
			if err != nil {
				return decimal.Zero, nil, nil, err
			}
			if prior.Sign() != 0 {
				total = total.Add(prior)
				adjustments = append(adjustments, entity.BIAdjustment{
					CorporateActionID: action.ID,
					ActionType:        action.ActionType,
					EntityID:          action.TargetEntityID,
					Amount:            prior,
					Description:       "prior-period BI of acquired entity included",
				})
			}
		case action.ActionType == entity.ActionDivestiture && action.BIExclusionRequired:
			divested, err := s.latestBI(ctx, action.TargetEntityID, action.EffectiveDate)
			if err != nil {
				return decimal.Zero, nil, nil, err
			}
			share := action.OwnershipPercentage.Div(decimal.NewFromInt(100)).Mul(divested)
			if share.Sign() != 0 {
				total = total.Sub(share)
				adjustments = append(adjustments, entity.BIAdjustment{
					CorporateActionID: action.ID,
					ActionType:        action.ActionType,
					EntityID:          action.TargetEntityID,
					Amount:            share.Neg(),
					Description:       "ownership share of divested BI excluded",
				})
			}
		}

		if !action.EffectiveDate.Before(windowStart) {
			disclosures = append(disclosures, entity.DisclosureItem{
				CorporateActionID: action.ID,
				ActionType:        action.ActionType,
				EffectiveDate:     action.EffectiveDate,
				DisclosureUntil:   action.EffectiveDate.AddDate(0, disclosurePeriodMonths, 0),
				Description:       string(action.ActionType) + " affecting " + action.TargetEntityID,
			})
		}
	}
	return total, adjustments, disclosures, nil
}
