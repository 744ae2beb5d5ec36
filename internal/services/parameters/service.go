// Package parameters implements the versioned parameter store and the
// maker-checker-approver governance workflow over it.
package parameters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// Service exposes parameter reads keyed by a snapshot version set, plus the
// governance workflow.
type Service struct {
	store storage.ParameterStore
	log   *logger.Logger
}

// NewService constructs a parameter Service.
func NewService(store storage.ParameterStore, log *logger.Logger) *Service {
	return &Service{store: store, log: log.WithComponent("parameters")}
}

func newVersionID() string {
	return "pv_" + uuid.NewString()
}

func newStepID() string {
	return "ws_" + uuid.NewString()
}

// GetActive returns the model's active parameter set frozen into a snapshot.
// The snapshot records the exact version IDs observed so a calculation can be
// reproduced against them.
func (s *Service) GetActive(ctx context.Context, model capital.Methodology) (param.Snapshot, error) {
	versions, err := s.store.ListActiveVersions(ctx, model)
	if err != nil {
		return param.Snapshot{}, err
	}
	if len(versions) == 0 {
		return param.Snapshot{}, serrors.NotFound(serrors.ErrCodeParameterNotFound,
			"no active parameters for model "+string(model))
	}

	snap := param.Snapshot{
		Model:    model,
		Values:   make(map[string]param.Value, len(versions)),
		Versions: make(map[string]string, len(versions)),
	}
	for _, v := range versions {
		snap.Values[v.ParameterName] = v.Value
		snap.Versions[v.ParameterName] = v.VersionID
	}
	snap.Digest = snapshotDigest(snap)
	return snap, nil
}

// GetVersion returns one immutable parameter version.
func (s *Service) GetVersion(ctx context.Context, versionID string) (param.Version, error) {
	return s.store.GetParameterVersion(ctx, versionID)
}

// History returns the full ordered version history of one parameter.
func (s *Service) History(ctx context.Context, model capital.Methodology, name string) ([]param.Version, error) {
	return s.store.ListParameterVersions(ctx, model, name)
}

// Overlay returns a copy of snap with the given values replacing or adding to
// the snapshot, re-digested. Used by what-if analysis and request overlays;
// the stored versions are unaffected.
func Overlay(snap param.Snapshot, overlay map[string]param.Value) param.Snapshot {
	if len(overlay) == 0 {
		return snap
	}
	out := param.Snapshot{
		Model:    snap.Model,
		Values:   make(map[string]param.Value, len(snap.Values)+len(overlay)),
		Versions: make(map[string]string, len(snap.Versions)),
	}
	for k, v := range snap.Values {
		out.Values[k] = v
	}
	for k, v := range snap.Versions {
		out.Versions[k] = v
	}
	for k, v := range overlay {
		out.Values[k] = v
		out.Versions[k] = "overlay:" + k
	}
	out.Digest = snapshotDigest(out)
	return out
}

// snapshotDigest hashes the snapshot's values and versions with
// lexicographically ordered keys.
func snapshotDigest(snap param.Snapshot) string {
	names := make([]string, 0, len(snap.Values))
	for name := range snap.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(snap.Model))
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(snap.Values[name].String()))
		h.Write([]byte(snap.Versions[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// diffHash records the previous→new value delta of a version immutably.
func diffHash(previous *param.Value, next param.Value) string {
	payload := map[string]string{"new": next.String()}
	if previous != nil {
		payload["previous"] = previous.String()
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
