package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/snapshot"
)

// Locator matches an element description against a snapshot and returns its
// coordinates. Implementations may be oracle-backed or deterministic; the
// resolver's behaviour stays the same either way.
type Locator interface {
	Locate(ctx context.Context, elementType, elementName, snapshotText string) (model.Coordinates, bool, error)
}

// ReferenceResolutionError indicates the referenced snapshot does not exist
// in the cache.
type ReferenceResolutionError struct {
	Ref    Reference
	Reason string
}

func (e *ReferenceResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %q: %s", e.Ref.String(), e.Reason)
}

// UnresolvedReferenceError indicates the element could not be located in the
// anchored snapshot nor by fallback matching against the latest one. The
// caller decides whether to abort the action or request plan adaptation.
type UnresolvedReferenceError struct {
	Ref Reference
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("element %q not found in snapshot or fallback", e.Ref.String())
}

// coordPattern matches an "(x, y)" pair embedded in snapshot text.
var coordPattern = regexp.MustCompile(`\(\s*(-?\d+)\s*,\s*(-?\d+)\s*\)`)

// Resolver resolves parsed references against the session snapshot cache.
type Resolver struct {
	cache   *snapshot.Cache
	locator Locator
	logger  *slog.Logger
}

// NewResolver creates a Resolver over the given cache and locator.
func NewResolver(cache *snapshot.Cache, locator Locator, logger *slog.Logger) *Resolver {
	return &Resolver{cache: cache, locator: locator, logger: logger}
}

// Resolve turns a reference into coordinates. Protocol: look up the anchored
// snapshot, delegate to the locator, and on a miss retry a textual scan of
// the latest snapshot when it differs from the anchor.
func (r *Resolver) Resolve(ctx context.Context, ref Reference) (model.Coordinates, error) {
	snap, ok := r.lookup(ref)
	if !ok {
		return model.Coordinates{}, &ReferenceResolutionError{Ref: ref, Reason: "snapshot not found"}
	}

	coords, found, err := r.locator.Locate(ctx, ref.ElementType, ref.ElementName, snap.Text)
	if err != nil {
		r.logger.Warn("locator failed, trying fallback", "ref", ref.String(), "error", err)
	} else if found {
		return coords, nil
	}

	if latest, ok := r.cache.Latest(); ok && latest.SequenceID != snap.SequenceID {
		if coords, ok := scanForElement(latest.Text, ref.ElementName); ok {
			r.logger.Info("resolved reference via textual fallback",
				"ref", ref.String(), "snapshot", latest.SequenceID)
			return coords, nil
		}
	}

	return model.Coordinates{}, &UnresolvedReferenceError{Ref: ref}
}

func (r *Resolver) lookup(ref Reference) (model.Snapshot, bool) {
	if ref.IsLatest() {
		return r.cache.Latest()
	}
	return r.cache.Get(ref.SequenceID)
}

// scanForElement scans snapshot lines containing the element name
// (case-insensitively) and extracts the first adjacent "(x, y)" pair.
// When several lines match, the first wins; this is a known imprecision of
// the fallback path.
func scanForElement(snapshotText, elementName string) (model.Coordinates, bool) {
	needle := strings.ToLower(elementName)
	for _, line := range strings.Split(snapshotText, "\n") {
		if !strings.Contains(strings.ToLower(line), needle) {
			continue
		}
		m := coordPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		x, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[2])
		return model.Coordinates{X: x, Y: y}, true
	}
	return model.Coordinates{}, false
}
