package routing

import (
	"github.com/nexus-gateway/nexus/registry"
)

// PrivacyReconciler retains only backends whose privacy zone is
// compatible with the request's effective constraint. It is FailClosed:
// privacy violations are never recoverable by downstream reconcilers.
type PrivacyReconciler struct {
	// DefaultZone is used when neither a TrafficPolicy nor the request
	// itself constrains privacy.
	DefaultZone registry.PrivacyZone
}

func (r *PrivacyReconciler) Name() string { return "PrivacyReconciler" }

func (r *PrivacyReconciler) ErrorPolicy() ErrorPolicy { return FailClosed }

func (r *PrivacyReconciler) Reconcile(intent *Intent) error {
	zone := r.DefaultZone
	if zone == "" {
		zone = registry.ZoneOpen
	}
	if intent.Requirements.PrivacyZone != nil {
		zone = *intent.Requirements.PrivacyZone
	}
	intent.Annotations.PrivacyConstraint = &zone

	for _, b := range append([]*registry.Backend(nil), intent.Candidates...) {
		if !zone.Compatible(b.PrivacyZone) {
			intent.Exclude(b.ID, r.Name(), "privacy_zone_mismatch",
				"relax privacy constraint or add a local backend with the required capability")
		}
	}
	return nil
}
