package routing

import "github.com/nexus-gateway/nexus/registry"

// EstimateCostCents estimates a request's cost in cents given a token
// count and a backend's per-token rate. Local backends carry a zero
// rate, so this is naturally zero for them.
func EstimateCostCents(estimatedTokens uint32, backend *registry.Backend) float64 {
	return float64(estimatedTokens) * backend.PerTokenRateCents / 1000.0
}
