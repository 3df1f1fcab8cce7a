package domain

// Capability is a coarse permission consumed from the authorization system.
// This service checks capabilities; it does not issue or manage them.
type Capability string

const (
	// CapabilityAdmin may run any transition, including the logged override.
	CapabilityAdmin Capability = "admin"
	// CapabilityAuditor may evaluate audits it holds an active assignment for.
	CapabilityAuditor Capability = "auditor"
	// CapabilityProvider may upload documents and mark submission complete.
	CapabilityProvider Capability = "provider"
)

// Actor is the authenticated caller as presented by the authorization
// system: an identifier plus granted capabilities.
type Actor struct {
	ID           ActorID
	Capabilities []Capability
}

// Has reports whether the actor holds the given capability.
func (a Actor) Has(c Capability) bool {
	for _, got := range a.Capabilities {
		if got == c {
			return true
		}
	}
	return false
}

// IsAdmin is shorthand for the admin capability check.
func (a Actor) IsAdmin() bool { return a.Has(CapabilityAdmin) }
