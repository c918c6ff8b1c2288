package domain

import "github.com/google/uuid"

// Role is the closed set of identities that can act on inspections.
type Role string

const (
	// RoleAdmin is an organization administrator. Admins may act on any
	// inspection or batch in their organization and their approval
	// finalizes an inspection on its own.
	RoleAdmin Role = "admin"

	// RoleApprover reviews inspections assigned to them.
	RoleApprover Role = "approver"

	// RoleInspector submits inspections and cannot vote.
	RoleInspector Role = "inspector"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid returns true if the role is a recognized value.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleApprover, RoleInspector:
		return true
	}
	return false
}

// IsApproverClass reports whether a submitter with this role needs a
// supervisory admin appended to the approver list.
func (r Role) IsApproverClass() bool {
	return r == RoleApprover
}

// Actor identifies who is calling into the engine.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// IsAdmin returns true if the actor holds administrative override authority.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// SystemActor is used by scheduled sweeps.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Role: RoleAdmin}
}

// =============================================================================
// Authorization predicates
// =============================================================================

// CanVote reports whether actor may cast a vote on the inspection: admins
// always can, anyone else must hold a slot in the approver list.
func CanVote(actor Actor, insp *Inspection) bool {
	if actor.IsAdmin() {
		return true
	}
	return insp.HasApprover(actor.ID)
}

// CanActOnBatch reports whether actor may approve, reject or view the batch
// whose members are routed to approverID.
func CanActOnBatch(actor Actor, approverID uuid.UUID) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.Role == RoleApprover && actor.ID == approverID
}

// CanListBatches reports whether actor may list batches at all.
func CanListBatches(actor Actor) bool {
	return actor.IsAdmin() || actor.Role == RoleApprover
}

// CanRunSweep reports whether actor may trigger a grouping sweep manually.
func CanRunSweep(actor Actor) bool {
	return actor.IsAdmin()
}
