package models

import "github.com/google/uuid"

// ActorKind identifies who is calling into the service
type ActorKind string

const (
	ActorClient   ActorKind = "client"
	ActorPharmacy ActorKind = "pharmacy"
	ActorAdmin    ActorKind = "admin"
)

// IsValid reports whether the kind is known
func (k ActorKind) IsValid() bool {
	switch k {
	case ActorClient, ActorPharmacy, ActorAdmin:
		return true
	}
	return false
}

// Actor is the authenticated identity attached to every call
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

func ClientActor(id uuid.UUID) Actor   { return Actor{Kind: ActorClient, ID: id} }
func PharmacyActor(id uuid.UUID) Actor { return Actor{Kind: ActorPharmacy, ID: id} }
func AdminActor(id uuid.UUID) Actor    { return Actor{Kind: ActorAdmin, ID: id} }

func (a Actor) IsAdmin() bool { return a.Kind == ActorAdmin }

// Participant returns the message participant for this actor. Admins never
// take part in a request thread.
func (a Actor) Participant() (Participant, bool) {
	switch a.Kind {
	case ActorClient:
		return Participant{Kind: ParticipantClient, ID: a.ID}, true
	case ActorPharmacy:
		return Participant{Kind: ParticipantPharmacy, ID: a.ID}, true
	case ActorAdmin:
		return Participant{}, false
	}
	return Participant{}, false
}

// ParticipantKind is the side of a request thread a message comes from or goes to
type ParticipantKind string

const (
	ParticipantClient   ParticipantKind = "client"
	ParticipantPharmacy ParticipantKind = "pharmacy"
)

func (k ParticipantKind) IsValid() bool {
	return k == ParticipantClient || k == ParticipantPharmacy
}

// Participant is either a client or a pharmacy in a request thread
type Participant struct {
	Kind ParticipantKind `json:"kind"`
	ID   uuid.UUID       `json:"id"`
}
