// Package protocol defines the typed messages exchanged between the
// primary dispatcher and replica nodes over the mailbox fabric, and the
// cards the two sides publish to find each other.
package protocol

import (
	"github.com/google/uuid"

	"github.com/devrev/pairdb/replica-node/internal/backfill"
	"github.com/devrev/pairdb/replica-node/internal/mailbox"
	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/store"
)

// AsyncWrite is one write streamed from the dispatcher. The replica acks
// on Ack with no payload once it has admitted (and possibly delayed) the
// write.
type AsyncWrite struct {
	Write     model.Write
	Timestamp model.StateTimestamp
	Order     model.OrderToken
	Ack       mailbox.Address[struct{}]
}

// SyncWrite is a write whose caller picked the durability and wants the
// store's response.
type SyncWrite struct {
	Write      model.Write
	Timestamp  model.StateTimestamp
	Order      model.OrderToken
	Durability store.Durability
	Ack        mailbox.Address[SyncWriteReply]
}

// SyncWriteReply carries the store's response, or a rejection.
type SyncWriteReply struct {
	Response model.WriteResponse
	Err      string
}

// ReadRequest is a read with a minimum-timestamp precondition.
type ReadRequest struct {
	Read         model.Read
	MinTimestamp model.StateTimestamp
	Ack          mailbox.Address[ReadReply]
}

// ReadReply carries the read response, or a rejection.
type ReadReply struct {
	Response model.ReadResponse
	Err      string
}

// Intro is pushed once to a replica's intro mailbox when the dispatcher
// accepts its registration.
type Intro struct {
	StreamingBeginTimestamp model.StateTimestamp
	ReadyAddr               mailbox.Address[struct{}]
}

// RegistrationCard is what a replica publishes to the dispatcher's
// registrar.
type RegistrationCard struct {
	ServerID       uuid.UUID
	IntroAddr      mailbox.Address[Intro]
	AsyncWriteAddr mailbox.Address[AsyncWrite]
	SyncWriteAddr  mailbox.Address[SyncWrite]
	ReadAddr       mailbox.Address[ReadRequest]
}

// ServerCard is the dispatcher's published identity for one branch of
// one region.
type ServerCard struct {
	Branch    uuid.UUID
	Region    model.Region
	Registrar mailbox.Address[RegistrationCard]
}

// ReplicaCard is a peer replica's published identity: where to
// synchronize its backfiller and which peer it is for throttling.
type ReplicaCard struct {
	PeerID      string
	Synchronize mailbox.Address[backfill.SynchronizeRequest]
}
