//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"ghost-chat/domain"
	"ghost-chat/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.Outbound) error
}

// Connection is one live transport session.
// Consume must not block on the network: implementations enqueue and return.
type Connection interface {
	EventSink
	ID() string
	Closed() bool
}

// Session binds a live connection to the user who joined through it.
type Session struct {
	User domain.User
	Conn Connection
}

// SessionSource lists the sessions whose transport is still open.
type SessionSource interface {
	Sessions() []Session
}

// GroupDirectory resolves the visibility of a group for fan-out.
type GroupDirectory interface {
	GetGroup(groupID string) (domain.Group, error)
}

// Publisher hands a delivery to the fanout pipeline.
type Publisher interface {
	Publish(ctx context.Context, d Delivery) error
}

type Audience int

const (
	// AudienceConnection targets Delivery.Conn only.
	AudienceConnection Audience = iota
	// AudienceOthers targets every live connection except Delivery.Conn.
	AudienceOthers
	// AudienceAll targets every live connection.
	AudienceAll
	// AudienceGroup targets the connections allowed to see Delivery.GroupID,
	// minus Delivery.ExceptUserID when set.
	AudienceGroup
)

func (a Audience) String() string {
	switch a {
	case AudienceConnection:
		return "connection"
	case AudienceOthers:
		return "others"
	case AudienceAll:
		return "all"
	case AudienceGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Delivery is one outbound event plus the audience it must reach.
type Delivery struct {
	Event        event.Outbound
	Audience     Audience
	Conn         Connection
	GroupID      string
	ExceptUserID string
}

func ToConnection(conn Connection, evt event.Outbound) Delivery {
	return Delivery{Event: evt, Audience: AudienceConnection, Conn: conn}
}

func ToOthers(conn Connection, evt event.Outbound) Delivery {
	return Delivery{Event: evt, Audience: AudienceOthers, Conn: conn}
}

func ToAll(evt event.Outbound) Delivery {
	return Delivery{Event: evt, Audience: AudienceAll}
}

func ToGroup(groupID string, evt event.Outbound) Delivery {
	return Delivery{Event: evt, Audience: AudienceGroup, GroupID: groupID}
}
