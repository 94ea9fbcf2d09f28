// Package mail defines the cross-world messaging data model: Msg, AntiMsg,
// Transfer, Mail, and the local message wheel every Planet drives.
package mail

import "aikasim/clock"

// Msg is a single message addressed from one agent to another, or broadcast
// to every agent in the destination world when To is nil. The message wheel
// and its overflow heap order messages by Recv alone; Sent, From and To take
// no part in ordering, and messages with equal Recv keep insertion order
// within a wheel bucket but have no defined order in the overflow heap.
//
// Invariant: Recv >= Sent.
type Msg[T any] struct {
	From uint64
	To   *uint64 // nil == broadcast within the destination world
	Sent uint64
	Recv uint64
	Data T
}

// NewMsg constructs a Msg.
func NewMsg[T any](data T, sent, recv, from uint64, to *uint64) Msg[T] {
	return Msg[T]{From: from, To: to, Sent: sent, Recv: recv, Data: data}
}

// Identity returns the four fields that uniquely identify a Msg for
// annihilation matching against an AntiMsg.
func (m Msg[T]) Identity() (from uint64, to *uint64, sent, recv uint64) {
	return m.From, m.To, m.Sent, m.Recv
}

// AntiMsg mirrors a Msg's identity without a payload. An AntiMsg annihilates
// the unique Msg matching all four identity fields.
type AntiMsg struct {
	Sent     uint64
	Received uint64
	From     uint64
	To       uint64
}

// NewAntiMsg constructs an AntiMsg.
func NewAntiMsg(sent, received, from, to uint64) AntiMsg {
	return AntiMsg{Sent: sent, Received: received, From: from, To: to}
}

// Annihilates reports whether anti cancels msg: their identities must match
// exactly (From, Sent, Recv, and anti.To equal to the addressed peer — a
// broadcast Msg, To == nil, can never be annihilated by a point-to-point
// AntiMsg).
func (a AntiMsg) Annihilates(to *uint64, sent, recv, from uint64) bool {
	if to == nil {
		return false
	}
	return a.Sent == sent && a.Received == recv && a.From == from && a.To == *to
}

// TransferKind tags which variant a Transfer carries.
type TransferKind int

const (
	TransferMsg TransferKind = iota
	TransferAnti
)

// Transfer is the tagged union placed on the wire between worlds: either a
// Msg or an AntiMsg.
type Transfer[T any] struct {
	Kind TransferKind
	Msg  Msg[T]
	Anti AntiMsg
}

// WrapMsg builds a Transfer carrying a Msg.
func WrapMsg[T any](m Msg[T]) Transfer[T] { return Transfer[T]{Kind: TransferMsg, Msg: m} }

// WrapAnti builds a Transfer carrying an AntiMsg.
func WrapAnti[T any](a AntiMsg) Transfer[T] { return Transfer[T]{Kind: TransferAnti, Anti: a} }

// Time implements clock.Scheduleable: the transfer's receive time, used to
// bucket it in the destination's message wheel.
func (t Transfer[T]) Time() uint64 {
	if t.Kind == TransferMsg {
		return t.Msg.Recv
	}
	return t.Anti.Received
}

// CommitTime is the send time — when the transfer was produced by its
// origin world.
func (t Transfer[T]) CommitTime() uint64 {
	if t.Kind == TransferMsg {
		return t.Msg.Sent
	}
	return t.Anti.Sent
}

// Mail is the envelope that travels through the inter-world messenger.
type Mail[T any] struct {
	Transfer Transfer[T]
	FromWorld uint64
	ToWorld   *uint64 // nil == broadcast to every world
}

// WriteLetter constructs a Mail envelope.
func WriteLetter[T any](transfer Transfer[T], fromWorld uint64, toWorld *uint64) Mail[T] {
	return Mail[T]{Transfer: transfer, FromWorld: fromWorld, ToWorld: toWorld}
}

var _ clock.Scheduleable = Transfer[int]{}
