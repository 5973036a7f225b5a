// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.12
//

package gosdr

// Symbol is one demodulated prompt output handed to a navigation data decoder
type Symbol struct {
	Value float64 // In-phase prompt correlation
	Epoch uint64  // Code period count at the end of the symbol
}

// TimeAnchor ties a decoded time of week to a code period count
type TimeAnchor struct {
	TOW        float64 // GPS time of week at the end of the subframe [s]
	Epoch      uint64  // Code period count at the end of the subframe
	Week       int     // GPS week, -1 until known
	SubframeID int
}

// NavMessageKind tags NavMessage
type NavMessageKind int

const (
	TimeAnchorMessage NavMessageKind = iota
	EphemerisMessage
)

func (k NavMessageKind) String() string {
	switch k {
	case TimeAnchorMessage:
		return "TimeAnchor"
	case EphemerisMessage:
		return "Ephemeris"
	default:
		return "Unknown"
	}
}

// NavMessage is a decoded navigation message. Kind tells which field is set.
type NavMessage struct {
	Kind      NavMessageKind
	Anchor    TimeAnchor // TimeAnchorMessage
	Ephemeris *Ephemeris // EphemerisMessage
}

// DecoderStatus is the synchronization state of a decoder
type DecoderStatus int

const (
	DecoderBitSearch   DecoderStatus = iota // Looking for symbol boundaries
	DecoderFrameSearch                      // Bits available, looking for a preamble
	DecoderFrameSync                        // Subframes decoded at the expected cadence
	DecoderNoSync                           // Preamble not found for a prolonged time; bit sync restarted
)

func (s DecoderStatus) String() string {
	switch s {
	case DecoderBitSearch:
		return "BitSearch"
	case DecoderFrameSearch:
		return "FrameSearch"
	case DecoderFrameSync:
		return "FrameSync"
	case DecoderNoSync:
		return "NoSync"
	default:
		return "Unknown"
	}
}

// DecoderStats counts decoder events
type DecoderStats struct {
	Bits            int   // Data bits produced by bit synchronization
	Subframes       int   // Subframes with valid TLM and HOW
	ParityFailures  int   // Rejected words
	FrameSyncLosses int   // Transitions from frame sync back to frame search
	LastError       error // Most recent ErrParityFailure or ErrFrameSyncLost
}

// NavDataDecoder turns demodulated symbols into navigation messages
type NavDataDecoder interface {
	Decode(s Symbol) []NavMessage
	Status() DecoderStatus
	Stats() DecoderStats
	Reset()
}

// MessageQueue is a FIFO of navigation messages. It is filled by its channel
// and drained by the caller.
type MessageQueue struct {
	msgs []NavMessage
}

func (q *MessageQueue) Push(m NavMessage) {
	q.msgs = append(q.msgs, m)
}

// Pop removes and returns the oldest message
func (q *MessageQueue) Pop() (NavMessage, bool) {
	if len(q.msgs) == 0 {
		return NavMessage{}, false
	}
	m := q.msgs[0]
	q.msgs[0] = NavMessage{}
	q.msgs = q.msgs[1:]
	return m, true
}

func (q *MessageQueue) Len() int {
	return len(q.msgs)
}

func (q *MessageQueue) Empty() bool {
	return len(q.msgs) == 0
}
