package domain

import (
	"fmt"
	"strconv"
)

type EventType string

const (
	EventEpisodeStarted       EventType = "episode.started"
	EventPhaseChanged         EventType = "phase.changed"
	EventAttackRecorded       EventType = "attack.recorded"
	EventUpgradeCompleted     EventType = "upgrade.completed"
	EventMilestoneCrossed     EventType = "milestone.crossed"
	EventReservationFulfilled EventType = "reservation.fulfilled"
	EventEpisodeEnded         EventType = "episode.ended"
)

// Event is a tagged union; only the payload matching Type is set.
type Event struct {
	Type       EventType
	Kind       Kind
	ExternalID string
	Day        int

	From Phase
	To   Phase

	Attack *Attack

	Entity   string
	NewLevel int

	Value int

	Reservation *Reservation

	Outcome *Outcome
}

// Identity distinguishes events for delivery bookkeeping:
// (externalId, event type, event-specific key).
func (e Event) Identity() string {
	return fmt.Sprintf("%s|%s|%s", e.ExternalID, e.Type, e.key())
}

func (e Event) key() string {
	switch e.Type {
	case EventPhaseChanged:
		return fmt.Sprintf("%d|%s>%s", e.Day, e.From, e.To)
	case EventAttackRecorded:
		if e.Attack == nil {
			return ""
		}
		k := e.Attack.Key()
		return fmt.Sprintf("%d|%s|%s|%d|%s", k.Day, k.AttackerTag, k.DefenderTag, k.Stars,
			strconv.FormatFloat(k.Destruction, 'f', -1, 64))
	case EventUpgradeCompleted:
		return e.Entity + "|" + strconv.Itoa(e.NewLevel)
	case EventMilestoneCrossed:
		return strconv.Itoa(e.Value)
	case EventReservationFulfilled:
		if e.Reservation == nil {
			return ""
		}
		return e.Reservation.ID
	}
	return ""
}

func PhaseChanged(kind Kind, externalID string, day int, from, to Phase) Event {
	return Event{Type: EventPhaseChanged, Kind: kind, ExternalID: externalID, Day: day, From: from, To: to}
}

func AttackRecorded(kind Kind, externalID string, attack Attack) Event {
	return Event{Type: EventAttackRecorded, Kind: kind, ExternalID: externalID, Day: attack.Day, Attack: &attack}
}

func UpgradeCompleted(kind Kind, externalID, entity string, level int) Event {
	return Event{Type: EventUpgradeCompleted, Kind: kind, ExternalID: externalID, Entity: entity, NewLevel: level}
}

func MilestoneCrossed(kind Kind, externalID string, value int) Event {
	return Event{Type: EventMilestoneCrossed, Kind: kind, ExternalID: externalID, Value: value}
}

func EpisodeStarted(kind Kind, externalID string, phase Phase) Event {
	return Event{Type: EventEpisodeStarted, Kind: kind, ExternalID: externalID, To: phase}
}

func EpisodeEnded(kind Kind, externalID string, outcome Outcome) Event {
	return Event{Type: EventEpisodeEnded, Kind: kind, ExternalID: externalID, To: PhaseEnded, Outcome: &outcome}
}

func ReservationFulfilled(kind Kind, externalID string, res Reservation) Event {
	return Event{Type: EventReservationFulfilled, Kind: kind, ExternalID: externalID, Reservation: &res}
}
