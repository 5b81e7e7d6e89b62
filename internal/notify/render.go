package notify

import (
	"fmt"
	"strings"

	"clan-tracker/internal/domain"
)

const (
	colorInfo    = 0x3498db
	colorSuccess = 0x2ecc71
	colorWarning = 0xf1c40f
	colorDanger  = 0xe74c3c
)

type Message struct {
	Title       string
	Description string
	Color       int
}

var kindLabels = map[domain.Kind]string{
	domain.KindWar:     "War",
	domain.KindCWL:     "CWL",
	domain.KindCapital: "Capital",
}

func Render(n Notification) Message {
	ev := n.Event
	clan := n.Clan.Name
	if clan == "" && n.Record != nil {
		clan = n.Record.ClanName
	}
	if clan == "" {
		clan = n.Clan.Tag
	}
	opponent := ""
	if n.Record != nil {
		opponent = n.Record.OpponentName
		if day := n.Record.Day(ev.Day); day != nil && day.OpponentName != "" {
			opponent = day.OpponentName
		}
	}

	label := kindLabels[ev.Kind]
	if ev.Day > 0 {
		label = fmt.Sprintf("%s day %d", label, ev.Day)
	}

	switch ev.Type {
	case domain.EventEpisodeStarted:
		desc := fmt.Sprintf("%s started tracking (%s)", clan, ev.To)
		if opponent != "" {
			desc = fmt.Sprintf("%s vs %s (%s)", clan, opponent, ev.To)
		}
		return Message{Title: label + " started", Description: desc, Color: colorInfo}

	case domain.EventPhaseChanged:
		return Message{
			Title:       label + " phase changed",
			Description: fmt.Sprintf("%s: %s → %s", clan, ev.From, ev.To),
			Color:       colorInfo,
		}

	case domain.EventAttackRecorded:
		a := ev.Attack
		if a == nil {
			break
		}
		name := a.AttackerName
		if name == "" {
			name = a.AttackerTag
		}
		return Message{
			Title:       label + " attack",
			Description: fmt.Sprintf("%s hit base %d %s %.0f%%", name, a.DefenderPosition, stars(a.Stars), a.Destruction),
			Color:       colorForStars(a.Stars),
		}

	case domain.EventUpgradeCompleted:
		return Message{
			Title:       label + " upgrade",
			Description: fmt.Sprintf("%s: %s reached level %d", clan, ev.Entity, ev.NewLevel),
			Color:       colorSuccess,
		}

	case domain.EventMilestoneCrossed:
		desc := fmt.Sprintf("%s reached %d", clan, ev.Value)
		if ev.Kind == domain.KindCapital {
			desc = fmt.Sprintf("%s looted %d capital gold this raid weekend", clan, ev.Value)
		} else if ev.Kind == domain.KindWar {
			desc = fmt.Sprintf("%s has a perfect war: %d stars", clan, ev.Value)
		}
		return Message{Title: label + " milestone", Description: desc, Color: colorSuccess}

	case domain.EventReservationFulfilled:
		res := ev.Reservation
		if res == nil || res.Result == nil {
			break
		}
		return Message{
			Title: label + " call fulfilled",
			Description: fmt.Sprintf("Base %d called by %s: %s %.0f%%", res.BaseNumber, res.OwnerID,
				stars(res.Result.Stars), res.Result.Destruction),
			Color: colorForStars(res.Result.Stars),
		}

	case domain.EventEpisodeEnded:
		out := ev.Outcome
		if out == nil {
			break
		}
		desc := fmt.Sprintf("%s: %s", clan, out.Result)
		if ev.Kind == domain.KindCapital && n.Record != nil && n.Record.Capital != nil {
			raid := n.Record.Capital.Raid
			desc = fmt.Sprintf("%s raid weekend %d: %d capital gold from %d attacks", clan, raid.Ordinal, raid.Loot, raid.Attacks)
		} else if ev.Kind == domain.KindCWL {
			desc = fmt.Sprintf("%s: %d wins, %d losses, %d ties", clan, out.Wins, out.Losses, out.Ties)
		} else if ev.Kind == domain.KindWar {
			desc = fmt.Sprintf("%s %d★ %.2f%% vs %s %d★ %.2f%%: %s", clan, out.Score.ClanStars, out.Score.ClanDestruction,
				orDash(opponent), out.Score.OpponentStars, out.Score.OpponentDestruction, out.Result)
		}
		return Message{Title: label + " ended", Description: desc, Color: colorForResult(out.Result)}
	}

	return Message{Title: label, Description: fmt.Sprintf("%s: %s", clan, ev.Type), Color: colorInfo}
}

func stars(n int) string {
	if n < 0 {
		n = 0
	}
	return strings.Repeat("★", n) + strings.Repeat("☆", max(0, 3-n))
}

func colorForStars(n int) int {
	switch n {
	case 3:
		return colorSuccess
	case 2:
		return colorWarning
	}
	return colorDanger
}

func colorForResult(r domain.Result) int {
	switch r {
	case domain.ResultWin:
		return colorSuccess
	case domain.ResultLose:
		return colorDanger
	case domain.ResultTie:
		return colorWarning
	}
	return colorInfo
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
