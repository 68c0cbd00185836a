package main

import (
	"fmt"
	"io"

	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/protocol"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	"github.com/DoyleJ11/anifight-draft/internal/session"
)

func printUpdate(w io.Writer, u session.Update) {
	switch u := u.(type) {
	case session.Changed:
		printTurnLine(w, u.View)
	case session.Reconnecting:
		fmt.Fprintf(w, "connection lost; retry %d in %v\n", u.Attempt, u.Delay)
	case session.Reconnected:
		fmt.Fprintln(w, "reconnected")
	case session.ConnectionFailed:
		fmt.Fprintf(w, "could not reach the server: %v (type online to retry)\n", u.Err)
	case session.ServerError:
		fmt.Fprintf(w, "server: %s\n", u.Message)
	case session.CatalogFailed:
		fmt.Fprintf(w, "could not load the draft: %v\n", u.Err)
	case session.Ended:
		fmt.Fprintf(w, "game over: %s\n", u.Reason)
		if u.Result != nil {
			printResult(w, *u.Result)
		}
	}
}

// printTurnLine prints a one-line summary, but only when it says something new.
var lastLine string

func printTurnLine(w io.Writer, v session.View) {
	line := summary(v)
	if line == lastLine {
		return
	}
	lastLine = line
	fmt.Fprintln(w, line)
}

func summary(v session.View) string {
	s := v.Session
	switch {
	case s.Role == "":
		return fmt.Sprintf("[%s] %s", v.Room, v.Connection)
	case v.Loading:
		return fmt.Sprintf("[%s] loading draft", v.Room)
	case v.Draft.Phase == draft.PhaseIdle:
		who := "waiting for opponent"
		if s.OpponentPresent {
			who = "opponent here"
		}
		return fmt.Sprintf("[%s] you are %s, %s", v.Room, s.Role, who)
	case v.Draft.Phase == draft.PhaseActive:
		turn := "opponent's turn"
		if v.MyTurn {
			turn = "your turn"
		}
		extra := ""
		if v.OpponentDraw != nil {
			extra = fmt.Sprintf(", opponent drew %s (%s)", v.OpponentDraw.Entity.Name, v.OpponentDraw.Rating.Tier)
		}
		if v.GraceLeft > 0 {
			extra += fmt.Sprintf(", opponent gone (%d)", v.GraceLeft)
		}
		return fmt.Sprintf("[%s] %s, %d left%s", v.Room, turn, len(v.Draft.Remaining), extra)
	default:
		return fmt.Sprintf("[%s] %s", v.Room, v.Draft.Phase)
	}
}

func printView(w io.Writer, v session.View) {
	fmt.Fprintln(w, summary(v))
	if len(v.Slots) == 0 {
		return
	}
	me := protocol.PlayerFor(v.Session.Role)
	fmt.Fprintf(w, "%s (%d characters left)\n", v.Template.Name, len(v.Draft.Remaining))
	for _, k := range v.Slots {
		fmt.Fprintf(w, "  %-16s %-24s %s\n", k, occupant(v.Draft, me, k), occupant(v.Draft, me.Other(), k))
	}
	if p := v.Draft.Pending; p != nil {
		fmt.Fprintf(w, "holding %s (tier %s, %s%%)\n", p.Entity.Name, p.Rating.Tier, p.Rating.PercentileLabel())
	}
	if v.Result != nil {
		printResult(w, *v.Result)
	}
}

func occupant(s draft.State, p draft.Player, k draft.SlotKey) string {
	if e, ok := s.Assignments[p][k]; ok {
		return e.Name
	}
	return "-"
}

func printResult(w io.Writer, r score.Result) {
	for _, side := range []struct {
		name string
		team score.TeamResult
	}{{"player 1", r.Left}, {"player 2", r.Right}} {
		fmt.Fprintf(w, "%s: %s\n", side.name, side.team.Total)
		for _, row := range side.team.Breakdown {
			mark := ""
			if row.SpecialtyMatch {
				mark = fmt.Sprintf(" x%g", row.Multiplier)
			}
			fmt.Fprintf(w, "  %-16s %-24s %s%s\n", row.Role, row.CharacterName, row.RoleScore, mark)
		}
	}
	fmt.Fprintf(w, "winner: %s\n", r.Winner)
}
