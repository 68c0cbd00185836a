package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/DoyleJ11/anifight-draft/internal/draft"
)

const (
	cmdHelp    = "help"
	cmdStart   = "start"
	cmdDraw    = "draw"
	cmdPlace   = "place"
	cmdReset   = "reset"
	cmdStatus  = "status"
	cmdOnline  = "online"
	cmdVisible = "visible"
	cmdQuit    = "quit"
)

const helpText = `commands:
  start TEMPLATE ANIME[,ANIME...]   host only
  draw
  place ROLE[-INDEX]                e.g. place CAPTAIN or place SUPPORT-1
  reset                             play again with the same pool
  status
  online | visible                  retry the connection now
  quit
`

var errEmpty = errors.New("type help for commands")

type command struct {
	name       string
	templateID int64
	poolIDs    []int64
	slot       draft.SlotKey
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errEmpty
	}
	cmd := command{name: strings.ToLower(fields[0])}
	args := fields[1:]

	switch cmd.name {
	case cmdStart:
		if len(args) != 2 {
			return command{}, fmt.Errorf("usage: start TEMPLATE ANIME[,ANIME...]")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return command{}, fmt.Errorf("template id %q: %w", args[0], err)
		}
		cmd.templateID = id
		for _, s := range strings.Split(args[1], ",") {
			if s == "" {
				continue
			}
			a, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return command{}, fmt.Errorf("anime id %q: %w", s, err)
			}
			cmd.poolIDs = append(cmd.poolIDs, a)
		}
		if len(cmd.poolIDs) == 0 {
			return command{}, fmt.Errorf("at least one anime id is required")
		}
	case cmdPlace:
		if len(args) == 0 {
			return command{}, fmt.Errorf("usage: place ROLE[-INDEX]")
		}
		// role names may contain spaces ("VICE CAPTAIN-0")
		slot, err := draft.ParseSlotKey(strings.ToUpper(strings.Join(args, " ")))
		if err != nil {
			return command{}, err
		}
		cmd.slot = slot
	case cmdHelp, cmdDraw, cmdReset, cmdStatus, cmdOnline, cmdVisible, cmdQuit:
		if len(args) != 0 {
			return command{}, fmt.Errorf("%s takes no arguments", cmd.name)
		}
	default:
		return command{}, fmt.Errorf("unknown command %q; type help", cmd.name)
	}
	return cmd, nil
}
