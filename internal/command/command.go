// Package command contains the parser of the check commands posted in
// discussions and the finder of the links in their texts.
package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
)

// Action is the action requested by a command.
type Action uint8

// Valid [Action] values.
const (
	ActionIgnore Action = iota
	ActionCheck
	ActionHelp
)

// String implements the [fmt.Stringer] interface for Action.
func (a Action) String() (s string) {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionCheck:
		return "check"
	case ActionHelp:
		return "help"
	default:
		return fmt.Sprintf("!bad_action_%d", a)
	}
}

// TargetParent is the target of a command that checks the links of the text it
// replies to.
const TargetParent = "parent"

// Command is a parsed check command.
type Command struct {
	// Target is the URL to check or [TargetParent].  It is empty unless Action
	// is [ActionCheck].
	Target string

	// Modifier is the requested form of the reply.  It is empty unless Action
	// is [ActionCheck].
	Modifier linkcheck.ReportModifier

	// Action is the requested action.
	Action Action
}

// commandRe matches a command along with its parameters.
var commandRe = regexp.MustCompile(`!linkcheck(?:|(?:\s+(?:\S+?))+)!`)

// ignore is the command that requests nothing.
var ignore = &Command{Action: ActionIgnore}

// Parse returns the first command found in text.  The grammar is:
//
//	!linkcheck!
//	!linkcheck help!
//	!linkcheck [this <url>] [details|summary]!
//
// If there is no valid command, c.Action is [ActionIgnore].
func Parse(text string) (c *Command) {
	cmd := commandRe.FindString(text)
	if cmd == "" {
		return ignore
	}

	params := strings.Fields(cmd[1 : len(cmd)-1])[1:]
	if len(params) == 0 {
		return &Command{
			Target:   TargetParent,
			Modifier: linkcheck.ReportModifierDetails,
			Action:   ActionCheck,
		}
	}

	if params[0] == "help" {
		return &Command{Action: ActionHelp}
	}

	target := TargetParent
	if params[0] == "this" {
		if len(params) < 2 {
			return ignore
		}

		target, params = params[1], params[2:]
	}

	mod := linkcheck.ReportModifierDetails
	if len(params) > 0 {
		mod = linkcheck.ReportModifier(params[0])
		if mod != linkcheck.ReportModifierDetails && mod != linkcheck.ReportModifierSummary {
			return ignore
		}
	}

	return &Command{
		Target:   target,
		Modifier: mod,
		Action:   ActionCheck,
	}
}

// linkRe matches the links in a text.
var linkRe = regexp.MustCompile(`\b(?:https?://|www\.)[-a-zA-Z0-9+&@#/%?=~_|!:,.;]*[-a-zA-Z0-9+&@#/%=~_|]`)

// FindLinks returns all links in text in the order they appear.
func FindLinks(text string) (links []string) {
	return linkRe.FindAllString(text, -1)
}

// HelpText is the reply to the help command.
const HelpText = `Usage:

    !linkcheck!                          check the links of the parent post
    !linkcheck summary!                  same, with a short report
    !linkcheck this <url> [details|summary]!
                                         check the given link
    !linkcheck help!                     show this text

The pages are loaded in a browser and every request they make is checked
against the configured filter lists.
`
