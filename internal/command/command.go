// Package command turns one protocol message into a Command. Every alias
// is normalized to the same Kind before dispatch.
package command

import "strings"

type Kind int

const (
	Invalid Kind = iota
	InvalidGroup
	Broadcast
	DirectMessage
	GroupCreate
	GroupJoin
	GroupLeave
	GroupMessage
	GroupMembers
	Quit
)

var kindNames = map[Kind]string{
	Invalid:       "invalid",
	InvalidGroup:  "invalid_group",
	Broadcast:     "broadcast",
	DirectMessage: "direct_message",
	GroupCreate:   "group_create",
	GroupJoin:     "group_join",
	GroupLeave:    "group_leave",
	GroupMessage:  "group_message",
	GroupMembers:  "group_members",
	Quit:          "quit",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Command is a parsed message. Target holds the recipient username or the
// group name; Text holds the free-text trailing message, if any.
type Command struct {
	Kind   Kind
	Target string
	Text   string
}

type groupAction struct {
	kind     Kind
	withText bool
}

var groupActions = map[string]groupAction{
	"create":        {GroupCreate, false},
	"create_group":  {GroupCreate, false},
	"join":          {GroupJoin, false},
	"join_group":    {GroupJoin, false},
	"leave":         {GroupLeave, false},
	"leave_group":   {GroupLeave, false},
	"msg":           {GroupMessage, true},
	"group_msg":     {GroupMessage, true},
	"members":       {GroupMembers, false},
	"group_members": {GroupMembers, false},
}

// Parse reads the first whitespace-delimited token as the command name.
// Fixed arguments are the following tokens; the trailing text is whatever
// follows them minus the single separator character, up to the first newline. A command missing its
// name argument is invalid.
func Parse(message string) Command {
	s := scanner{input: message}

	switch name := s.token(); name {
	case "/broadcast":
		return Command{Kind: Broadcast, Text: s.rest()}
	case "/msg":
		return withTarget(&s, DirectMessage, true, Invalid)
	case "/group":
		action, ok := groupActions[s.token()]
		if !ok {
			return Command{Kind: InvalidGroup}
		}
		return withTarget(&s, action.kind, action.withText, InvalidGroup)
	case "/create_group", "/join_group", "/leave_group", "/group_msg", "/group_members":
		action := groupActions[name[1:]]
		return withTarget(&s, action.kind, action.withText, Invalid)
	case "/quit":
		return Command{Kind: Quit}
	default:
		return Command{Kind: Invalid}
	}
}

func withTarget(s *scanner, kind Kind, withText bool, invalid Kind) Command {
	target := s.token()
	if target == "" {
		return Command{Kind: invalid}
	}
	cmd := Command{Kind: kind, Target: target}
	if withText {
		cmd.Text = s.rest()
	}
	return cmd
}

type scanner struct {
	input string
	pos   int
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func (s *scanner) token() string {
	for s.pos < len(s.input) && isSpace(s.input[s.pos]) {
		s.pos++
	}
	start := s.pos
	for s.pos < len(s.input) && !isSpace(s.input[s.pos]) {
		s.pos++
	}
	return s.input[start:s.pos]
}

func (s *scanner) rest() string {
	line := s.input[s.pos:]
	s.pos = len(s.input)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if line == "" {
		return ""
	}
	return line[1:]
}
