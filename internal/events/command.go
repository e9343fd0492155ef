package events

import (
	"strings"

	"github.com/Proton-105/hydration-bot/internal/domain"
)

// Command is a text command understood by the bot.
type Command string

const (
	CommandDrate Command = "drate"
	CommandQuit  Command = "quit"
)

var commands = map[string]Command{
	string(CommandDrate): CommandDrate,
	string(CommandQuit):  CommandQuit,
}

// ParseCommand maps a command name to a known Command.
func ParseCommand(name string) (Command, bool) {
	cmd, ok := commands[name]
	return cmd, ok
}

// OwnerOnly reports whether only bot owners may run the command.
func (c Command) OwnerOnly() bool {
	return c == CommandQuit
}

func (c Command) String() string {
	return string(c)
}

// Invocation is one parsed command message.
type Invocation struct {
	User    domain.UserID
	Command Command
	// Arg is the first argument, empty when none was given. Further arguments are ignored.
	Arg string
}

// ParseInvocation extracts a command from a chat message such as "!drate off".
// A "@botname" suffix on the command name is dropped. ok is false when text is not a
// known command.
func ParseInvocation(text, prefix string, user domain.UserID) (Invocation, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Invocation{}, false
	}

	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return Invocation{}, false
	}

	name, _, _ := strings.Cut(fields[0], "@")
	cmd, ok := ParseCommand(name)
	if !ok {
		return Invocation{}, false
	}

	inv := Invocation{User: user, Command: cmd}
	if len(fields) > 1 {
		inv.Arg = fields[1]
	}

	return inv, true
}
