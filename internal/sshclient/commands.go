package sshclient

import (
	"fmt"
	"strings"
	"time"
)

// ProbeReply is what CmdProbe prints on a healthy node.
const ProbeReply = "connected"

// Command is a remote shell line built by one of the Cmd constructors.
// Callers never hand raw strings to the client.
type Command struct {
	kind string
	line string
}

func (c Command) String() string { return c.line }

// Kind names the command for logs and tests ("probe", "mkdir", ...).
func (c Command) Kind() string { return c.kind }

func CmdProbe() Command {
	return Command{kind: "probe", line: "echo " + ProbeReply}
}

func CmdMkdir(dir string) Command {
	return Command{kind: "mkdir", line: "mkdir -p " + shellQuote(dir)}
}

// CmdNotify pops a notification in the remote media center UI.
func CmdNotify(title, message string, display time.Duration) Command {
	action := fmt.Sprintf("Notification(%s,%s,%d)",
		notificationText(title), notificationText(message), display.Milliseconds())
	return Command{kind: "notify", line: "kodi-send --action=" + shellQuote(action)}
}

// CmdDelayedKill detaches a shell that force-kills process after grace.
// The remote session returns as soon as the background job is spawned.
func CmdDelayedKill(process string, grace time.Duration) Command {
	secs := int(grace.Round(time.Second) / time.Second)
	inner := fmt.Sprintf("sleep %d && killall -9 %s", secs, shellQuote(process))
	return Command{
		kind: "restart",
		line: "nohup sh -c " + shellQuote(inner) + " >/dev/null 2>&1 &",
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// notificationText strips the separators of the builtin's argument list.
func notificationText(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', '(', ')', '"':
			return ' '
		}
		return r
	}, s)
}
