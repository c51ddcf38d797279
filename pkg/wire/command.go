package wire

// Command is one of the fixed actuator commands a field node accepts.
type Command string

const (
	CommandOpen       Command = "OPEN"
	CommandClose      Command = "CLOSE"
	CommandStop       Command = "STOP"
	CommandLatch      Command = "LATCH"
	CommandUnlatch    Command = "UNLATCH"
	CommandTimerClose Command = "TIMER_CLOSE"
)

// Ack is the payload a field node radios back after executing a command.
const Ack = "ACK"

// Commands lists the full command vocabulary.
var Commands = []Command{
	CommandOpen,
	CommandClose,
	CommandStop,
	CommandLatch,
	CommandUnlatch,
	CommandTimerClose,
}

// ParseCommand matches text against the command vocabulary.
// The match is exact and case-sensitive; unknown text returns false.
func ParseCommand(text string) (Command, bool) {
	switch Command(text) {
	case CommandOpen, CommandClose, CommandStop, CommandLatch, CommandUnlatch, CommandTimerClose:
		return Command(text), true
	default:
		return "", false
	}
}
