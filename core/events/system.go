package events

// KindSystemCommand identifies an out-of-band device command.
const KindSystemCommand Kind = "system.command"

// SystemCommandReboot is the only system command the core acts on.
const SystemCommandReboot = "reboot"

// SystemCommand carries an out-of-band device command such as "reboot".
type SystemCommand struct {
	Base
	Command string
}

func (e SystemCommand) String() string { return e.Command }

// NewSystemCommand creates a system command event.
func NewSystemCommand(command string) SystemCommand {
	return SystemCommand{Base: NewBase(KindSystemCommand), Command: command}
}
