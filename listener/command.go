package listener

type CommandType int

const (
	Start CommandType = iota
	Stop
	UpdateText
)

func (t CommandType) String() string {
	switch t {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case UpdateText:
		return "update_text"
	}
	return "unknown"
}

// Result says where UpdateText text came from.
type Result int

const (
	ResultNone Result = iota // set by the host, not recognized
	ResultPartial
	ResultFinal
)

// Command is a control message. Start and Stop come from the overlay;
// UpdateText goes to it.
type Command struct {
	Type   CommandType
	Text   string
	Result Result
}

func StartCommand() Command { return Command{Type: Start} }

func StopCommand() Command { return Command{Type: Stop} }

func UpdateTextCommand(text string) Command {
	return Command{Type: UpdateText, Text: text}
}

func resultCommand(text string, r Result) Command {
	return Command{Type: UpdateText, Text: text, Result: r}
}
