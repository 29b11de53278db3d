package domain

// Wire values of the "type" field in a command payload.
const (
	CommandTypeYoutube   = "youtube"
	CommandTypeStream    = "m3u"
	CommandTypeStreamAlt = "stream"
	CommandTypeStop      = "stop"
	CommandTypeHeartbeat = "heartbeat"
)

// Command is one decoded remote-control instruction. The set of
// implementations is closed; switch on the concrete type.
type Command interface {
	Type() string
	isCommand()
}

type YoutubeCommand struct {
	VideoID string `json:"videoId"`
}

func (YoutubeCommand) Type() string { return CommandTypeYoutube }
func (YoutubeCommand) isCommand()   {}

// StreamCommand asks the controller to play an HLS/m3u (or any other
// scheme) URL, replacing whatever stream session is active.
type StreamCommand struct {
	URL string `json:"url"`
}

func (StreamCommand) Type() string { return CommandTypeStream }
func (StreamCommand) isCommand()   {}

type StopCommand struct{}

func (StopCommand) Type() string { return CommandTypeStop }
func (StopCommand) isCommand()   {}

// HeartbeatCommand is a liveness signal and is never executed.
type HeartbeatCommand struct{}

func (HeartbeatCommand) Type() string { return CommandTypeHeartbeat }
func (HeartbeatCommand) isCommand()   {}

// UnrecognizedCommand keeps the raw type of a payload this client does not
// understand so it can be logged.
type UnrecognizedCommand struct {
	RawType string `json:"type"`
}

func (c UnrecognizedCommand) Type() string { return c.RawType }
func (UnrecognizedCommand) isCommand()     {}
