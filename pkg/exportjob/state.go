package exportjob

type State int

const (
	Idle State = iota
	Authorizing
	KickingOff
	Polling
	ManifestReady
	Downloading
	Cancelling
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:          "idle",
	Authorizing:   "authorizing",
	KickingOff:    "kicking-off",
	Polling:       "polling",
	ManifestReady: "manifest-ready",
	Downloading:   "downloading",
	Cancelling:    "cancelling",
	Done:          "done",
	Failed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
