package meter

import "fmt"

// Phase is the tag of the recording state
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCheckingPermission
	PhaseMonitoring
	PhaseCountdown
	PhaseRecording
	PhaseResults
	PhaseSubmitting
	PhaseSubmitted
	PhasePermissionDenied
	PhaseError
)

var phaseNames = map[Phase]string{
	PhaseIdle:               "idle",
	PhaseCheckingPermission: "checking_permission",
	PhaseMonitoring:         "monitoring",
	PhaseCountdown:          "countdown",
	PhaseRecording:          "recording",
	PhaseResults:            "results",
	PhaseSubmitting:         "submitting",
	PhaseSubmitted:          "submitted",
	PhasePermissionDenied:   "permission_denied",
	PhaseError:              "error",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// OwnsCapture reports whether a live capture session belongs to the phase
func (p Phase) OwnsCapture() bool {
	return p == PhaseMonitoring || p == PhaseCountdown || p == PhaseRecording
}

// State is a read-only snapshot of the machine. Only the fields relevant
// to Phase carry meaning:
//
//	Monitoring          Level
//	Countdown           Level, SecondsLeft
//	Recording           Elapsed, Energy, Peak (Level mirrors the last block)
//	Results             Energy, Peak, Score, SubmitError after a failed submit
//	PermissionDenied    Reason
//	Error               Reason
type State struct {
	Phase       Phase
	DeviceID    string
	Level       float64
	SecondsLeft int
	Elapsed     float64
	Energy      float64
	Peak        float64
	Score       int
	Reason      string
	SubmitError string
}

// Measurement is the finished result of one recording
type Measurement struct {
	BandID            string  `json:"band_id"`
	EnergyLevel       float64 `json:"energy_level"`
	PeakVolume        float64 `json:"peak_volume"`
	RecordingDuration float64 `json:"recording_duration"`
	CrowdScore        int     `json:"crowd_score"`
}
