package pwmsvc

// Topic tokens
const (
	TokConfig  = "config"
	TokPWM     = "pwm"
	TokChip    = "chip"
	TokCh      = "ch"
	TokInfo    = "info"
	TokStatus  = "status"
	TokState   = "state"
	TokControl = "control"
)

// Control verbs
const (
	CtrlRequest = "request"
	CtrlRelease = "release"
	CtrlApply   = "apply"
	CtrlGet     = "get"
	CtrlCapture = "capture"
	CtrlInfo    = "info"
	CtrlRemove  = "remove"
	CtrlList    = "list"
	CtrlRamp    = "ramp"
	CtrlStop    = "stop_ramp"
)

// Service levels published on pwm/state
const (
	LevelIdle    = "idle"
	LevelReady   = "ready"
	LevelError   = "error"
	LevelStopped = "stopped"
)
