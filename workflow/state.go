package workflow

type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
)

type Phase string

const (
	PhaseEmpty      Phase = "empty"
	PhasePreviewing Phase = "previewing"
	PhaseReady      Phase = "ready"
	PhaseProcessing Phase = "processing"
	PhaseDone       Phase = "done"
)

// State is a point-in-time snapshot of a workflow.
type State struct {
	Phase   Phase     `json:"phase"`
	Status  Status    `json:"status"`
	File    *FileInfo `json:"file,omitempty"`
	Preview string    `json:"preview,omitempty"`
	Result  string    `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    Kind      `json:"error_kind,omitempty"`
}

func phaseOf(selected, preview, result bool, status Status) Phase {
	switch {
	case !selected:
		return PhaseEmpty
	case status == StatusProcessing:
		return PhaseProcessing
	case result:
		return PhaseDone
	case preview:
		return PhaseReady
	default:
		return PhasePreviewing
	}
}
