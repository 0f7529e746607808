package domain

import "time"

// Mode selects how a job binds reference imagery. one-image renders the
// garment against a described background; two-image binds a provided
// background photograph that must be preserved as-is.
type Mode string

const (
	ModeOneImage Mode = "one-image"
	ModeTwoImage Mode = "two-image"
	ModeAuto     Mode = "auto"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusCreated JobStatus = "created"
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Pose is a body-orientation label; each requested pose yields one
// independent render.
type Pose string

const (
	PoseFace         Pose = "face"
	PoseThreeQuarter Pose = "three-quarter"
	PoseProfile      Pose = "profile"
)

// MaxPosesPerJob caps the per-job render count.
const MaxPosesPerJob = 3

// NormalizePoses filters unknown labels, dedupes, caps at MaxPosesPerJob and
// defaults to a single face pose when nothing valid remains.
func NormalizePoses(raw []string) []Pose {
	seen := make(map[Pose]bool, len(raw))
	var out []Pose
	for _, r := range raw {
		p := Pose(r)
		switch p {
		case PoseFace, PoseThreeQuarter, PoseProfile:
		default:
			continue
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) == MaxPosesPerJob {
			break
		}
	}
	if len(out) == 0 {
		out = []Pose{PoseFace}
	}
	return out
}

// Options is the structured option set interpreted by the prompt composer.
// The job store treats it as opaque JSON.
type Options struct {
	Gender     string `json:"gender,omitempty"`
	Size       string `json:"size,omitempty"`
	Style      string `json:"style,omitempty"`
	Background string `json:"background,omitempty"`
	Product    string `json:"product,omitempty"`
}

// Results is the job-level outcome written once per run. Images, Poses and
// ErrorsByIndex always share the cardinality of the requested poses; a nil
// image slot means that pose produced no render.
type Results struct {
	Images        []*string      `json:"images"`
	Poses         []Pose         `json:"poses"`
	ErrorsByIndex map[int]string `json:"errorsByIndex,omitempty"`
}

// Job is the persisted unit of work tracking one end-to-end multi-pose
// generation request.
type Job struct {
	ID               string
	Owner            string
	RequestedMode    Mode
	FinalMode        Mode
	Options          Options
	Poses            []Pose
	MainImage        string
	EnvironmentImage string
	PersonImage      string
	Status           JobStatus
	Provider         string
	Results          *Results
	Debug            map[string]any
	IdempotencyKey   string
	Error            string
	CreatedAt        time.Time
	StartedAt        *time.Time
	EndedAt          *time.Time
}

// GenerationResult is one pose attempt. Rows are append-only: re-running a
// job accumulates an audit trail while the job-level Results reflect only
// the latest run.
type GenerationResult struct {
	ID          string
	JobID       string
	Pose        Pose
	Image       string
	Error       string
	Instruction string
	LatencyMs   int64
	CreatedAt   time.Time
}

// ReferenceKind tags a saved reference image.
type ReferenceKind string

const (
	ReferenceEnvironment ReferenceKind = "environment"
	ReferencePerson      ReferenceKind = "person"
)

// ReferenceImage is a previously saved background or persona image. At most
// one reference per (owner, kind) carries IsDefault.
type ReferenceImage struct {
	ID        string
	Owner     string
	Kind      ReferenceKind
	Gender    string
	Image     string
	IsDefault bool
	CreatedAt time.Time
}
