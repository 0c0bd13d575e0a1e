// Package job runs compositions: it validates a Request, drives the media
// stages through the Composer and tracks every run as a Job whose stage
// follows a fixed state machine.
package job

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage represents the current state of a Job.
type Stage string

const (
	// StagePending indicates the job is recorded but no work has started.
	StagePending Stage = "PENDING"
	// StageFetching indicates the inputs are being copied into the workspace.
	StageFetching Stage = "FETCHING"
	// StageRendering indicates images are being rendered into clips.
	StageRendering Stage = "RENDERING"
	// StageAttachingMedia indicates per-clip audio and subtitles are being attached.
	StageAttachingMedia Stage = "ATTACHING_MEDIA"
	// StageSequencing indicates clips are being concatenated.
	StageSequencing Stage = "SEQUENCING"
	// StageBumpers indicates background audio and opening/ending clips are being applied.
	StageBumpers Stage = "BUMPERS"
	// StageCover indicates the cover image is being embedded.
	StageCover Stage = "COVER"
	// StagePublishing indicates the output is being copied to durable storage.
	StagePublishing Stage = "PUBLISHING"
	// StageDone indicates the job finished successfully.
	StageDone Stage = "DONE"
	// StageFailed indicates a stage failed.
	StageFailed Stage = "FAILED"
)

// Label is the lower-case stage name used in logs and metrics.
func (s Stage) Label() string {
	return strings.ToLower(string(s))
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// pipeline is the order in which stages run.
var pipeline = []Stage{
	StagePending,
	StageFetching,
	StageRendering,
	StageAttachingMedia,
	StageSequencing,
	StageBumpers,
	StageCover,
	StagePublishing,
	StageDone,
}

// canTransition allows moving to the next stage, or failing from any
// non-terminal stage.
func canTransition(from, to Stage) bool {
	if from == StageDone || from == StageFailed {
		return false
	}
	if to == StageFailed {
		return true
	}
	for i := 0; i < len(pipeline)-1; i++ {
		if pipeline[i] == from {
			return pipeline[i+1] == to
		}
	}
	return false
}

// Output is where a finished job's video was published.
type Output struct {
	// Path is the durable local file.
	Path string
	// Location is the URL or path handed to the requester.
	Location string
	// Duration is the playable length in seconds.
	Duration float64
}

// Job tracks one composition.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Stage is the current pipeline state.
	Stage Stage
	// Images is the number of input images.
	Images int
	// Error contains the failure message if the job failed.
	Error string
	// FailedStage is the stage that was running when the job failed.
	FailedStage Stage
	// Output is set once the job is done.
	Output Output
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the job reached DONE or FAILED.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID in the PENDING stage.
func New() *Job {
	return NewWithID(uuid.NewString())
}

// NewWithID creates a new PENDING Job with the specified ID.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Stage:     StagePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job stage.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(stage Stage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transition(stage)
}

// transition must be called with j.mu held.
func (j *Job) transition(stage Stage) error {
	if !canTransition(j.Stage, stage) {
		return ErrInvalidTransition
	}

	if stage == StageFailed {
		j.FailedStage = j.Stage
	}
	j.Stage = stage
	j.UpdatedAt = time.Now()
	if stage == StageDone || stage == StageFailed {
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Complete records the output and transitions the job from PUBLISHING to DONE.
func (j *Job) Complete(out Output) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(StageDone); err != nil {
		return err
	}
	j.Output = out
	return nil
}

// Fail transitions the job to FAILED with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(StageFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// GetStage returns the current stage (thread-safe).
func (j *Job) GetStage() Stage {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Stage
}

// IsTerminal returns true if the job is DONE or FAILED.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Stage == StageDone || j.Stage == StageFailed
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Stage:       j.Stage,
		Images:      j.Images,
		Error:       j.Error,
		FailedStage: j.FailedStage,
		Output:      j.Output,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
}
