// Package pipeline holds the per-kind stage table. Transition validation, resume
// points, progress mapping and progress-bar step indexes are all derived from it.
package pipeline

import (
	"clip-worker/constant"
)

// Stage describes one working state of a kind's sequence.
type Stage struct {
	Status constant.JobStatus
	Label  string
}

var sequences = map[constant.JobKind][]Stage{
	constant.JobKindExtract: {
		{Status: constant.JobStatusDownloading, Label: "Download"},
		{Status: constant.JobStatusTranscribing, Label: "Transcribe"},
		{Status: constant.JobStatusAnalyzing, Label: "Analyze"},
		{Status: constant.JobStatusClipping, Label: "Clip"},
	},
	constant.JobKindGenerate: {
		{Status: constant.JobStatusDownloading, Label: "Download"},
		{Status: constant.JobStatusGenerating, Label: "Generate"},
	},
}

// Kinds lists every kind that has a stage sequence.
func Kinds() []constant.JobKind {
	return []constant.JobKind{constant.JobKindExtract, constant.JobKindGenerate}
}

// Stages returns a copy of the working stages for kind, nil for unknown kinds.
func Stages(kind constant.JobKind) []Stage {
	seq, ok := sequences[kind]
	if !ok {
		return nil
	}
	out := make([]Stage, len(seq))
	copy(out, seq)
	return out
}

// Sequence returns the full status path PENDING, working states..., COMPLETED.
func Sequence(kind constant.JobKind) []constant.JobStatus {
	seq, ok := sequences[kind]
	if !ok {
		return nil
	}
	out := make([]constant.JobStatus, 0, len(seq)+2)
	out = append(out, constant.JobStatusPending)
	for _, st := range seq {
		out = append(out, st.Status)
	}
	return append(out, constant.JobStatusCompleted)
}

// StageIndex returns the 0-based position of status among kind's working stages,
// -1 for PENDING and len(stages) for COMPLETED. ok is false for statuses outside
// the sequence (including FAILED).
func StageIndex(kind constant.JobKind, status constant.JobStatus) (int, bool) {
	seq, ok := sequences[kind]
	if !ok {
		return 0, false
	}
	switch status {
	case constant.JobStatusPending:
		return -1, true
	case constant.JobStatusCompleted:
		return len(seq), true
	}
	for i, st := range seq {
		if st.Status == status {
			return i, true
		}
	}
	return 0, false
}

// StepIndex is the progress-bar position of status in Sequence(kind).
func StepIndex(kind constant.JobKind, status constant.JobStatus) (int, bool) {
	i, ok := StageIndex(kind, status)
	if !ok {
		return 0, false
	}
	return i + 1, true
}

// StepCount is the number of entries in Sequence(kind).
func StepCount(kind constant.JobKind) int {
	seq, ok := sequences[kind]
	if !ok {
		return 0
	}
	return len(seq) + 2
}

// Next returns the status following current in kind's sequence.
func Next(kind constant.JobKind, current constant.JobStatus) (constant.JobStatus, bool) {
	path := Sequence(kind)
	for i := 0; i < len(path)-1; i++ {
		if path[i] == current {
			return path[i+1], true
		}
	}
	return "", false
}

// CanTransition allows only the next step of the sequence, or FAILED from any
// non-terminal status of the sequence.
func CanTransition(kind constant.JobKind, from, to constant.JobStatus) bool {
	if _, ok := StageIndex(kind, from); !ok || from.Terminal() {
		return false
	}
	if to == constant.JobStatusFailed {
		return true
	}
	next, ok := Next(kind, from)
	return ok && next == to
}

// Progress is the percentage assigned on entering status.
func Progress(kind constant.JobKind, status constant.JobStatus) int {
	return StageProgress(kind, status, 0)
}

// StageProgress maps a fraction of work done inside status to an overall
// percentage. Stages are evenly spaced; a stage never reports the next stage's
// boundary so progress only reaches it by advancing status.
func StageProgress(kind constant.JobKind, status constant.JobStatus, fraction float64) int {
	i, ok := StageIndex(kind, status)
	if !ok {
		return 0
	}
	n := len(sequences[kind])
	switch {
	case i < 0:
		return 0
	case i >= n:
		return 100
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	lo := i * 100 / n
	hi := (i+1)*100/n - 1
	p := int((float64(i) + fraction) * 100 / float64(n))
	if p < lo {
		p = lo
	}
	if p > hi {
		p = hi
	}
	return p
}
