package vash

import "fmt"

// Pipeline names the two pipelines an Index runs.
type Pipeline string

const (
	// PipelineTrain builds and commits a vocabulary and database.
	PipelineTrain Pipeline = "train"
	// PipelineQuery ranks the committed database against a video.
	PipelineQuery Pipeline = "query"
)

// Phase is the state of the running pipeline.
//
// Training moves Idle, Collecting, Clustering, Encoding, Persisted.
// A query moves Idle, Extracting, Encoding, Matching, Ranked.
// Any failure ends in Failed.
type Phase int32

const (
	// PhaseIdle means no pipeline is running.
	PhaseIdle Phase = iota
	// PhaseCollecting extracts training features into the descriptor pool.
	PhaseCollecting
	// PhaseClustering runs k-means over the pool.
	PhaseClustering
	// PhaseEncoding quantizes features to visual words. Both pipelines use it.
	PhaseEncoding
	// PhasePersisted means the run is committed.
	PhasePersisted
	// PhaseExtracting reads the query video's features.
	PhaseExtracting
	// PhaseMatching scores the database against the query.
	PhaseMatching
	// PhaseRanked means the query results are ready.
	PhaseRanked
	// PhaseFailed means the last pipeline returned an error.
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:       "idle",
	PhaseCollecting: "collecting",
	PhaseClustering: "clustering",
	PhaseEncoding:   "encoding",
	PhasePersisted:  "persisted",
	PhaseExtracting: "extracting",
	PhaseMatching:   "matching",
	PhaseRanked:     "ranked",
	PhaseFailed:     "failed",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// Terminal reports whether p ends a pipeline.
func (p Phase) Terminal() bool {
	return p == PhasePersisted || p == PhaseRanked || p == PhaseFailed
}
