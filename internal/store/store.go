// Package store holds the in-memory source of truth for the pipeline list
// and, while a detail view is open, the stages of one selected pipeline.
package store

import (
	"sync"

	"pipewatch/pkg/models"
)

// Logger defines the logging interface compatible with the application
// logger.
type Logger interface {
	Debug(msg string, args ...any)
}

// Store is the authoritative local snapshot. It is only mutated by the
// dispatcher's event loop; the mutex keeps each operation atomic with
// respect to readers, so a reader sees either the pre- or post-state of an
// operation, never a partial one.
type Store struct {
	mu sync.Mutex

	pipelines     map[string]models.Pipeline
	pipelineOrder []string

	activePipelineID string
	stages           map[string]models.Stage
	stageOrder       []string

	log Logger
}

// New creates an empty Store.
func New(log Logger) *Store {
	return &Store{
		pipelines: map[string]models.Pipeline{},
		stages:    map[string]models.Stage{},
		log:       log,
	}
}

// ReplacePipelines replaces the whole pipeline list with the result of a
// pull fetch, preserving server order.
func (s *Store) ReplacePipelines(list []models.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pipelines = make(map[string]models.Pipeline, len(list))
	s.pipelineOrder = s.pipelineOrder[:0]
	for _, p := range list {
		if _, seen := s.pipelines[p.PipelineID]; !seen {
			s.pipelineOrder = append(s.pipelineOrder, p.PipelineID)
		}
		s.pipelines[p.PipelineID] = p
	}
}

// UpsertPipelineStatus sets the status of a known pipeline. Unknown ids are
// a logged no-op: pipelines only ever enter the store through a pull fetch,
// never through the stream.
func (s *Store) UpsertPipelineStatus(pipelineID string, status models.PipelineStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pipelines[pipelineID]
	if !ok {
		s.log.Debug("ignoring status %q for unknown pipeline %s", status, pipelineID)
		return
	}
	p.Status = status
	s.pipelines[pipelineID] = p
}

// OpenPipelineDetail marks pipelineID as the active detail view and seeds
// the stage set from the pull fetch. Server-reported statuses are trusted
// at open time; a stage the server reports without a status starts as
// Pending until the stream says otherwise.
func (s *Store) OpenPipelineDetail(pipelineID string, initial []models.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activePipelineID = pipelineID
	s.stages = make(map[string]models.Stage, len(initial))
	s.stageOrder = s.stageOrder[:0]
	for _, st := range initial {
		if st.Status == "" {
			st.Status = models.StagePending
		}
		if _, seen := s.stages[st.StageID]; !seen {
			s.stageOrder = append(s.stageOrder, st.StageID)
		}
		s.stages[st.StageID] = st
	}
}

// UpsertStageStatus merges one stage status into the active detail view.
// A known stage is overwritten in place (last-applied-wins; a stale event
// may regress the status and that is accepted). An unknown stage is
// appended as newly discovered: stage existence can be learned from the
// stream alone.
func (s *Store) UpsertStageStatus(stageID string, status models.StageStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.stages[stageID]; ok {
		st.Status = status
		s.stages[stageID] = st
		return
	}
	s.stages[stageID] = models.Stage{StageID: stageID, PipelineID: s.activePipelineID, Status: status}
	s.stageOrder = append(s.stageOrder, stageID)
}

// CloseDetail clears the active detail view and its stage set.
func (s *Store) CloseDetail() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activePipelineID = ""
	s.stages = map[string]models.Stage{}
	s.stageOrder = s.stageOrder[:0]
}

// Clear drops all state. Called on session teardown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pipelines = map[string]models.Pipeline{}
	s.pipelineOrder = s.pipelineOrder[:0]
	s.activePipelineID = ""
	s.stages = map[string]models.Stage{}
	s.stageOrder = s.stageOrder[:0]
}

// Pipelines returns a copy of the pipeline list in server order.
func (s *Store) Pipelines() []models.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Pipeline, 0, len(s.pipelineOrder))
	for _, id := range s.pipelineOrder {
		out = append(out, s.pipelines[id])
	}
	return out
}

// Pipeline returns one pipeline by id.
func (s *Store) Pipeline(pipelineID string) (models.Pipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[pipelineID]
	return p, ok
}

// ActivePipelineID returns the id of the open detail view, or "".
func (s *Store) ActivePipelineID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePipelineID
}

// ActiveStages returns a copy of the open detail view's stages, in the
// order they were first seen.
func (s *Store) ActiveStages() []models.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Stage, 0, len(s.stageOrder))
	for _, id := range s.stageOrder {
		out = append(out, s.stages[id])
	}
	return out
}
