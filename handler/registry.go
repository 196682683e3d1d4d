package handler

import (
	"fmt"

	"github.com/tnqbao/gau-rollup-orchestrator/entity"
)

// Registry maps job types to their handlers. It is populated once at startup
// and read-only afterwards.
type Registry struct {
	handlers map[entity.JobType]JobHandler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[entity.JobType]JobHandler),
	}
}

func (r *Registry) Register(h JobHandler) {
	if _, exists := r.handlers[h.Type()]; exists {
		panic(fmt.Sprintf("handler already registered for job type %q", h.Type()))
	}
	r.handlers[h.Type()] = h
}

func (r *Registry) Get(jobType entity.JobType) (JobHandler, error) {
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job type %q", jobType)
	}
	return h, nil
}
