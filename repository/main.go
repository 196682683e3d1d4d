package repository

import (
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
)

type Repository struct {
	JobRepo *JobRepository
}

var repository *Repository

func InitRepository(infra *infra.Infra) *Repository {
	repository = &Repository{
		JobRepo: NewJobRepository(infra.Postgres.DB),
	}
	return repository
}

func GetRepository() *Repository {
	if repository == nil {
		panic("repository not initialized")
	}
	return repository
}
