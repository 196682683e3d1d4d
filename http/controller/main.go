package controller

import (
	"github.com/tnqbao/gau-rollup-orchestrator/config"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
)

type Controller struct {
	Config     *config.Config
	Infra      *infra.Infra
	Repository *repository.Repository
}

func NewController(cfg *config.Config, inf *infra.Infra, repo *repository.Repository) *Controller {
	return &Controller{
		Config:     cfg,
		Infra:      inf,
		Repository: repo,
	}
}
