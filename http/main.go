package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-rollup-orchestrator/config"
	"github.com/tnqbao/gau-rollup-orchestrator/http/controller"
	routes "github.com/tnqbao/gau-rollup-orchestrator/http/route"
	infraPkg "github.com/tnqbao/gau-rollup-orchestrator/infra"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
)

func main() {
	err := godotenv.Load("staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(infra)

	ctrl := controller.NewController(cfg, infra, repo)

	router := routes.SetupRouter(ctrl)

	log.Printf("HTTP Server started on :%s", cfg.EnvConfig.HTTPPort)
	if err := router.Run(":" + cfg.EnvConfig.HTTPPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
