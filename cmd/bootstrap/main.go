// Package main 初始化数据库结构，并可选导入项目数据
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/wire"
	"film-ai-api/pkg/logger"
)

// seedProject 导入文件中的单个项目
type seedProject struct {
	ID          string               `json:"id" validate:"required,uuid"`
	Title       string               `json:"title" validate:"required"`
	Logline     string               `json:"logline"`
	Genre       string               `json:"genre"`
	Script      string               `json:"script" validate:"required"`
	TotalBudget float64              `json:"total_budget" validate:"gte=0"`
	Owner       *entity.OwnerContact `json:"owner"`
}

func main() {
	seedPath := flag.String("seed", "", "JSON file with projects to upsert after migration")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Observability.Logging.Level, Format: "text", Output: "stdout"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dataLayer, cleanup, err := wire.InitializePostgresOnly(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize data layer", err)
	}
	defer cleanup()

	if err := dataLayer.PgClient.AutoMigrate(ctx); err != nil {
		logger.Fatal(ctx, "failed to migrate schema", err)
	}
	logger.Info(ctx, "schema migrated")

	if *seedPath == "" {
		return
	}
	projects, err := loadSeed(*seedPath)
	if err != nil {
		logger.Fatal(ctx, "failed to read seed file", err, "path", *seedPath)
	}
	for _, p := range projects {
		if err := dataLayer.Projects.Upsert(ctx, p); err != nil {
			logger.Fatal(ctx, "failed to upsert project", err, "project_id", p.ID)
		}
	}
	logger.Info(ctx, "projects seeded", "count", len(projects))
}

func loadSeed(path string) ([]*entity.Project, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []seedProject
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	validate := validator.New()
	out := make([]*entity.Project, 0, len(items))
	for i, it := range items {
		if err := validate.Struct(&it); err != nil {
			return nil, fmt.Errorf("project #%d: %w", i, err)
		}
		out = append(out, &entity.Project{
			ID:          it.ID,
			Title:       it.Title,
			Logline:     it.Logline,
			Genre:       it.Genre,
			Script:      it.Script,
			TotalBudget: it.TotalBudget,
			Owner:       it.Owner,
		})
	}
	return out, nil
}
