// Command seed_catalog upserts the team and idol catalog into Supabase so the
// dashboard and external tooling can join against it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/supercopa/totem/internal/catalog"
	"github.com/supercopa/totem/supabase/client"
)

const (
	tableTeams = "teams"
	tableIdols = "idols"
)

type teamRow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Logo  string `json:"logo"`
}

type idolRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	Position string `json:"position"`
	Era      string `json:"era"`
	TeamID   string `json:"team_id"`
	ImageURL string `json:"image_url"`
}

func main() {
	var (
		envFile     = flag.String("env", ".env", "Path to .env with SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
		catalogFile = flag.String("catalog", "", "YAML catalog to seed instead of the built-in one")
		dryRun      = flag.Bool("dry-run", false, "Print the rows without writing them")
	)
	flag.Parse()

	// A missing .env is fine when the variables come from the environment.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	cat, err := loadCatalog(*catalogFile)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}
	teams, idols := rows(cat)

	if *dryRun {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{tableTeams: teams, tableIdols: idols}); err != nil {
			log.Fatalf("encode rows: %v", err)
		}
		return
	}

	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if url == "" || key == "" {
		log.Fatalf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required")
	}
	sb, err := client.New(client.Config{URL: url, APIKey: key})
	if err != nil {
		log.Fatalf("supabase client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Idols reference teams, so teams go first.
	if _, err := sb.From(tableTeams).Upsert("id").ExecuteInsert(ctx, teams); err != nil {
		log.Fatalf("upsert teams: %v", err)
	}
	if _, err := sb.From(tableIdols).Upsert("id").ExecuteInsert(ctx, idols); err != nil {
		log.Fatalf("upsert idols: %v", err)
	}
	fmt.Printf("Seeded %d teams and %d idols into %s\n", len(teams), len(idols), url)
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return catalog.Parse(data)
}

func rows(cat *catalog.Catalog) ([]teamRow, []idolRow) {
	teams := make([]teamRow, 0, len(cat.Teams()))
	for _, t := range cat.Teams() {
		teams = append(teams, teamRow{ID: string(t.ID), Name: t.Name, Color: t.Color, Logo: t.Logo})
	}
	idols := make([]idolRow, 0, len(cat.Idols()))
	for _, i := range cat.Idols() {
		idols = append(idols, idolRow{
			ID:       i.ID,
			Name:     i.Name,
			Nickname: i.Nickname,
			Position: i.Position,
			Era:      i.Era,
			TeamID:   string(i.TeamID),
			ImageURL: i.ImageURL,
		})
	}
	return teams, idols
}
