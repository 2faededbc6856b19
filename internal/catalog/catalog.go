// Package catalog holds the teams and idols a visitor can pick.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// TeamID identifies a team.
type TeamID string

const (
	Flamengo    TeamID = "FLAMENGO"
	Corinthians TeamID = "CORINTHIANS"
)

// DefaultTeamColor is used for teams missing from the catalog.
const DefaultTeamColor = "#666666"

// ImageSize is the requested output resolution.
type ImageSize string

const (
	Size1K ImageSize = "1K"
	Size2K ImageSize = "2K"
	Size4K ImageSize = "4K"

	DefaultImageSize = Size2K
)

// ImageSizes lists the selectable sizes, smallest first.
var ImageSizes = []ImageSize{Size1K, Size2K, Size4K}

// ParseImageSize accepts 1K, 2K or 4K in any case.
func ParseImageSize(s string) (ImageSize, error) {
	switch size := ImageSize(strings.ToUpper(strings.TrimSpace(s))); size {
	case Size1K, Size2K, Size4K:
		return size, nil
	default:
		return "", fmt.Errorf("unsupported image size %q", s)
	}
}

type Team struct {
	ID     TeamID   `yaml:"id" json:"id"`
	Name   string   `yaml:"name" json:"name"`
	Color  string   `yaml:"color" json:"color"`
	Logo   string   `yaml:"logo" json:"logo"`
	Trivia []string `yaml:"trivia" json:"-"`
}

type Idol struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Nickname string `yaml:"nickname" json:"nickname"`
	Position string `yaml:"position" json:"position"`
	Era      string `yaml:"era" json:"era"`
	TeamID   TeamID `yaml:"team" json:"teamId"`
	ImageURL string `yaml:"image_url" json:"imageUrl"`
}

// Catalog is an immutable set of teams and idols.
type Catalog struct {
	teams []Team
	idols []Idol

	teamByID map[TeamID]Team
	idolByID map[string]Idol
}

//go:embed catalog.yaml
var defaultDocument []byte

var builtin = mustParse(defaultDocument)

// Default returns the built-in catalog.
func Default() *Catalog {
	return builtin
}

func mustParse(data []byte) *Catalog {
	c, err := Parse(data)
	if err != nil {
		panic(fmt.Sprintf("catalog: %v", err))
	}
	return c
}

// Parse reads a catalog document. Every idol must reference a known team
// and ids must be unique.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Teams []Team `yaml:"teams"`
		Idols []Idol `yaml:"idols"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		teams:    doc.Teams,
		idols:    doc.Idols,
		teamByID: make(map[TeamID]Team, len(doc.Teams)),
		idolByID: make(map[string]Idol, len(doc.Idols)),
	}
	for _, t := range doc.Teams {
		if _, dup := c.teamByID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate team %s", t.ID)
		}
		c.teamByID[t.ID] = t
	}
	for _, i := range doc.Idols {
		if _, ok := c.teamByID[i.TeamID]; !ok {
			return nil, fmt.Errorf("idol %s references unknown team %s", i.ID, i.TeamID)
		}
		if _, dup := c.idolByID[i.ID]; dup {
			return nil, fmt.Errorf("duplicate idol %s", i.ID)
		}
		c.idolByID[i.ID] = i
	}
	return c, nil
}

// Teams returns the teams in catalog order.
func (c *Catalog) Teams() []Team {
	out := make([]Team, len(c.teams))
	copy(out, c.teams)
	return out
}

// Idols returns every idol in catalog order.
func (c *Catalog) Idols() []Idol {
	out := make([]Idol, len(c.idols))
	copy(out, c.idols)
	return out
}

func (c *Catalog) Team(id TeamID) (Team, bool) {
	t, ok := c.teamByID[id]
	return t, ok
}

func (c *Catalog) Idol(id string) (Idol, bool) {
	i, ok := c.idolByID[id]
	return i, ok
}

// IdolsForTeam returns the idols of team in catalog order.
func (c *Catalog) IdolsForTeam(team TeamID) []Idol {
	var out []Idol
	for _, i := range c.idols {
		if i.TeamID == team {
			out = append(out, i)
		}
	}
	return out
}

// Trivia returns the rotating facts shown while a photo is generated.
func (c *Catalog) Trivia(team TeamID) []string {
	t, ok := c.teamByID[team]
	if !ok {
		return nil
	}
	out := make([]string, len(t.Trivia))
	copy(out, t.Trivia)
	return out
}

// TeamName returns the display name, or the raw id for unknown teams.
func (c *Catalog) TeamName(id TeamID) string {
	if t, ok := c.teamByID[id]; ok {
		return t.Name
	}
	return string(id)
}

// TeamColor returns the team colour, or DefaultTeamColor.
func (c *Catalog) TeamColor(id TeamID) string {
	if t, ok := c.teamByID[id]; ok && t.Color != "" {
		return t.Color
	}
	return DefaultTeamColor
}
