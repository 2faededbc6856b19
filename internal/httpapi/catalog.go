package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/supercopa/totem/internal/catalog"
	"github.com/supercopa/totem/internal/errors"
	"github.com/supercopa/totem/internal/httputil"
)

func (s *server) registerCatalogRoutes(r *mux.Router) {
	r.HandleFunc("/teams", s.handleTeams).Methods(http.MethodGet)
	r.HandleFunc("/teams/{team}/idols", s.handleTeamIdols).Methods(http.MethodGet)
	r.HandleFunc("/teams/{team}/trivia", s.handleTeamTrivia).Methods(http.MethodGet)
	r.HandleFunc("/sizes", s.handleSizes).Methods(http.MethodGet)
}

func (s *server) handleTeams(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.kiosk.Catalog().Teams())
}

// teamFromPath resolves the {team} variable, case-insensitively.
func (s *server) teamFromPath(w http.ResponseWriter, r *http.Request) (catalog.Team, bool) {
	raw := mux.Vars(r)["team"]
	team, ok := s.kiosk.Catalog().Team(catalog.TeamID(strings.ToUpper(raw)))
	if !ok {
		httputil.WriteServiceError(w, r, errors.NotFound("team", raw))
		return catalog.Team{}, false
	}
	return team, true
}

func (s *server) handleTeamIdols(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}
	idols := s.kiosk.Catalog().IdolsForTeam(team.ID)
	if idols == nil {
		idols = []catalog.Idol{}
	}
	httputil.WriteJSON(w, http.StatusOK, idols)
}

func (s *server) handleTeamTrivia(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}
	trivia := s.kiosk.Catalog().Trivia(team.ID)
	if trivia == nil {
		trivia = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"team":   team.ID,
		"trivia": trivia,
	})
}

func (s *server) handleSizes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"sizes":   catalog.ImageSizes,
		"default": catalog.DefaultImageSize,
	})
}
