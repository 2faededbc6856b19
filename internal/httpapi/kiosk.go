package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/supercopa/totem/internal/catalog"
	"github.com/supercopa/totem/internal/errors"
	"github.com/supercopa/totem/internal/flow"
	"github.com/supercopa/totem/internal/httputil"
	"github.com/supercopa/totem/internal/kiosk"
	"github.com/supercopa/totem/internal/phone"
)

// SessionView is the kiosk's view of a flow state. Image bytes are served
// by the image endpoint, never inline.
type SessionView struct {
	ID        string            `json:"id"`
	Persisted bool              `json:"persisted"`
	Screen    flow.Screen       `json:"screen"`
	Team      catalog.TeamID    `json:"team,omitempty"`
	TeamName  string            `json:"teamName,omitempty"`
	TeamColor string            `json:"teamColor,omitempty"`
	Idol      *catalog.Idol     `json:"idol,omitempty"`
	ImageSize catalog.ImageSize `json:"imageSize"`

	HasCapture  bool   `json:"hasCapture"`
	CapturedURL string `json:"capturedUrl,omitempty"`

	Generated *GeneratedView `json:"generated,omitempty"`

	Generating       bool   `json:"generating"`
	GenerationFailed bool   `json:"generationFailed"`
	Error            string `json:"error,omitempty"`
	CameraFault      string `json:"cameraFault,omitempty"`

	CanGoBack bool `json:"canGoBack"`
	CanReset  bool `json:"canReset"`
	Completed bool `json:"completed"`
}

// GeneratedView describes the composed photo.
type GeneratedView struct {
	ID         string `json:"id,omitempty"`
	URL        string `json:"url,omitempty"`
	ImagePath  string `json:"imagePath"`
	MIME       string `json:"mime"`
	DurationMS int64  `json:"durationMs"`
	Attempts   int    `json:"attempts"`
}

func (s *server) view(st *flow.State) SessionView {
	cat := s.kiosk.Catalog()
	_, canBack := flow.Back(st.Screen)
	v := SessionView{
		ID:               st.SessionID,
		Persisted:        st.Persisted,
		Screen:           st.Screen,
		Team:             st.Team,
		ImageSize:        st.ImageSize,
		HasCapture:       st.Captured != nil,
		Generating:       st.Generating,
		GenerationFailed: st.GenerationFailed,
		Error:            st.LastError,
		CameraFault:      st.CameraFault,
		CanGoBack:        canBack && !st.Generating,
		CanReset:         flow.CanReset(st.Screen),
		Completed:        st.Completed,
	}
	if st.Team != "" {
		v.TeamName = cat.TeamName(st.Team)
		v.TeamColor = cat.TeamColor(st.Team)
	}
	if idol, ok := cat.Idol(st.IdolID); ok {
		v.Idol = &idol
	}
	if st.Captured != nil {
		v.CapturedURL = st.Captured.URL
	}
	if g := st.Generated; g != nil {
		v.Generated = &GeneratedView{
			ID:         g.ID,
			URL:        g.URL,
			ImagePath:  "/api/kiosk/sessions/" + st.SessionID + "/image",
			MIME:       g.MIME,
			DurationMS: g.DurationMS,
			Attempts:   g.Attempts,
		}
	}
	return v
}

func (s *server) registerKioskRoutes(r *mux.Router) {
	r.HandleFunc("/sessions", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/team", s.handleTeam).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/idol", s.handleIdol).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/size", s.handleSize).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/camera", s.handleCamera).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/camera/failure", s.handleCameraFailure).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/capture", s.handleCapture).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/generate", s.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/progress", s.handleProgress).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/image", s.handleImage).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/share/open", s.handleOpenShare).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/share", s.handleShare).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/back", s.handleBack).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/phone/format", s.handlePhoneFormat).Methods(http.MethodPost)
}

func sessionID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// respondState writes the view of st, or err.
func (s *server) respondState(w http.ResponseWriter, r *http.Request, status int, st *flow.State, err error) {
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, status, s.view(st))
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.kiosk.Start(r.Context())
	s.respondState(w, r, http.StatusCreated, st, err)
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.kiosk.Get(r.Context(), sessionID(r))
	s.respondState(w, r, http.StatusOK, st, err)
}

func (s *server) handleTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Team string `json:"team"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	st, err := s.kiosk.SelectTeam(r.Context(), sessionID(r), req.Team)
	s.respondState(w, r, http.StatusOK, st, err)
}

func (s *server) handleIdol(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Idol string `json:"idol"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	st, err := s.kiosk.SelectIdol(r.Context(), sessionID(r), req.Idol)
	s.respondState(w, r, http.StatusOK, st, err)
}

func (s *server) handleSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Size string `json:"size"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	st, err := s.kiosk.SetImageSize(r.Context(), sessionID(r), req.Size)
	s.respondState(w, r, http.StatusOK, st, err)
}

func (s *server) handleCamera(w http.ResponseWriter, r *http.Request) {
	st, err := s.kiosk.EnterCamera(r.Context(), sessionID(r))
	s.respondState(w, r, http.StatusOK, st, err)
}

func (s *server) handleCameraFailure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !httputil.DecodeJSON(w, r, &req) {
		return
	}
	st, err := s.kiosk.ReportCameraFailure(r.Context(), sessionID(r), req.Reason)
	s.respondState(w, r, http.StatusOK, st, err)
}

// handleCapture accepts the raw image bytes, or a JSON document with the
// canvas data URL the kiosk browser produces.
func (s *server) handleCapture(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, captureBodyLimit)
	defer body.Close()

	var (
		data []byte
		mime string
		err  error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Image string `json:"image"`
		}
		if err = json.NewDecoder(body).Decode(&req); err != nil {
			httputil.WriteServiceError(w, r, errors.BadRequest("invalid JSON body"))
			return
		}
		data, mime, err = decodeDataURL(req.Image)
	} else {
		mime = r.Header.Get("Content-Type")
		if data, err = httputil.ReadAllStrict(body, kiosk.MaxImageBytes); err != nil {
			err = errors.BadRequest("image too large").WithDetails("max_bytes", kiosk.MaxImageBytes)
		}
	}
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	st, err := s.kiosk.Capture(r.Context(), sessionID(r), data, mime)
	s.respondState(w, r, http.StatusOK, st, err)
}

// A base64 data URL is 4/3 of the image plus the prefix.
const captureBodyLimit = kiosk.MaxImageBytes/3*4 + 1<<10

func decodeDataURL(s string) ([]byte, string, error) {
	if s == "" {
		return nil, "", errors.BadRequest("image is required")
	}
	meta, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(meta, "data:") || !strings.HasSuffix(meta, ";base64") {
		return nil, "", errors.BadRequest("image must be a base64 data URL")
	}
	mime := strings.TrimSuffix(strings.TrimPrefix(meta, "data:"), ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", errors.BadRequest("image is not valid base64")
	}
	return data, mime, nil
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	st, err := s.kiosk.Generate(r.Context(), sessionID(r))
	s.respondState(w, r, http.StatusOK, st, err)
}

func (s *server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.kiosk.Progress(r.Context(), sessionID(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *server) handleImage(w http.ResponseWriter, r *http.Request) {
	st, err := s.kiosk.Get(r.Context(), sessionID(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if st.Generated == nil || len(st.Generated.Data) == 0 {
		httputil.WriteServiceError(w, r, errors.NotFound("generated image", st.SessionID))
		return
	}
	w.Header().Set("Content-Type", st.Generated.MIME)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(st.Generated.Data)
}

func (s *server) handleOpenShare(w http.ResponseWriter, r *http.Request) {
	st, err := s.kiosk.OpenShare(r.Context(), sessionID(r))
	s.respondState(w, r, http.StatusOK, st, err)
}

func (s *server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	out, err := s.kiosk.Share(r.Context(), sessionID(r), req.Phone)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *server) handleBack(w http.ResponseWriter, r *http.Request) {
	st, err := s.kiosk.Back(r.Context(), sessionID(r))
	s.respondState(w, r, http.StatusOK, st, err)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	st, err := s.kiosk.Cancel(r.Context(), sessionID(r))
	s.respondState(w, r, http.StatusOK, st, err)
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	st, err := s.kiosk.Reset(r.Context(), sessionID(r))
	s.respondState(w, r, http.StatusOK, st, err)
}

// PhoneFormatRequest drives the on-screen keyboard. Either Value is
// reformatted, or Digit/Backspace edit Current.
type PhoneFormatRequest struct {
	Value     *string `json:"value,omitempty"`
	Current   string  `json:"current"`
	Digit     string  `json:"digit,omitempty"`
	Backspace bool    `json:"backspace,omitempty"`
}

// PhoneFormatResponse is the keyboard display state.
type PhoneFormatResponse struct {
	Formatted string `json:"formatted"`
	Digits    string `json:"digits"`
	Valid     bool   `json:"valid"`
}

func (s *server) handlePhoneFormat(w http.ResponseWriter, r *http.Request) {
	var req PhoneFormatRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	var formatted string
	switch {
	case req.Value != nil:
		formatted = phone.Format(*req.Value)
	case req.Backspace:
		formatted = phone.Backspace(req.Current)
	case req.Digit != "":
		if len(req.Digit) != 1 || req.Digit[0] < '0' || req.Digit[0] > '9' {
			httputil.WriteServiceError(w, r, errors.BadRequest("digit must be a single 0-9 character"))
			return
		}
		formatted = phone.Press(req.Current, req.Digit)
	default:
		formatted = phone.Format(req.Current)
	}

	httputil.WriteJSON(w, http.StatusOK, PhoneFormatResponse{
		Formatted: formatted,
		Digits:    phone.Digits(formatted),
		Valid:     phone.Valid(formatted),
	})
}
