package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-interpreter/internal/conversation"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/interpreter"
	"github.com/loqalabs/loqa-interpreter/internal/recognition"
	"github.com/loqalabs/loqa-interpreter/internal/settings"
)

// API exposes the interpreter over HTTP.
type API struct {
	interp *interpreter.Interpreter
	events *eventstore.Store
	mock   *recognition.MockRecognizer
	log    *slog.Logger
}

type speakerRequest struct {
	Speaker string `json:"speaker"`
	Toggle  bool   `json:"toggle,omitempty"`
}

type languagesRequest struct {
	MyLanguage      string `json:"my_language"`
	PartnerLanguage string `json:"partner_language"`
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

type recognitionInput struct {
	Final   []string `json:"final,omitempty"`
	Interim []string `json:"interim,omitempty"`
	Error   string   `json:"error,omitempty"`
	End     bool     `json:"end,omitempty"`
}

// NewAPI builds the HTTP surface. events may be nil; mock is only set when
// the mock recognizer is in use and enables the recognition input endpoint.
func NewAPI(interp *interpreter.Interpreter, events *eventstore.Store, mock *recognition.MockRecognizer, logger *slog.Logger) *API {
	return &API{interp: interp, events: events, mock: mock, log: logger.With(slog.String("component", "api"))}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("POST /api/speaker", a.handleSpeaker)
	mux.HandleFunc("POST /api/languages", a.handleLanguages)
	mux.HandleFunc("POST /api/visibility", a.handleVisibility)
	mux.HandleFunc("GET /api/messages", a.handleMessages)
	mux.HandleFunc("DELETE /api/messages", a.handleClearMessages)
	mux.HandleFunc("GET /api/settings", a.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", a.handlePutSettings)
	mux.HandleFunc("GET /api/conversations", a.handleConversations)
	mux.HandleFunc("GET /api/conversations/{id}/history", a.handleHistory)
	if a.mock != nil {
		mux.HandleFunc("POST /api/debug/recognition", a.handleRecognitionInput)
	}
}

func (a *API) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.interp.State())
}

func (a *API) handleSpeaker(w http.ResponseWriter, r *http.Request) {
	var req speakerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	speaker, err := conversation.ParseSpeaker(req.Speaker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Toggle {
		a.interp.ToggleSpeaker(speaker)
	} else {
		a.interp.SetSpeaker(speaker)
	}
	writeJSON(w, http.StatusOK, a.interp.State())
}

func (a *API) handleLanguages(w http.ResponseWriter, r *http.Request) {
	var req languagesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MyLanguage == "" && req.PartnerLanguage == "" {
		writeError(w, http.StatusBadRequest, errors.New("my_language or partner_language is required"))
		return
	}
	a.interp.SetLanguages(req.MyLanguage, req.PartnerLanguage)
	writeJSON(w, http.StatusOK, a.interp.State())
}

func (a *API) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a.interp.SetVisible(req.Visible)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMessages(w http.ResponseWriter, _ *http.Request) {
	msgs := a.interp.Messages()
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) handleClearMessages(w http.ResponseWriter, _ *http.Request) {
	a.interp.ClearMessages()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.interp.Preferences())
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var prefs settings.Preferences
	if !decodeJSON(w, r, &prefs) {
		return
	}
	updated, err := a.interp.UpdatePreferences(r.Context(), prefs)
	if errors.Is(err, settings.ErrInvalidValue) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		a.log.Error("failed to save settings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := a.events.Conversations(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if convs == nil {
		convs = []eventstore.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := a.events.History(r.Context(), r.PathValue("id"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		if json.Valid(e.Payload) {
			out = append(out, e.Payload)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRecognitionInput feeds the mock recognizer, standing in for a
// microphone during demos and integration tests.
func (a *API) handleRecognitionInput(w http.ResponseWriter, r *http.Request) {
	var in recognitionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	switch {
	case in.Error != "":
		a.mock.Fail(recognition.FaultKind(in.Error))
	case in.End:
		a.mock.End()
	default:
		if err := a.mock.Emit(recognition.Result{Final: in.Final, Interim: in.Interim}); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, a.interp.State())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
