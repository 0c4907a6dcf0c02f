package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/familyhub/contextd/pkg/api/middleware"
	"github.com/familyhub/contextd/pkg/api/response"
	"github.com/familyhub/contextd/pkg/contextapi"
	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
)

// maxBodyBytes caps request bodies. A turn's text is limited well below it.
const maxBodyBytes = 1 << 20

// ContextService is the Context API the handlers expose.
type ContextService interface {
	GetContext(ctx context.Context, req contextapi.GetContextRequest) (*memory.Context, error)
	Save(ctx context.Context, req contextapi.SaveRequest) (*memory.SaveResult, error)
	Search(ctx context.Context, req contextapi.SearchRequest) (*contextapi.SearchResponse, error)
	BuildPrompt(ctx context.Context, req contextapi.BuildPromptRequest) (*contextapi.PromptResponse, error)
	GetProfile(ctx context.Context, ownerID string) (*contextapi.ProfileResponse, error)
	PutProfile(ctx context.Context, p *memory.UserProfile) (*contextapi.ProfileResponse, error)
	RoleTemplate(role string) (*contextapi.Template, error)
	CoreTemplates() ([]contextapi.Template, error)
}

var _ ContextService = (*contextapi.Service)(nil)

// ContextHandler serves the /api/v1 endpoints.
type ContextHandler struct {
	svc ContextService
	log logger.Logger
}

// NewContextHandler creates a context handler.
func NewContextHandler(svc ContextService, log logger.Logger) *ContextHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ContextHandler{svc: svc, log: log}
}

// GetContext handles GET /api/v1/context.
//
//	@Summary		Read conversation context
//	@Description	Merges recent turns and relevant memories across all tiers. Tiers that miss the deadline are listed in degraded_tiers.
//	@Tags			context
//	@Produce		json
//	@Param			owner_id		query		string	true	"Owner id"
//	@Param			conversation_id	query		string	true	"Conversation id"
//	@Param			query_text		query		string	false	"Text to search relevant memories with"
//	@Param			recent_limit	query		int		false	"Maximum recent turns"
//	@Param			relevant_limit	query		int		false	"Maximum relevant memories"
//	@Success		200				{object}	memory.Context
//	@Failure		400				{object}	response.ErrorResponse
//	@Router			/api/v1/context [get]
func (h *ContextHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := contextapi.GetContextRequest{
		OwnerID:        q.Get("owner_id"),
		ConversationID: q.Get("conversation_id"),
		QueryText:      q.Get("query_text"),
	}

	bad := map[string]string{}
	req.RecentLimit = intParam(q.Get("recent_limit"), "recent_limit", bad)
	req.RelevantLimit = intParam(q.Get("relevant_limit"), "relevant_limit", bad)
	if len(bad) > 0 {
		h.fail(w, r, &contextapi.ValidationError{Fields: bad})
		return
	}

	mc, err := h.svc.GetContext(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, mc)
}

// Save handles POST /api/v1/save.
//
//	@Summary		Save a conversation turn
//	@Description	Persists the turn to the relational tier and, best effort, to the other tiers. Partial tier failures are reported in the body.
//	@Tags			context
//	@Accept			json
//	@Produce		json
//	@Param			request	body		contextapi.SaveRequest	true	"Turn to save"
//	@Success		201		{object}	memory.SaveResult
//	@Failure		400		{object}	response.ErrorResponse
//	@Failure		429		{object}	response.ErrorResponse
//	@Failure		503		{object}	response.ErrorResponse	"durability failure"
//	@Router			/api/v1/save [post]
func (h *ContextHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req contextapi.SaveRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Save(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, res)
}

// Search handles POST /api/v1/search.
//
//	@Summary		Search memories
//	@Description	Queries the working-memory and vector tiers for one owner. Results are not written back.
//	@Tags			context
//	@Accept			json
//	@Produce		json
//	@Param			request	body		contextapi.SearchRequest	true	"Search query"
//	@Success		200		{object}	contextapi.SearchResponse
//	@Failure		400		{object}	response.ErrorResponse
//	@Router			/api/v1/search [post]
func (h *ContextHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req contextapi.SearchRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Search(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// BuildPrompt handles POST /api/v1/prompt/build.
//
//	@Summary		Build a system prompt
//	@Description	Reads the conversation context and assembles the prompt for the owner's profile within the token budget.
//	@Tags			prompt
//	@Accept			json
//	@Produce		json
//	@Param			request	body		contextapi.BuildPromptRequest	true	"Build request"
//	@Success		200		{object}	contextapi.PromptResponse
//	@Failure		400		{object}	response.ErrorResponse
//	@Failure		500		{object}	response.ErrorResponse	"mandatory sections exceed the budget"
//	@Router			/api/v1/prompt/build [post]
func (h *ContextHandler) BuildPrompt(w http.ResponseWriter, r *http.Request) {
	var req contextapi.BuildPromptRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.BuildPrompt(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// GetProfile handles GET /api/v1/profiles/{ownerID}.
//
//	@Summary		Get a user profile
//	@Description	Returns the stored profile, or the default profile with default=true.
//	@Tags			profiles
//	@Produce		json
//	@Param			ownerID	path		string	true	"Owner id"
//	@Success		200		{object}	contextapi.ProfileResponse
//	@Router			/api/v1/profiles/{ownerID} [get]
func (h *ContextHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetProfile(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// PutProfile handles PUT /api/v1/profiles/{ownerID}.
//
//	@Summary		Store a user profile
//	@Tags			profiles
//	@Accept			json
//	@Produce		json
//	@Param			ownerID	path		string				true	"Owner id"
//	@Param			profile	body		memory.UserProfile	true	"Profile"
//	@Success		200		{object}	contextapi.ProfileResponse
//	@Failure		400		{object}	response.ErrorResponse
//	@Router			/api/v1/profiles/{ownerID} [put]
func (h *ContextHandler) PutProfile(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")

	var p memory.UserProfile
	if !h.decode(w, r, &p) {
		return
	}
	if p.OwnerID != "" && p.OwnerID != ownerID {
		h.fail(w, r, &contextapi.ValidationError{Fields: map[string]string{
			"owner_id": "must match the owner in the path",
		}})
		return
	}
	p.OwnerID = ownerID

	res, err := h.svc.PutProfile(r.Context(), &p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// RoleTemplate handles GET /api/v1/prompt/roles/{role}.
//
//	@Summary	Show a role template
//	@Tags		prompt
//	@Produce	json
//	@Param		role	path		string	true	"Family role"	Enums(parent, teenager, child, grandparent, member)
//	@Success	200		{object}	contextapi.Template
//	@Failure	400		{object}	response.ErrorResponse
//	@Failure	404		{object}	response.ErrorResponse
//	@Router		/api/v1/prompt/roles/{role} [get]
func (h *ContextHandler) RoleTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.svc.RoleTemplate(chi.URLParam(r, "role"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, tpl)
}

// CoreTemplates handles GET /api/v1/prompt/core.
//
//	@Summary	Show the core templates
//	@Tags		prompt
//	@Produce	json
//	@Success	200	{array}	contextapi.Template
//	@Router		/api/v1/prompt/core [get]
func (h *ContextHandler) CoreTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.svc.CoreTemplates()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, tpls)
}

// decode reads a JSON body into v. It writes the error response and
// returns false on failure.
func (h *ContextHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err == nil && dec.More() {
		err = errors.New("unexpected data after JSON body")
	}
	if err == nil {
		return true
	}

	requestID := middleware.GetRequestID(r.Context())
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, response.ErrCodeRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), requestID)
	case errors.Is(err, io.EOF):
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "request body is required", requestID)
	default:
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body: "+err.Error(), requestID)
	}
	return false
}

func (h *ContextHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := response.HTTPStatusFromError(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	response.HandleError(w, err, middleware.GetRequestID(r.Context()))
}

// intParam parses an optional integer query parameter, recording a
// validation message in bad on failure.
func intParam(raw, name string, bad map[string]string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		bad[name] = "must be an integer"
		return 0
	}
	return n
}
