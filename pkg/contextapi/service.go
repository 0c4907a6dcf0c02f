// Package contextapi is the boundary the chat handler calls: read context,
// save a turn, search memories, build a prompt and manage profiles. Every
// operation is scoped to the owner id supplied by the caller.
package contextapi

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/orchestrator"
	"github.com/familyhub/contextd/pkg/prompt"
	"github.com/go-playground/validator/v10"
)

// Memory is the part of the orchestrator the service depends on.
type Memory interface {
	GetContext(ctx context.Context, q orchestrator.ContextQuery) (*memory.Context, error)
	SearchMemories(ctx context.Context, ownerID, query string, limit int) ([]memory.SearchResult, error)
	SaveContext(ctx context.Context, rec *memory.Record) (*memory.SaveResult, error)
}

// PromptRecorder receives prompt build measurements.
type PromptRecorder interface {
	ObservePrompt(minimal bool, tokens int, truncated bool, d time.Duration)
}

// Service implements the Context API.
type Service struct {
	mem       Memory
	profiles  memory.ProfileStore
	assembler *prompt.Assembler
	validate  *validator.Validate
	log       logger.Logger
	rec       PromptRecorder
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithPromptRecorder sets the prompt metrics recorder.
func WithPromptRecorder(r PromptRecorder) Option {
	return func(s *Service) {
		if r != nil {
			s.rec = r
		}
	}
}

// New returns a service.
func New(mem Memory, profiles memory.ProfileStore, assembler *prompt.Assembler, opts ...Option) *Service {
	s := &Service{
		mem:       mem,
		profiles:  profiles,
		assembler: assembler,
		validate:  newValidator(),
		log:       logger.Nop(),
		rec:       nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// GetContext returns the merged memory context for a conversation. It is
// read-only; degraded tiers are reported in the result, not as an error.
func (s *Service) GetContext(ctx context.Context, req GetContextRequest) (*memory.Context, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	return s.mem.GetContext(ctx, orchestrator.ContextQuery{
		OwnerID:        req.OwnerID,
		ConversationID: req.ConversationID,
		QueryText:      req.QueryText,
		RecentLimit:    req.RecentLimit,
		RelevantLimit:  req.RelevantLimit,
	})
}

// Save persists a turn. It fails with memory.ErrDurability when the
// relational tier did not acknowledge the write.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*memory.SaveResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	rec := &memory.Record{
		OwnerID:        req.OwnerID,
		ConversationID: req.ConversationID,
		Role:           req.Role,
		Text:           req.Text,
		Embedding:      req.Embedding,
		Metadata:       memory.MetadataFromMap(req.Metadata),
	}
	res, err := s.mem.SaveContext(ctx, rec)
	if errors.Is(err, memory.ErrInvalidRecord) {
		return nil, &ValidationError{Fields: map[string]string{"record": err.Error()}}
	}
	return res, err
}

// Search queries the search tiers only. Results are never written back.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	results, err := s.mem.SearchMemories(ctx, req.OwnerID, req.QueryText, req.Limit)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Results: results}, nil
}

// BuildPrompt reads the context for the conversation and assembles the
// system prompt for the owner's profile.
func (s *Service) BuildPrompt(ctx context.Context, req BuildPromptRequest) (*PromptResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	start := time.Now()

	profile, isDefault := s.profileOrDefault(ctx, req.OwnerID)
	mc, err := s.mem.GetContext(ctx, orchestrator.ContextQuery{
		OwnerID:        req.OwnerID,
		ConversationID: req.ConversationID,
		QueryText:      req.QueryText,
	})
	if err != nil {
		return nil, err
	}

	skills := profile.Skills()
	if req.ActiveSkills != nil {
		skills = memory.UniqueOrdered(req.ActiveSkills)
	}
	res, err := s.assembler.Build(ctx, prompt.Request{
		Profile:      profile,
		Memory:       mc,
		ActiveSkills: skills,
		Minimal:      req.Minimal,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "prompt build failed", "owner_id", req.OwnerID, "error", err)
		return nil, err
	}
	s.rec.ObservePrompt(req.Minimal, res.TotalTokensEstimate, res.Truncated, time.Since(start))

	return &PromptResponse{
		Result:         *res,
		OwnerID:        req.OwnerID,
		ConversationID: req.ConversationID,
		DegradedTiers:  mc.DegradedTiers,
		DefaultProfile: isDefault,
	}, nil
}

// profileOrDefault never fails: a missing or unreadable profile falls back
// to the default so a prompt can still be built.
func (s *Service) profileOrDefault(ctx context.Context, ownerID string) (*memory.UserProfile, bool) {
	p, err := s.profiles.GetProfile(ctx, ownerID)
	switch {
	case err == nil:
		return p, false
	case errors.Is(err, memory.ErrNotFound):
	default:
		s.log.WarnContext(ctx, "profile lookup failed, using default", "owner_id", ownerID, "error", err)
	}
	return memory.DefaultProfile(ownerID), true
}

// GetProfile returns the stored profile or, if none exists, the default.
func (s *Service) GetProfile(ctx context.Context, ownerID string) (*ProfileResponse, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, &ValidationError{Fields: map[string]string{"owner_id": "required"}}
	}
	p, err := s.profiles.GetProfile(ctx, ownerID)
	if errors.Is(err, memory.ErrNotFound) {
		return &ProfileResponse{UserProfile: memory.DefaultProfile(ownerID), Default: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ProfileResponse{UserProfile: p}, nil
}

// PutProfile validates and stores p. Skills must be registered.
func (s *Service) PutProfile(ctx context.Context, p *memory.UserProfile) (*ProfileResponse, error) {
	if p == nil {
		return nil, &ValidationError{Fields: map[string]string{"profile": "required"}}
	}
	if err := s.check(p); err != nil {
		return nil, err
	}
	p.ActiveSkills = p.Skills()
	for _, name := range p.ActiveSkills {
		if _, ok := s.assembler.Skills().Lookup(name); !ok {
			return nil, &ValidationError{Fields: map[string]string{"active_skills": fmt.Sprintf("unknown skill %q", name)}}
		}
	}
	p.UpdatedAt = time.Now().UTC()
	if err := s.profiles.PutProfile(ctx, p); err != nil {
		return nil, err
	}
	return &ProfileResponse{UserProfile: p}, nil
}

// RoleTemplate returns the role template for role.
func (s *Service) RoleTemplate(role string) (*Template, error) {
	r, err := memory.ParseFamilyRole(role)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"role": err.Error()}}
	}
	return s.template(prompt.RoleTemplate(r))
}

// CoreTemplates returns the core templates in prompt order.
func (s *Service) CoreTemplates() ([]Template, error) {
	names := []string{prompt.IdentityTemplate, prompt.IdentityMinimalTemplate, prompt.PrinciplesTemplate, prompt.RulesTemplate}
	out := make([]Template, 0, len(names))
	for _, name := range names {
		t, err := s.template(name)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *Service) template(name string) (*Template, error) {
	text, err := s.assembler.Library().Get(name)
	if err != nil {
		return nil, err
	}
	return &Template{Name: name, Text: text, TokenEstimate: prompt.EstimateTokens(text)}, nil
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	ve := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		ve.Fields[fieldPath(fe.Namespace())] = describe(fe)
	}
	return ve
}

type nopRecorder struct{}

func (nopRecorder) ObservePrompt(bool, int, bool, time.Duration) {}
