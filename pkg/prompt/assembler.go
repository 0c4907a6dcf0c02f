// Package prompt assembles the system prompt from markdown templates, the
// user's profile and the merged memory context under a token budget.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Separator joins sections in the rendered prompt.
const Separator = "\n\n---\n\n"

// Section names reported in Result.
const (
	SectionIdentity    = "identity"
	SectionPrinciples  = "principles"
	SectionRules       = "rules"
	SectionRole        = "role"
	SectionLanguage    = "language"
	SectionUserContext = "user_context"
	SectionMemory      = "memory"

	skillSectionPrefix = "skill:"
)

// Config holds the budgets and caps of the assembler.
type Config struct {
	FullBudget    int
	MinimalBudget int
	// MaxRecent and MaxRelevant cap the memory entries before budgeting.
	MaxRecent   int
	MaxRelevant int
}

// DefaultConfig returns the assembler defaults.
func DefaultConfig() Config {
	return Config{
		FullBudget:    16000,
		MinimalBudget: 5000,
		MaxRecent:     10,
		MaxRelevant:   5,
	}
}

// Request is the input of Build.
type Request struct {
	Profile *memory.UserProfile
	Memory  *memory.Context
	// ActiveSkills is rendered in order; repeats are ignored.
	ActiveSkills []string
	Minimal      bool
}

// SectionSummary describes one section of a built prompt.
type SectionSummary struct {
	Name          string `json:"name"`
	TokenEstimate int    `json:"token_estimate"`
}

// Result is a built prompt.
type Result struct {
	PromptText          string           `json:"prompt_text"`
	TotalTokensEstimate int              `json:"total_tokens_estimate"`
	Budget              int              `json:"budget"`
	Minimal             bool             `json:"minimal"`
	Truncated           bool             `json:"truncated"`
	SectionCount        int              `json:"section_count"`
	Sections            []SectionSummary `json:"sections"`
	Dropped             []string         `json:"dropped"`
	HasMemoryContext    bool             `json:"has_memory_context"`
	HasLanguageContext  bool             `json:"has_language_context"`
	HasSkills           bool             `json:"has_skills"`
}

// Assembler builds prompts. It performs no I/O beyond template reads, which
// are cached by the Library, and is safe for concurrent use.
type Assembler struct {
	lib    *Library
	skills *SkillRegistry
	cfg    atomic.Pointer[Config]
	log    logger.Logger
	tracer trace.Tracer
}

// NewAssembler returns an assembler. Zero config fields take the defaults.
func NewAssembler(lib *Library, skills *SkillRegistry, cfg Config, log logger.Logger) *Assembler {
	if skills == nil {
		skills = DefaultSkills()
	}
	if log == nil {
		log = logger.Nop()
	}
	a := &Assembler{
		lib:    lib,
		skills: skills,
		log:    log,
		tracer: otel.Tracer("contextd.prompt"),
	}
	a.SetConfig(cfg)
	return a
}

// SetConfig replaces the budgets and caps. Builds already running keep the
// values they started with.
func (a *Assembler) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.FullBudget <= 0 {
		cfg.FullBudget = def.FullBudget
	}
	if cfg.MinimalBudget <= 0 {
		cfg.MinimalBudget = def.MinimalBudget
	}
	if cfg.MaxRecent <= 0 {
		cfg.MaxRecent = def.MaxRecent
	}
	if cfg.MaxRelevant <= 0 {
		cfg.MaxRelevant = def.MaxRelevant
	}
	a.cfg.Store(&cfg)
}

// Config returns the effective budgets and caps.
func (a *Assembler) Config() Config {
	return *a.cfg.Load()
}

// Library returns the template library.
func (a *Assembler) Library() *Library {
	return a.lib
}

// Skills returns the skill registry.
func (a *Assembler) Skills() *SkillRegistry {
	return a.skills
}

// Budget returns the token budget for the given mode.
func (a *Assembler) Budget(minimal bool) int {
	cfg := a.cfg.Load()
	if minimal {
		return cfg.MinimalBudget
	}
	return cfg.FullBudget
}

type section struct {
	name   string
	text   string
	tokens int
}

func newSection(name, text string) section {
	return section{name: name, text: text, tokens: EstimateTokens(text)}
}

// Build renders the prompt. Sections always appear in this order: identity,
// principles, rules, role, skills, language, user context, memory. Identity
// and role are reserved first and never dropped; if they alone exceed the
// budget Build fails with memory.ErrBudgetExceeded. The remaining sections
// are then admitted in order while they fit. The memory section is shrunk
// to fit by dropping the least relevant memories and then the oldest turns.
func (a *Assembler) Build(ctx context.Context, req Request) (*Result, error) {
	if req.Profile == nil {
		return nil, fmt.Errorf("prompt: profile is required")
	}
	p := req.Profile
	budget := a.Budget(req.Minimal)

	_, span := a.tracer.Start(ctx, "prompt.build", trace.WithAttributes(
		attribute.String("role", string(p.Role)),
		attribute.Bool("minimal", req.Minimal),
	))
	defer span.End()

	identityName := IdentityTemplate
	if req.Minimal {
		identityName = IdentityMinimalTemplate
	}
	identity, err := a.lib.Get(identityName)
	if err != nil {
		return nil, err
	}
	roleBody, err := a.lib.Get(RoleTemplate(p.Role))
	if err != nil {
		return nil, fmt.Errorf("prompt: role %q: %w", p.Role, err)
	}

	sep := EstimateTokens(Separator)
	identitySec := newSection(SectionIdentity, identity)
	roleSec := newSection(SectionRole, "# Active Role Context\n\n"+roleBody)
	used := identitySec.tokens + sep + roleSec.tokens
	if used > budget {
		return nil, fmt.Errorf("%w: identity and role need %d tokens, budget is %d", memory.ErrBudgetExceeded, used, budget)
	}

	res := &Result{Budget: budget, Minimal: req.Minimal, Dropped: []string{}}
	admit := func(s section) bool {
		if used+sep+s.tokens > budget {
			res.Dropped = append(res.Dropped, s.name)
			res.Truncated = true
			return false
		}
		used += sep + s.tokens
		return true
	}

	var before, after []section
	if !req.Minimal {
		for _, c := range []struct{ name, tmpl string }{
			{SectionPrinciples, PrinciplesTemplate},
			{SectionRules, RulesTemplate},
		} {
			text, err := a.lib.Get(c.tmpl)
			if err != nil {
				a.log.WarnContext(ctx, "core template missing", "template", c.tmpl, "error", err)
				continue
			}
			if s := newSection(c.name, text); admit(s) {
				before = append(before, s)
			}
		}
	}

	for _, s := range a.skillSections(ctx, p, req.ActiveSkills) {
		if !res.HasSkills {
			// The header travels with the first admitted skill.
			s = newSection(s.name, "# Active Skills\n\n"+s.text)
		}
		if admit(s) {
			after = append(after, s)
			res.HasSkills = true
		}
	}

	if p.LanguagePreference == memory.LanguageSpanish || p.LanguagePreference == memory.LanguageBilingual {
		body, err := a.lib.Get(LanguageTemplate(p.LanguagePreference))
		if err != nil {
			a.log.WarnContext(ctx, "language template missing", "language", p.LanguagePreference, "error", err)
		} else if s := newSection(SectionLanguage, "# Language Context\n\n"+body); admit(s) {
			after = append(after, s)
			res.HasLanguageContext = true
		}
	}

	if s := newSection(SectionUserContext, renderUserContext(p, req.ActiveSkills)); admit(s) {
		after = append(after, s)
	}

	if s, ok, shrunk := a.memorySection(req.Memory, budget-used-sep); ok {
		used += sep + s.tokens
		after = append(after, s)
		res.HasMemoryContext = true
		res.Truncated = res.Truncated || shrunk
	} else if shrunk {
		res.Dropped = append(res.Dropped, SectionMemory)
		res.Truncated = true
	}

	sections := make([]section, 0, len(before)+len(after)+2)
	sections = append(sections, identitySec)
	sections = append(sections, before...)
	sections = append(sections, roleSec)
	sections = append(sections, after...)

	texts := make([]string, len(sections))
	res.Sections = make([]SectionSummary, len(sections))
	for i, s := range sections {
		texts[i] = s.text
		res.Sections[i] = SectionSummary{Name: s.name, TokenEstimate: s.tokens}
	}
	res.SectionCount = len(sections)
	res.PromptText = strings.Join(texts, Separator)
	res.TotalTokensEstimate = used

	span.SetAttributes(
		attribute.Int("tokens", used),
		attribute.Bool("truncated", res.Truncated),
	)
	if res.Truncated {
		a.log.DebugContext(ctx, "prompt truncated", "owner_id", p.OwnerID, "dropped", res.Dropped, "tokens", used, "budget", budget)
	}
	return res, nil
}

func (a *Assembler) skillSections(ctx context.Context, p *memory.UserProfile, names []string) []section {
	var (
		skills []Skill
		out    []section
	)
	for _, name := range memory.UniqueOrdered(names) {
		sk, ok := a.skills.Lookup(name)
		if !ok {
			a.log.WarnContext(ctx, "unknown skill skipped", "skill", name, "owner_id", p.OwnerID)
			continue
		}
		body, err := sk.Build(a.lib, p)
		if err != nil {
			a.log.WarnContext(ctx, "skill build failed", "skill", name, "error", err)
			continue
		}
		skills = append(skills, sk)
		out = append(out, newSection(skillSectionPrefix+name, body))
	}
	for _, o := range overlaps(skills) {
		a.log.WarnContext(ctx, "active skills overlap", "topic", o.Topic, "skills", o.Skills, "owner_id", p.OwnerID)
	}
	return out
}

// memorySection renders the memory context within room tokens. ok is false
// when nothing is rendered; shrunk reports that entries were removed to fit.
func (a *Assembler) memorySection(mc *memory.Context, room int) (s section, ok, shrunk bool) {
	if mc == nil {
		return section{}, false, false
	}
	cfg := a.cfg.Load()
	recent := mc.Recent
	if len(recent) > cfg.MaxRecent {
		recent = recent[:cfg.MaxRecent]
	}
	relevant := mc.Relevant
	if len(relevant) > cfg.MaxRelevant {
		relevant = relevant[:cfg.MaxRelevant]
	}
	if len(recent) == 0 && len(relevant) == 0 {
		return section{}, false, false
	}

	for {
		if len(recent) == 0 && len(relevant) == 0 {
			return section{}, false, true
		}
		s = newSection(SectionMemory, renderMemory(recent, relevant))
		if s.tokens <= room {
			return s, true, shrunk
		}
		shrunk = true
		if len(relevant) > 0 {
			relevant = relevant[:len(relevant)-1]
		} else {
			recent = recent[:len(recent)-1]
		}
	}
}

// renderMemory expects recent newest first and relevant best first. Recent
// turns are printed oldest to newest.
func renderMemory(recent []memory.Record, relevant []memory.SearchResult) string {
	var b strings.Builder
	b.WriteString("# Conversation Context")
	if len(recent) > 0 {
		b.WriteString("\n\n## Recent Conversation\n")
		for i := len(recent) - 1; i >= 0; i-- {
			fmt.Fprintf(&b, "\n**%s**: %s", recent[i].Role, recent[i].Text)
		}
	}
	if len(relevant) > 0 {
		b.WriteString("\n\n## Relevant Memories\n")
		for _, r := range relevant {
			fmt.Fprintf(&b, "\n- (relevance: %.2f) %s", r.RelevanceScore, r.Record.Text)
		}
	}
	return b.String()
}

func renderUserContext(p *memory.UserProfile, skills []string) string {
	active := "none"
	if s := memory.UniqueOrdered(skills); len(s) > 0 {
		active = strings.Join(s, ", ")
	}

	var b strings.Builder
	b.WriteString("## Current User Context\n\n")
	fmt.Fprintf(&b, "**User ID**: %s\n", p.OwnerID)
	fmt.Fprintf(&b, "**Role**: %s\n", p.Role)
	fmt.Fprintf(&b, "**Language Preference**: %s\n", p.LanguagePreference)
	fmt.Fprintf(&b, "**Privacy Level**: %s\n", p.PrivacyLevel)
	fmt.Fprintf(&b, "**Safety Level**: %s\n", p.SafetyLevel)
	fmt.Fprintf(&b, "**Active Skills**: %s", active)

	if len(p.Preferences) > 0 {
		keys := make([]string, 0, len(p.Preferences))
		for k := range p.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n**Preferences**:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, p.Preferences[k])
		}
	}
	return b.String()
}
