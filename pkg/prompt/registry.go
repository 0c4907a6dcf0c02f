package prompt

import (
	"fmt"
	"sort"
	"sync"

	"github.com/familyhub/contextd/pkg/memory"
)

// SkillBuilder renders the body of a skill section.
type SkillBuilder func(lib *Library, profile *memory.UserProfile) (string, error)

// Skill is a registered prompt skill. Topics are used to warn when two
// active skills cover the same ground.
type Skill struct {
	Name   string
	Topics []string
	Build  SkillBuilder
}

// TemplateSkill returns a skill whose body is skills/<name>.md.
func TemplateSkill(name string, topics ...string) Skill {
	return Skill{
		Name:   name,
		Topics: topics,
		Build: func(lib *Library, _ *memory.UserProfile) (string, error) {
			return lib.Get(SkillTemplate(name))
		},
	}
}

// SkillRegistry maps skill names to builders.
type SkillRegistry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewSkillRegistry returns an empty registry.
func NewSkillRegistry() *SkillRegistry {
	return &SkillRegistry{skills: make(map[string]Skill)}
}

// DefaultSkills returns a registry with the built-in skills.
func DefaultSkills() *SkillRegistry {
	r := NewSkillRegistry()
	for _, s := range []Skill{
		TemplateSkill("calendar", "calendar", "scheduling"),
		TemplateSkill("reminders", "reminders", "scheduling"),
		TemplateSkill("homework_help", "education"),
		TemplateSkill("meal_planning", "meals", "shopping"),
		TemplateSkill("shopping_list", "shopping"),
	} {
		_ = r.Register(s)
	}
	return r
}

// Register adds s. Registering a name twice is an error.
func (r *SkillRegistry) Register(s Skill) error {
	if s.Name == "" || s.Build == nil {
		return fmt.Errorf("prompt: skill needs a name and a builder")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.skills[s.Name]; dup {
		return fmt.Errorf("prompt: skill %q already registered", s.Name)
	}
	r.skills[s.Name] = s
	return nil
}

// Lookup returns the skill registered under name.
func (r *SkillRegistry) Lookup(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Names returns the registered names in sorted order.
func (r *SkillRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.skills))
	for name := range r.skills {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Overlap is a topic claimed by more than one active skill.
type Overlap struct {
	Topic  string
	Skills []string
}

// overlaps returns the topics claimed by more than one of skills, sorted by
// topic.
func overlaps(skills []Skill) []Overlap {
	owners := make(map[string][]string)
	for _, s := range skills {
		for _, t := range memory.UniqueOrdered(s.Topics) {
			owners[t] = append(owners[t], s.Name)
		}
	}
	var out []Overlap
	for t, names := range owners {
		if len(names) > 1 {
			out = append(out, Overlap{Topic: t, Skills: names})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}
