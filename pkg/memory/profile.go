package memory

import (
	"fmt"
	"maps"
	"time"
)

// FamilyRole is the closed set of household roles a profile may hold.
type FamilyRole string

const (
	RoleParent      FamilyRole = "parent"
	RoleTeenager    FamilyRole = "teenager"
	RoleChild       FamilyRole = "child"
	RoleGrandparent FamilyRole = "grandparent"
	RoleMember      FamilyRole = "member"
)

// Roles lists every FamilyRole.
var Roles = []FamilyRole{RoleParent, RoleTeenager, RoleChild, RoleGrandparent, RoleMember}

// ParseFamilyRole converts s to a FamilyRole.
func ParseFamilyRole(s string) (FamilyRole, error) {
	r := FamilyRole(s)
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("memory: unknown family role %q", s)
}

// Language preferences the prompt assembler understands.
const (
	LanguageEnglish   = "en"
	LanguageSpanish   = "es"
	LanguageBilingual = "bilingual"
)

// UserProfile is the per-owner policy input to prompt assembly.
type UserProfile struct {
	OwnerID            string     `json:"owner_id" validate:"required"`
	Role               FamilyRole `json:"role" validate:"required,oneof=parent teenager child grandparent member"`
	LanguagePreference string     `json:"language_preference" validate:"required,oneof=en es bilingual"`
	PrivacyLevel       string     `json:"privacy_level" validate:"required,oneof=open standard private"`
	SafetyLevel        string     `json:"safety_level" validate:"required,oneof=relaxed standard strict"`
	// ActiveSkills is ordered; the first occurrence of a name wins.
	ActiveSkills []string          `json:"active_skills"`
	Preferences  map[string]string `json:"preferences,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// DefaultProfile is used for owners without a stored profile.
func DefaultProfile(ownerID string) *UserProfile {
	return &UserProfile{
		OwnerID:            ownerID,
		Role:               RoleMember,
		LanguagePreference: LanguageEnglish,
		PrivacyLevel:       "standard",
		SafetyLevel:        "strict",
	}
}

// Skills returns ActiveSkills with duplicates and blanks removed, keeping
// first-occurrence order.
func (p *UserProfile) Skills() []string {
	return UniqueOrdered(p.ActiveSkills)
}

// Clone returns a deep copy.
func (p *UserProfile) Clone() *UserProfile {
	out := *p
	out.ActiveSkills = append([]string(nil), p.ActiveSkills...)
	if p.Preferences != nil {
		out.Preferences = maps.Clone(p.Preferences)
	}
	return &out
}

// UniqueOrdered drops empty and repeated entries while preserving order.
func UniqueOrdered(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
