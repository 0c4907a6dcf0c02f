package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/familyhub/contextd/pkg/memory"
)

// GetProfile returns the stored profile for ownerID, or memory.ErrNotFound.
// Reads are served from the cache for up to ProfileCacheTTL.
func (a *Adapter) GetProfile(ctx context.Context, ownerID string) (*memory.UserProfile, error) {
	if p, ok := a.profiles.Get(ownerID); ok {
		return p.Clone(), nil
	}
	gen := a.profileGeneration()

	var (
		p             memory.UserProfile
		role          string
		skills, prefs string
		updated       int64
	)
	err := a.db.QueryRowContext(ctx, a.rebind(selectProfile), ownerID).Scan(
		&p.OwnerID, &role, &p.LanguagePreference, &p.PrivacyLevel, &p.SafetyLevel,
		&skills, &prefs, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relational: query profile: %w", err)
	}
	p.Role = memory.FamilyRole(role)
	p.UpdatedAt = time.Unix(0, updated).UTC()
	if err := json.Unmarshal([]byte(skills), &p.ActiveSkills); err != nil {
		return nil, fmt.Errorf("relational: decode active_skills: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
		return nil, fmt.Errorf("relational: decode preferences: %w", err)
	}

	a.cacheProfile(gen, &p)
	return &p, nil
}

func (a *Adapter) profileGeneration() uint64 {
	a.profileMu.Lock()
	defer a.profileMu.Unlock()
	return a.profileGen
}

// cacheProfile stores p unless a PutProfile ran since gen was read; the row
// p was scanned from may predate that write.
func (a *Adapter) cacheProfile(gen uint64, p *memory.UserProfile) {
	a.profileMu.Lock()
	defer a.profileMu.Unlock()
	if gen != a.profileGen {
		return
	}
	a.profiles.SetWithTTL(p.OwnerID, p.Clone(), 1, a.cfg.ProfileCacheTTL)
}

// PutProfile creates or replaces the owner's profile.
func (a *Adapter) PutProfile(ctx context.Context, p *memory.UserProfile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	skills := p.Skills()
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return fmt.Errorf("relational: encode active_skills: %w", err)
	}
	prefs := p.Preferences
	if prefs == nil {
		prefs = map[string]string{}
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("relational: encode preferences: %w", err)
	}

	_, err = a.db.ExecContext(ctx, a.rebind(upsertProfile),
		p.OwnerID, string(p.Role), p.LanguagePreference, p.PrivacyLevel, p.SafetyLevel,
		string(skillsJSON), string(prefsJSON), p.UpdatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("relational: upsert profile: %w", err)
	}
	a.profileMu.Lock()
	a.profileGen++
	a.profiles.Del(p.OwnerID)
	a.profileMu.Unlock()
	return nil
}
