package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/familyhub/contextd/config"
	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/prompt"
)

type promptOptions struct {
	role     string
	language string
	safety   string
	skills   []string
	minimal  bool
	summary  bool
}

// newPromptCmd previews a prompt without any tier: no memory section is
// rendered.
func newPromptCmd(g *globalFlags) *cobra.Command {
	opts := promptOptions{}
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Preview the system prompt for a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath, buildOverrides(g))
			if err != nil {
				return fmt.Errorf("failed to load configuration:\n%w", err)
			}
			return runPrompt(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.role, "role", "r", string(memory.RoleMember), "Family role")
	f.StringVarP(&opts.language, "language", "l", memory.LanguageEnglish, "Language preference (en, es, bilingual)")
	f.StringVar(&opts.safety, "safety", "strict", "Safety level")
	f.StringSliceVarP(&opts.skills, "skill", "s", nil, "Active skill, repeatable")
	f.BoolVarP(&opts.minimal, "minimal", "m", false, "Build the minimal prompt")
	f.BoolVar(&opts.summary, "summary", false, "Print the section summary as JSON instead of the text")
	return cmd
}

func runPrompt(ctx context.Context, out io.Writer, cfg *config.Config, opts promptOptions) error {
	role, err := memory.ParseFamilyRole(opts.role)
	if err != nil {
		return err
	}
	profile := memory.DefaultProfile("preview")
	profile.Role = role
	profile.LanguagePreference = opts.language
	profile.SafetyLevel = opts.safety

	log := logger.Nop()
	assembler := prompt.NewAssembler(prompt.NewLibrary(cfg.Prompt.TemplateDir, log), prompt.DefaultSkills(), promptConfig(cfg), log)
	res, err := assembler.Build(ctx, prompt.Request{
		Profile:      profile,
		ActiveSkills: opts.skills,
		Minimal:      opts.minimal,
	})
	if err != nil {
		return err
	}

	if opts.summary {
		res.PromptText = ""
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprintln(out, res.PromptText)
	return err
}
