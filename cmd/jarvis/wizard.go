package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"jarvis/internal/config"

	"github.com/spf13/cobra"
)

// providerMeta describes a provider option for the wizard.
type providerMeta struct {
	Name         string
	NeedsKey     bool
	EnvVar       string
	APIBase      string
	DefaultModel string
}

var knownProviders = []providerMeta{
	{Name: "openai", NeedsKey: true, EnvVar: "OPENAI_API_KEY", APIBase: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini"},
	{Name: "ollama", APIBase: "http://localhost:11434", DefaultModel: "llama3.1:8b"},
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: provider, admins, business, then save config",
		Long:  "Guides you through the LLM provider (and API key), the admin phone numbers, and the business name and hours. Writes config to the path used by --config or the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(os.Stdin, os.Stdout, resolveConfigPath())
		},
	}
}

// wizard reads answers line by line, falling back to defaults on empty input.
type wizard struct {
	in  *bufio.Reader
	out io.Writer
}

func (w *wizard) ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", question)
	}
	line, err := w.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return def, nil
		}
		return "", err
	}
	s := strings.TrimSpace(line)
	if s == "" {
		return def, nil
	}
	return s, nil
}

func (w *wizard) confirm(question string, def bool) (bool, error) {
	d := "n"
	if def {
		d = "y"
	}
	ans, err := w.ask(question+" (y/n)", d)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(ans) {
	case "y", "yes", "o", "oui":
		return true, nil
	default:
		return false, nil
	}
}

func runWizard(in io.Reader, out io.Writer, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}
	w := &wizard{in: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "\n--- Step 1: LLM provider ---")
	for i, p := range knownProviders {
		fmt.Fprintf(out, "  %d) %s", i+1, p.Name)
		if p.NeedsKey {
			fmt.Fprintf(out, " (set %s)", p.EnvVar)
		}
		fmt.Fprintln(out)
	}
	defNum := "1"
	for i, p := range knownProviders {
		if p.Name == cfg.General.DefaultProvider {
			defNum = fmt.Sprint(i + 1)
		}
	}
	choice, err := w.ask(fmt.Sprintf("Choose provider (1-%d)", len(knownProviders)), defNum)
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownProviders) {
		idx = 1
	}
	prov := knownProviders[idx-1]
	cfg.General.DefaultProvider = prov.Name
	pc := cfg.Providers[prov.Name]
	pc.Enabled = true
	if pc.APIBase == "" {
		pc.APIBase = prov.APIBase
	}
	if pc.DefaultModel == "" {
		pc.DefaultModel = prov.DefaultModel
	}
	if prov.NeedsKey {
		def := pc.APIKey
		if def == "" {
			def = "${" + prov.EnvVar + "}"
		}
		key, err := w.ask("API key (paste it or reference an env var)", def)
		if err != nil {
			return err
		}
		pc.APIKey = key
	}
	cfg.Providers[prov.Name] = pc
	fmt.Fprintf(out, "  Using provider: %s (%s)\n", prov.Name, pc.DefaultModel)

	fmt.Fprintln(out, "\n--- Step 2: Admins ---")
	numbers, err := w.ask("Admin phone numbers, comma separated (e.g. 2250700000000)", strings.Join(cfg.Admin.Numbers, ","))
	if err != nil {
		return err
	}
	cfg.Admin.Numbers = nil
	for _, n := range strings.Split(numbers, ",") {
		if n = strings.TrimSpace(n); n != "" {
			cfg.Admin.Numbers = append(cfg.Admin.Numbers, n)
		}
	}

	fmt.Fprintln(out, "\n--- Step 3: Business ---")
	if cfg.Business.Company, err = w.ask("Company name", cfg.Business.Company); err != nil {
		return err
	}
	if cfg.Business.Timezone, err = w.ask("Timezone", cfg.Business.Timezone); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 4: Voice notes ---")
	voice, err := w.confirm("Transcribe voice notes with Whisper", cfg.Interaction.Voice.Enabled)
	if err != nil {
		return err
	}
	cfg.Interaction.Voice.Enabled = voice
	cfg.Interaction.Features.VoiceMessages = voice
	if voice && cfg.Interaction.Voice.Provider == "" {
		cfg.Interaction.Voice.Provider = "openai"
	}

	if err := os.MkdirAll(filepath.Dir(config.ExpandPath(cfgPath)), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(config.ExpandPath(cfgPath), cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: 'jarvis login' to pair WhatsApp, then 'jarvis run'. Try 'jarvis chat' to test locally.")
	return nil
}
