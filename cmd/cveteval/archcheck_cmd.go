package main

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
	"github.com/roblaszczak/go-cleanarch/cleanarch"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// archConfig mirrors .gocleanarch.yml.
type archConfig struct {
	Version           int      `yaml:"version"`
	Root              string   `yaml:"root"`
	IgnoreTests       bool     `yaml:"ignore_tests"`
	IgnorePackages    []string `yaml:"ignore_packages"`
	SharedModules     []string `yaml:"shared_modules"`
	AllowedViolations []string `yaml:"allow_violations"`
	Aliases           struct {
		Domain         []string `yaml:"domain"`
		Application    []string `yaml:"application"`
		Interfaces     []string `yaml:"interfaces"`
		Infrastructure []string `yaml:"infrastructure"`
	} `yaml:"aliases"`
}

var (
	defaultDomainAliases         = []string{"domain", "entities"}
	defaultApplicationAliases    = []string{"application", "usecases"}
	defaultInterfacesAliases     = []string{"interfaces", "adapters"}
	defaultInfrastructureAliases = []string{"infrastructure", "infra"}
)

func newDevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "dev",
		Short:  "Developer checks",
		Hidden: true,
	}
	cmd.AddCommand(newArchCheckCmd())
	return cmd
}

func newArchCheckCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "archcheck",
		Short: "Check that module layers only import inward",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetOutput(cmd.ErrOrStderr())

			cfg, err := loadArchConfig(configPath)
			if err != nil {
				return withCode(exitUsage, err)
			}
			root, err := filepath.Abs(cfg.Root)
			if err != nil {
				return withCode(exitUsage, errors.Wrap(err, "resolve root"))
			}
			if debug {
				cleanarch.Log.SetOutput(os.Stderr)
			}

			validator := cleanarch.NewValidator(cfg.layerAliases())
			ok, errs, err := validator.Validate(root, cfg.IgnoreTests, cfg.IgnorePackages)
			if err != nil {
				return errors.Wrap(err, "go-cleanarch")
			}
			filtered := cfg.filter(errs)
			if !ok && len(filtered) > 0 {
				for _, v := range filtered {
					logger.Error(v.Error())
				}
				return withCode(exitValidation, errors.Errorf("%d layering violations", len(filtered)))
			}
			logger.WithField("root", root).Info("layering check passed")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", ".gocleanarch.yml", "layering config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable go-cleanarch debug output")
	return cmd
}

func loadArchConfig(path string) (*archConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read layering config")
	}
	cfg := &archConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	return cfg, nil
}

func (c *archConfig) layerAliases() map[string]cleanarch.Layer {
	aliases := map[string]cleanarch.Layer{}
	apply := func(custom, defaults []string, layer cleanarch.Layer) {
		candidates := defaults
		if len(custom) > 0 {
			candidates = custom
		}
		for _, alias := range candidates {
			if alias != "" {
				aliases[alias] = layer
			}
		}
	}
	apply(c.Aliases.Domain, defaultDomainAliases, cleanarch.LayerDomain)
	apply(c.Aliases.Application, defaultApplicationAliases, cleanarch.LayerApplication)
	apply(c.Aliases.Interfaces, defaultInterfacesAliases, cleanarch.LayerInterfaces)
	apply(c.Aliases.Infrastructure, defaultInfrastructureAliases, cleanarch.LayerInfrastructure)
	return aliases
}

var crossModulePattern = regexp.MustCompile(`between ([\w-]+) and ([\w-]+) modules`)

// filter drops violations that touch a shared module or match an allowed pattern.
func (c *archConfig) filter(errs []cleanarch.ValidationError) []cleanarch.ValidationError {
	if len(errs) == 0 {
		return nil
	}
	shared := make(map[string]struct{}, len(c.SharedModules))
	for _, m := range c.SharedModules {
		if m = strings.TrimSpace(m); m != "" {
			shared[m] = struct{}{}
		}
	}
	out := make([]cleanarch.ValidationError, 0, len(errs))
	for _, v := range errs {
		msg := v.Error()
		if touchesShared(msg, shared) || c.allowed(msg) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func touchesShared(msg string, shared map[string]struct{}) bool {
	m := crossModulePattern.FindStringSubmatch(msg)
	if len(m) != 3 {
		return false
	}
	_, a := shared[m[1]]
	_, b := shared[m[2]]
	return a || b
}

func (c *archConfig) allowed(msg string) bool {
	for _, p := range c.AllowedViolations {
		if p != "" && strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
