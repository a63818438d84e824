package fraud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"fraudwatch/internal/config"
	"fraudwatch/internal/logger"
	pkgerrors "fraudwatch/pkg/errors"
)

var ruleIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// RuleSource supplies rules persisted outside the config file.
type RuleSource interface {
	LoadRules(ctx context.Context) ([]config.RuleConfig, error)
}

type rulesFile struct {
	Threshold *int                `yaml:"threshold"`
	Rules     []config.RuleConfig `yaml:"rules"`
}

type RuleValidator struct {
	validate *validator.Validate
}

func NewRuleValidator() *RuleValidator {
	v := validator.New()
	v.RegisterValidation("rule_id", func(fl validator.FieldLevel) bool {
		return ruleIDPattern.MatchString(fl.Field().String())
	})
	return &RuleValidator{validate: v}
}

func (v *RuleValidator) Validate(rules []config.RuleConfig) error {
	for i := range rules {
		if err := v.validate.Struct(&rules[i]); err != nil {
			return pkgerrors.ErrConfig.
				WithMessage(fmt.Sprintf("rule #%d (%s) is invalid: %v", i, rules[i].ID, err)).
				WithCause(err)
		}
	}
	return nil
}

// LoadRulesFile parses a YAML rules file. Unknown keys are rejected.
func LoadRulesFile(path string) ([]config.RuleConfig, *int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) ([]config.RuleConfig, *int, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f rulesFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, pkgerrors.ErrConfig.WithMessage("failed to parse rules file").WithCause(err)
	}
	if err := NewRuleValidator().Validate(f.Rules); err != nil {
		return nil, nil, err
	}
	return f.Rules, f.Threshold, nil
}

// RuleSet is the resolved rule list and threshold.
type RuleSet struct {
	Rules     []Rule
	Threshold int
}

// BuildRuleSet assembles rules in evaluation order: built-in defaults,
// inline config rules, the rules file, then the database. A configured rule
// whose id matches a default replaces it; any other repeated id is an error.
func BuildRuleSet(ctx context.Context, cfg config.FraudConfig, source RuleSource, log logger.Logger) (RuleSet, error) {
	set := RuleSet{Threshold: cfg.Threshold}

	var configured []config.RuleConfig
	configured = append(configured, cfg.Rules...)

	if cfg.RulesFile != "" {
		fileRules, threshold, err := LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return RuleSet{}, err
		}
		if threshold != nil {
			set.Threshold = *threshold
		}
		configured = append(configured, fileRules...)
		log.Infow("Loaded rules file", "path", cfg.RulesFile, "rules", len(fileRules))
	}

	if cfg.LoadFromDatabase {
		if source == nil {
			return RuleSet{}, pkgerrors.ErrConfig.WithMessage("fraud.load_from_database requires a database")
		}
		dbRules, err := source.LoadRules(ctx)
		if err != nil {
			return RuleSet{}, fmt.Errorf("failed to load rules from database: %w", err)
		}
		configured = append(configured, dbRules...)
		log.Infow("Loaded rules from database", "rules", len(dbRules))
	}

	if err := NewRuleValidator().Validate(configured); err != nil {
		return RuleSet{}, err
	}

	var defaults []Rule
	if cfg.UseDefaults {
		defaults = DefaultRules()
	}

	index := make(map[string]int, len(defaults))
	for i, r := range defaults {
		index[r.ID] = i
	}
	overridden := make(map[string]bool)

	rules := append([]Rule(nil), defaults...)
	for _, rc := range configured {
		r := RuleFromConfig(rc)
		if i, ok := index[r.ID]; ok && !overridden[r.ID] {
			rules[i] = r
			overridden[r.ID] = true
			continue
		}
		rules = append(rules, r)
	}

	if set.Threshold < 1 {
		return RuleSet{}, pkgerrors.ErrConfig.WithMessage("fraud threshold must be at least 1")
	}
	if len(rules) == 0 {
		return RuleSet{}, pkgerrors.ErrConfig.WithMessage("no fraud rules configured")
	}

	set.Rules = rules
	return set, nil
}
