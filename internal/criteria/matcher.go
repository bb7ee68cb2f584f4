// Package criteria decides whether a caller's context satisfies a rule set.
package criteria

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog/log"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

var (
	ErrInvalidExpression = errors.New("invalid criteria expression")
	ErrEvaluation        = errors.New("criteria evaluation failed")
)

// Matcher evaluates criteria. It is safe for concurrent use; the only state
// it holds is a cache of compiled expressions.
type Matcher struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewMatcher creates a matcher with the CEL environment used by expressions.
func NewMatcher() (*Matcher, error) {
	env, err := cel.NewEnv(
		cel.Variable("dataGroups", cel.ListType(cel.StringType)),
		cel.Variable("substudies", cel.ListType(cel.StringType)),
		cel.Variable("languages", cel.ListType(cel.StringType)),
		cel.Variable("appVersion", cel.IntType),
		cel.Variable("appName", cel.StringType),
		cel.Variable("osName", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	return &Matcher{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Matches reports whether ctx satisfies every set predicate of c. A nil
// criteria set always matches. A failing expression never matches.
func (m *Matcher) Matches(c *models.Criteria, ctx *models.CriteriaContext) bool {
	if c == nil {
		return true
	}
	if ctx == nil {
		ctx = &models.CriteriaContext{}
	}

	if !matchesLanguage(c.Language, ctx.Languages) {
		return false
	}
	if !containsAll(ctx.DataGroups, c.AllOfGroups) || containsAny(ctx.DataGroups, c.NoneOfGroups) {
		return false
	}
	if !containsAll(ctx.Substudies, c.AllOfSubstudies) || containsAny(ctx.Substudies, c.NoneOfSubstudies) {
		return false
	}
	if !matchesVersion(c, ctx.ClientInfo) {
		return false
	}

	if c.Expression == "" {
		return true
	}
	ok, err := m.Evaluate(c.Expression, ctx)
	if err != nil {
		log.Warn().
			Err(err).
			Str("expression", c.Expression).
			Msg("Criteria expression failed, treating as no match")
		return false
	}
	return ok
}

// Evaluate runs a CEL expression against ctx.
func (m *Matcher) Evaluate(expr string, ctx *models.CriteriaContext) (bool, error) {
	program, err := m.program(expr)
	if err != nil {
		return false, err
	}

	vars := map[string]any{
		"dataGroups": nonNil(ctx.DataGroups),
		"substudies": nonNil(ctx.Substudies),
		"languages":  nonNil(ctx.Languages),
		"appVersion": int64(ctx.ClientInfo.AppVersion),
		"appName":    ctx.ClientInfo.AppName,
		"osName":     ctx.ClientInfo.OSName,
	}

	result, _, err := program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression did not return boolean", ErrEvaluation)
	}
	return matched, nil
}

// Compile checks an expression without evaluating it.
func (m *Matcher) Compile(expr string) error {
	_, err := m.program(expr)
	return err
}

func (m *Matcher) program(expr string) (cel.Program, error) {
	m.mu.RLock()
	program, ok := m.programs[expr]
	m.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidExpression, ast.OutputType())
	}

	program, err := m.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("creating program: %w", err)
	}

	m.mu.Lock()
	m.programs[expr] = program
	m.mu.Unlock()

	return program, nil
}

func matchesLanguage(required string, languages []string) bool {
	if required == "" {
		return true
	}
	for _, lang := range languages {
		if strings.EqualFold(lang, required) {
			return true
		}
	}
	return false
}

// matchesVersion applies the min/max bounds registered for the caller's
// platform. Unknown versions and unlisted platforms pass.
func matchesVersion(c *models.Criteria, info models.ClientInfo) bool {
	if info.AppVersion <= 0 || info.OSName == "" {
		return true
	}
	if minVersion, ok := c.MinAppVersions[info.OSName]; ok && info.AppVersion < minVersion {
		return false
	}
	if maxVersion, ok := c.MaxAppVersions[info.OSName]; ok && info.AppVersion > maxVersion {
		return false
	}
	return true
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

func containsAny(have, unwanted []string) bool {
	for _, u := range unwanted {
		if slices.Contains(have, u) {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
