package config

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tomatool/ketchup/internal/assertion"
	"github.com/tomatool/ketchup/internal/response"
	"github.com/tomatool/ketchup/internal/variables"
)

// ValidationError lists every problem found in one config source
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid config %s: %s", e.Source, e.Problems[0])
	}
	return fmt.Sprintf("invalid config %s:\n  - %s", e.Source, strings.Join(e.Problems, "\n  - "))
}

type problems struct {
	list []string
}

func (p *problems) addf(format string, args ...any) {
	p.list = append(p.list, fmt.Sprintf(format, args...))
}

func (p *problems) err(source string) error {
	if len(p.list) == 0 {
		return nil
	}
	return &ValidationError{Source: source, Problems: p.list}
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// Validate checks the shape of the root config
func (c *RootConfig) Validate(source string) error {
	var p problems

	if len(c.TestUnitsConfigs) == 0 {
		p.addf("testUnitsConfigs must list at least one file")
	}
	for i, name := range c.TestUnitsConfigs {
		if strings.TrimSpace(name) == "" {
			p.addf("testUnitsConfigs[%d] is empty", i)
		}
	}
	if c.DatabaseConnectionOptions != nil {
		c.DatabaseConnectionOptions.validate(&p, "databaseConnectionOptions")
	}
	if c.TestRunnerOptions.RequestTimeout.Duration < 0 {
		p.addf("testRunnerOptions.requestTimeout must not be negative")
	}

	return p.err(source)
}

// Validate checks that the options are complete enough to connect
func (o *DatabaseConnectionOptions) Validate() error {
	var p problems
	o.validate(&p, "databaseConnectionOptions")
	return p.err("database connection options")
}

func (o *DatabaseConnectionOptions) validate(p *problems, field string) {
	switch o.DBMS {
	case DBMSPostgreSQL, DBMSMySQL:
	default:
		p.addf("%s.dbms must be %q or %q, got %q", field, DBMSPostgreSQL, DBMSMySQL, o.DBMS)
	}
	if o.Host == "" {
		p.addf("%s.host is required", field)
	}
	if o.User == "" {
		p.addf("%s.user is required", field)
	}
	if o.Database == "" {
		p.addf("%s.database is required", field)
	}
	if o.Port < 0 || o.Port > 65535 {
		p.addf("%s.port %d is out of range", field, o.Port)
	}
}

// Validate checks the shape of every unit in the file, including the
// syntax of every assertion. Placeholders inside assertions are accepted
// wherever a literal could appear.
func (c *TestUnitsConfig) Validate() error {
	var p problems

	if len(c.TestUnits) == 0 {
		p.addf("testUnits must contain at least one unit")
	}
	for i, u := range c.TestUnits {
		field := fmt.Sprintf("testUnits[%d]", i)
		if u.Name != "" {
			field = fmt.Sprintf("%s (%s)", field, u.Name)
		}
		u.validate(&p, field)
	}

	return p.err(c.Name)
}

func (u *TestUnit) validate(p *problems, field string) {
	if strings.TrimSpace(u.Name) == "" {
		p.addf("%s.name is required", field)
	}
	if !validMethods[strings.ToUpper(u.Endpoint.Method)] {
		p.addf("%s.endpoint.method %q is not a supported HTTP method", field, u.Endpoint.Method)
	}
	if strings.TrimSpace(u.Endpoint.URL) == "" {
		p.addf("%s.endpoint.url is required", field)
	}

	for i, v := range u.VariablesToSet {
		f := fmt.Sprintf("%s.variablesToSet[%d]", field, i)
		if v.VariableName == "" {
			p.addf("%s.variableName is required", f)
		}
		checkPath(p, f, v.Path)
	}

	if u.Validation == nil {
		return
	}
	if sc := u.Validation.StatusCode; sc != nil && len(sc.Ranges) == 0 && (sc.Code < 100 || sc.Code > 599) {
		p.addf("%s.validation.statusCode %d is not a valid HTTP status", field, sc.Code)
	}
	for i, a := range u.Validation.Assertions {
		f := fmt.Sprintf("%s.validation.assertions[%d]", field, i)
		checkPath(p, f, a.Path)
		checkExpression(p, f+".assertion", a.Assertion)
	}
	for i, t := range u.Validation.TablesToCheck {
		f := fmt.Sprintf("%s.validation.tablesToCheck[%d]", field, i)
		if t.TableName == "" {
			p.addf("%s.tableName is required", f)
		}
		for j, rc := range t.RowChecks {
			rf := fmt.Sprintf("%s.rowChecks[%d]", f, j)
			if len(rc.ColumnChecks) == 0 && rc.RowCountAssertion == "" {
				p.addf("%s must specify columnChecks and/or rowCountAssertion", rf)
			}
			if rc.RowCountAssertion != "" {
				checkExpression(p, rf+".rowCountAssertion", rc.RowCountAssertion)
			}
			for k, cc := range rc.ColumnChecks {
				cf := fmt.Sprintf("%s.columnChecks[%d]", rf, k)
				if cc.Column == "" {
					p.addf("%s.column is required", cf)
				}
				checkExpression(p, cf+".assertion", cc.Assertion)
			}
		}
	}
}

func checkPath(p *problems, field, path string) {
	var root string
	if tokens := response.Tokenize(path); len(tokens) > 0 {
		root = tokens[0]
	}
	switch root {
	case response.BodyPrefix:
	case response.HeaderPrefix:
		if strings.Count(path, ".") != 1 || !strings.HasPrefix(path, response.HeaderPrefix+".") {
			p.addf("%s.path %q must be responseHeader.<name>", field, path)
		}
	default:
		p.addf("%s.path %q must start with %s or %s", field, path, response.BodyPrefix, response.HeaderPrefix)
	}
}

func checkExpression(p *problems, field, expr string) {
	if _, err := assertion.Parse(variables.Neutralize(expr)); err != nil {
		p.addf("%s: %v", field, err)
	}
}

// CompileAssertions stores every placeholder-free assertion of the units
// in cache, so they are parsed only once per run.
func CompileAssertions(cfgs []TestUnitsConfig, cache *assertion.Cache) error {
	compile := func(expr string) error {
		if variables.Neutralize(expr) != expr {
			return nil
		}
		_, err := cache.Get(expr)
		return err
	}

	for _, cfg := range cfgs {
		for _, u := range cfg.TestUnits {
			if u.Validation == nil {
				continue
			}
			for _, a := range u.Validation.Assertions {
				if err := compile(a.Assertion); err != nil {
					return fmt.Errorf("%s: unit %q: %w", cfg.Name, u.Name, err)
				}
			}
			for _, t := range u.Validation.TablesToCheck {
				for _, rc := range t.RowChecks {
					if rc.RowCountAssertion != "" {
						if err := compile(rc.RowCountAssertion); err != nil {
							return fmt.Errorf("%s: unit %q: %w", cfg.Name, u.Name, err)
						}
					}
					for _, cc := range rc.ColumnChecks {
						if err := compile(cc.Assertion); err != nil {
							return fmt.Errorf("%s: unit %q: %w", cfg.Name, u.Name, err)
						}
					}
				}
			}
		}
	}
	return nil
}

// CheckReadBeforeWrite verifies that every variable a unit reads is known
// by then: listed in known, predefined, or set by an earlier unit.
func CheckReadBeforeWrite(cfgs []TestUnitsConfig, known []string) error {
	available := make(map[string]bool)
	for _, name := range variables.Predefined() {
		available[name] = true
	}
	for _, name := range known {
		available[name] = true
	}

	var p problems
	for _, cfg := range cfgs {
		for i, u := range cfg.TestUnits {
			refs, err := variables.References(u)
			if err != nil {
				return fmt.Errorf("%s: unit %q: %w", cfg.Name, u.Name, err)
			}
			for _, ref := range refs {
				if !available[ref] {
					p.addf("%s: testUnits[%d] (%s) reads variable %q before any unit sets it", cfg.Name, i, u.Name, ref)
				}
			}
			for _, v := range u.VariablesToSet {
				available[v.VariableName] = true
			}
		}
	}
	return p.err("test units")
}
