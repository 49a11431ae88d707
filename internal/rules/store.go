package rules

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"

	"github.com/polkit-go/polkitd/internal/action"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/log"
	"gopkg.in/yaml.v2"
)

// record is the on-disk shape of one rule file: a flat list of rule records
// (spec §6 rule file format), each carrying glob lists and optional result
// overrides.
type record struct {
	Group          string            `yaml:"group"`
	Identity       []string          `yaml:"identity"`
	Action         []string          `yaml:"action"`
	ResultAny      string            `yaml:"resultAny,omitempty"`
	ResultInactive string            `yaml:"resultInactive,omitempty"`
	ResultActive   string            `yaml:"resultActive,omitempty"`
	ReturnValue    map[string]string `yaml:"returnValue,omitempty"`
}

type file struct {
	Rules []record `yaml:"rules"`
}

// LoadError describes a single rule file, or a single rule within an
// otherwise valid file, that could not be used.
type LoadError struct {
	File string
	Rule string
	Err  error
}

func (e LoadError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s (%s): %v", e.File, e.Rule, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

// LogLoadErrors writes one warning line per load failure, matching the same
// §7 reload recovery contract action.LogLoadErrors implements for actions.
func LogLoadErrors(errs []LoadError) {
	for _, e := range errs {
		log.Warningf(context.Background(), i18n.G("dropping malformed rule %s: %v"), e.File, e.Err)
	}
}

// Store is an immutable, priority-ordered snapshot of every successfully
// loaded rule. Rules from lexicographically later files override earlier
// ones on match (spec §4.4); the rules are kept in *load* order and Apply
// walks them forward, so a later match overrides an earlier one.
type Store struct {
	rules []Rule
}

// Load scans dir for files named "*"+config.RuleFileSuffix in lexicographic
// order, parsing each into zero or more rules and precompiling their globs.
// Every pattern that fails to compile is reported; a rule left with no
// compilable identity pattern or no compilable action pattern is dropped on
// its own; a file that fails to parse at all is dropped in its entirety.
func Load(dir string) (*Store, []LoadError) {
	s := &Store{}
	var loadErrs []LoadError

	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return s, []LoadError{{File: dir, Err: err}}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !hasRuleSuffix(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := ioutil.ReadFile(path)
		if err != nil {
			loadErrs = append(loadErrs, LoadError{File: path, Err: err})
			continue
		}
		var f file
		if err := yaml.Unmarshal(data, &f); err != nil {
			loadErrs = append(loadErrs, LoadError{File: path, Err: err})
			continue
		}
		for i, rec := range f.Rules {
			group := rec.Group
			if group == "" {
				group = fmt.Sprintf("rule-%d", i)
			}
			r := Rule{
				ID:               fmt.Sprintf("%s::%s", name, group),
				IdentityPatterns: rec.Identity,
				ActionPatterns:   rec.Action,
				ResultAny:        action.ImplicitAuthorization(rec.ResultAny),
				ResultInactive:   action.ImplicitAuthorization(rec.ResultInactive),
				ResultActive:     action.ImplicitAuthorization(rec.ResultActive),
				Details:          rec.ReturnValue,
			}
			if errs := r.compile(); len(errs) > 0 {
				for _, e := range errs {
					loadErrs = append(loadErrs, LoadError{File: path, Rule: r.ID, Err: e})
				}
				if len(r.identityGlobs) == 0 || len(r.actionGlobs) == 0 {
					continue
				}
			}
			s.rules = append(s.rules, r)
		}
	}

	return s, loadErrs
}

func hasRuleSuffix(name string) bool {
	suffix := config.RuleFileSuffix
	return len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix
}

// Decision is the result of applying the rule store on top of a declarative
// default: the (possibly overridden) implicit authorization slots, plus any
// merged detail mapping, and the id of the last rule that matched (if any).
type Decision struct {
	Any, Inactive, Active action.ImplicitAuthorization
	Details               map[string]string
	MatchedRuleID         string
}

// Apply walks every loaded rule in ascending priority order (s.rules is
// built in lexicographic file-load order, lowest priority first) and lets
// each matching rule override the declarative defaults in turn, so a later
// (higher-priority) match wins over an earlier one for any slot it sets;
// iteration never short-circuits on the first match, since a lower-priority
// rule may still set a slot a higher-priority match left untouched, matching
// spec §4.4 ("iteration continues because later (higher-priority) rules may
// further override").
func (s *Store) Apply(identityString, actionID string, any, inactive, active action.ImplicitAuthorization) Decision {
	d := Decision{Any: any, Inactive: inactive, Active: active, Details: map[string]string{}}

	for i := range s.rules {
		r := &s.rules[i]
		if !r.Matches(identityString, actionID) {
			continue
		}
		d.MatchedRuleID = r.ID
		if r.ResultAny != "" {
			d.Any = r.ResultAny
		}
		if r.ResultInactive != "" {
			d.Inactive = r.ResultInactive
		}
		if r.ResultActive != "" {
			d.Active = r.ResultActive
		}
		for k, v := range r.Details {
			d.Details[k] = v
		}
	}
	return d
}

// Rules returns every loaded rule in load (lexicographic file) order.
func (s *Store) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}
