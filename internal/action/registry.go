package action

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/log"
	"github.com/polkit-go/polkitd/internal/polkiterr"
	"gopkg.in/yaml.v2"
)

// idGrammar matches a hierarchical, dot-separated, case-sensitive action id:
// "vendor.module.verb" (spec §3).
var idGrammar = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9_-]*\.)*[A-Za-z0-9_-]+$`)

// ValidID reports whether id conforms to the action-id grammar.
func ValidID(id string) bool {
	return id != "" && idGrammar.MatchString(id)
}

// LoadError describes one file that failed to load during a scan; the
// offending file is dropped and the scan continues with the rest (spec §7).
type LoadError struct {
	File string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

// Registry is an immutable snapshot of every successfully loaded action
// descriptor. Registries are never mutated in place; Load produces a new one
// (spec §4.2 "Reload contract").
type Registry struct {
	byID map[string]Descriptor
	ids  []string // sorted, for stable enumeration
}

// Load scans dir for files named "*"+config.ActionFileSuffix, parsing each
// into zero or more descriptors. Ids collide across files iff they are
// byte-identical (same serialized descriptor); any other collision is a load
// failure for the offending file only, and loading continues with the
// remaining files.
func Load(dir string) (*Registry, []LoadError) {
	reg := &Registry{byID: make(map[string]Descriptor)}
	var loadErrs []LoadError

	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return reg, []LoadError{{File: dir, Err: err}}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == "" {
			continue
		}
		if !hasActionSuffix(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		descs, err := loadFile(path)
		if err != nil {
			loadErrs = append(loadErrs, LoadError{File: path, Err: err})
			continue
		}
		for _, d := range descs {
			if !ValidID(d.ID) {
				loadErrs = append(loadErrs, LoadError{File: path,
					Err: fmt.Errorf(i18n.G("invalid action id %q"), d.ID)})
				continue
			}
			if existing, ok := reg.byID[d.ID]; ok {
				if !descriptorsEqual(existing, d) {
					loadErrs = append(loadErrs, LoadError{File: path,
						Err: fmt.Errorf(i18n.G("action id %q redefined with different content"), d.ID)})
					continue
				}
				// byte-identical redefinition: not an error, keep existing.
				continue
			}
			reg.byID[d.ID] = d
			reg.ids = append(reg.ids, d.ID)
		}
	}

	sort.Strings(reg.ids)
	return reg, loadErrs
}

func hasActionSuffix(name string) bool {
	suffix := config.ActionFileSuffix
	if len(name) < len(suffix) {
		return false
	}
	return name[len(name)-len(suffix):] == suffix
}

func loadFile(path string) ([]Descriptor, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Actions, nil
}

func descriptorsEqual(a, b Descriptor) bool {
	data1, err1 := yaml.Marshal(a)
	data2, err2 := yaml.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(data1) == string(data2)
}

// Enumerate returns every loaded descriptor in stable order by id.
func (r *Registry) Enumerate() []Descriptor {
	out := make([]Descriptor, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

// Lookup returns the descriptor for id, or a NoSuchAction error.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, polkiterr.New(polkiterr.KindNoSuchAction,
			fmt.Sprintf(i18n.G("no such action %q"), id))
	}
	return d, nil
}

// DefaultsFor looks up id and returns its implicit authorization for the
// given session state, or NotAuthorized alongside a NoSuchAction error if the
// action is unknown.
func (r *Registry) DefaultsFor(id string, s SessionState) (ImplicitAuthorization, error) {
	d, err := r.Lookup(id)
	if err != nil {
		return NotAuthorized, err
	}
	return d.DefaultFor(s), nil
}

// LogLoadErrors writes one warning line per load failure, matching the §7
// reload recovery contract ("logs the offender, drops that file, and
// continues with the remaining files").
func LogLoadErrors(errs []LoadError) {
	for _, e := range errs {
		log.Warningf(context.Background(), i18n.G("dropping malformed action file %s: %v"), e.File, e.Err)
	}
}
