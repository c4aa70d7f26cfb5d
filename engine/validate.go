package engine

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/kit/digest"
	"github.com/vormadev/outhash/kit/source"
	"golang.org/x/sync/errgroup"
)

const validateConcurrency = 16

type validateTarget struct {
	name string
	path string
	data []byte
	err  error
}

// Validate reads each file in names (relative to dir) that matches pattern
// and checks that its name contains the short digest of its content. A nil
// pattern selects every name. The first mismatch in name order is returned.
func Validate(dir string, names []string, hasher *digest.Hasher, pattern *regexp.Regexp) error {
	var targets []*validateTarget
	for _, name := range names {
		if pattern != nil && !pattern.MatchString(name) {
			continue
		}
		targets = append(targets, &validateTarget{name: name, path: filepath.Join(dir, filepath.FromSlash(name))})
	}
	return validateTargets(targets, hasher)
}

// ValidateAssets is Validate over an asset map, leaving out the names in
// exclude. Linked sources are read from the path they were written to;
// everything else from dir.
func ValidateAssets(dir string, assets *Assets, hasher *digest.Hasher, pattern *regexp.Regexp, exclude ...string) error {
	var targets []*validateTarget
	for _, name := range assets.Names() {
		if pattern != nil && !pattern.MatchString(name) || slices.Contains(exclude, name) {
			continue
		}
		p := filepath.Join(dir, filepath.FromSlash(name))
		a, _ := assets.Get(name)
		if l, ok := a.Source.(*source.Linked); ok && l.Path != "" {
			p = l.Path
		}
		targets = append(targets, &validateTarget{name: name, path: p})
	}
	return validateTargets(targets, hasher)
}

func validateTargets(targets []*validateTarget, hasher *digest.Hasher) error {
	slices.SortFunc(targets, func(a, b *validateTarget) int { return strings.Compare(a.name, b.name) })

	var g errgroup.Group
	g.SetLimit(validateConcurrency)
	for _, t := range targets {
		g.Go(func() error {
			t.data, t.err = os.ReadFile(t.path)
			return nil
		})
	}
	g.Wait()

	for _, t := range targets {
		if t.err != nil {
			return errors.Wrapf(ErrValidation, "%s: %v", t.name, t.err)
		}
		sum := hasher.Short(t.data)
		if !strings.Contains(t.name, sum) {
			return errors.WithHint(
				errors.Wrapf(ErrValidation, "%s: name does not contain content digest %s", t.name, sum),
				"a step after rehashing changed this file, or validate.pattern selects files that are never renamed",
			)
		}
	}
	return nil
}
