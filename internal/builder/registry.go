package builder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/tonimelisma/bulkmutate/internal/table"
)

// Processor tags recognized in the input preamble.
const (
	TagTest              = "TEST"
	TagFeedDelete        = "FEEDDELETE"
	TagCampaignMigration = "CAMPAIGNMIGRATION"
)

// supportedVersions is the preamble schema-version range every variant accepts.
const supportedVersions = ">= 1.0, < 3.0"

type registration struct {
	factory    func(Deps) Builder
	constraint string
}

var registry = map[string]registration{
	TagTest:              {factory: func(d Deps) Builder { return NewTest(d) }, constraint: supportedVersions},
	TagFeedDelete:        {factory: func(d Deps) Builder { return NewFeedDelete(d) }, constraint: supportedVersions},
	TagCampaignMigration: {factory: func(d Deps) Builder { return NewCampaignMigration(d) }, constraint: supportedVersions},
}

// Tags returns the registered processor tags, sorted.
func Tags() []string {
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}

	slices.Sort(tags)

	return tags
}

// New instantiates the builder for the preamble's processor tag after
// checking its schema version. Both failures are *table.SchemaError.
func New(p table.Preamble, deps Deps) (Builder, error) {
	tag := strings.ToUpper(p.Processor)

	reg, ok := registry[tag]
	if !ok {
		return nil, table.SchemaErrorf("unknown processor %q (known: %s)", p.Processor, strings.Join(Tags(), ", "))
	}

	if err := checkVersion(p.Version, reg.constraint); err != nil {
		return nil, err
	}

	return reg.factory(deps), nil
}

// checkVersion accepts an empty version; otherwise the version must parse
// and satisfy constraint.
func checkVersion(version, constraint string) error {
	if version == "" {
		return nil
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return table.SchemaErrorf("schema version %q is not a valid version: %v", version, err)
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("builder: bad version constraint %q: %w", constraint, err)
	}

	if !c.Check(v) {
		return table.SchemaErrorf("schema version %s is not supported (want %s)", version, constraint)
	}

	return nil
}
