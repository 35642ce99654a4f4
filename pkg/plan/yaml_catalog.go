package plan

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of an operator-managed plan table.
type catalogFile struct {
	Plans []Plan `yaml:"plans"`
}

// NewYAMLCatalog loads a plan table from a YAML file and serves it from
// memory. The file is read once; plan edits require a restart, which is
// acceptable because plan changes are rare operator actions.
//
// File shape:
//
//	plans:
//	  - id: free
//	    name: Free
//	    rank: 0
//	    active: true
//	    limits:
//	      calls: 5
//	      texts: 20
//	      emails: unlimited
func NewYAMLCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("%w: %s contains no plans", ErrFailedToLoadCatalog, path)
	}

	return NewMemoryCatalog(file.Plans...)
}
