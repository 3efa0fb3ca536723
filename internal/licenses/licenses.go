// Package licenses reports the third-party dependencies compiled into
// axond, from a CSV embedded at build time.
package licenses

import (
	"cmp"
	_ "embed"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// LicensesCSV is the dependency report, one package,url,type row per
// module. Regenerate it when go.mod changes.
//
//go:embed licenses.csv
var LicensesCSV []byte

// License identifies one third-party dependency and its license.
type License struct {
	Package string // module path, e.g. "github.com/spf13/cobra"
	URL     string // where the license text lives
	Type    string // SPDX-style name, e.g. "MIT"
}

// load parses the embedded CSV once; every call shares the result.
var load = sync.OnceValues(func() ([]License, error) {
	r := csv.NewReader(strings.NewReader(string(LicensesCSV)))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse licenses CSV: %w", err)
	}

	out := make([]License, 0, len(records))
	for _, rec := range records {
		if len(rec) < 3 {
			continue
		}
		out = append(out, License{Package: rec[0], URL: rec[1], Type: rec[2]})
	}
	slices.SortFunc(out, func(a, b License) int {
		return cmp.Compare(a.Package, b.Package)
	})
	return out, nil
})

// List returns every third-party license, sorted by module path.
func List() ([]License, error) {
	return load()
}

// Count returns the number of third-party dependencies.
func Count() int {
	list, err := load()
	if err != nil {
		return 0
	}
	return len(list)
}

// LicenseTypes returns how many dependencies use each license type.
func LicenseTypes() map[string]int {
	list, err := load()
	if err != nil {
		return nil
	}

	types := make(map[string]int)
	for _, lic := range list {
		types[lic.Type]++
	}
	return types
}
