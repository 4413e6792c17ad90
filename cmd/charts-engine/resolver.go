package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/akrasnov87/charts-engine/internal/builder"
)

// dirResolver resolves shared library modules from a local directory. A
// module named "date-utils" is looked up as date-utils.risor, then as a
// bare file.
type dirResolver struct {
	dir string
}

func (r dirResolver) Resolve(_ context.Context, name string) (string, error) {
	if r.dir == "" {
		return "", &builder.ModuleLookupError{
			Name:   name,
			Status: http.StatusNotFound,
			Err:    fmt.Errorf("no modules directory configured"),
		}
	}

	base := filepath.Join(r.dir, filepath.Clean(name))
	for _, candidate := range []string{base + ".risor", base} {
		code, err := os.ReadFile(candidate)
		if err == nil {
			return string(code), nil
		}
		if !os.IsNotExist(err) {
			return "", &builder.ModuleLookupError{Name: name, Status: http.StatusInternalServerError, Err: err}
		}
	}
	return "", &builder.ModuleLookupError{
		Name:   name,
		Status: http.StatusNotFound,
		Err:    os.ErrNotExist,
	}
}
