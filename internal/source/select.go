package source

import (
	"fmt"
	"os"
	"strings"
)

// Select narrows descriptors to the one matching alias. An empty alias keeps
// all of them. Declared and normalized forms both match.
func Select(ds []Descriptor, alias string) ([]Descriptor, error) {
	if alias == "" {
		return ds, nil
	}
	want := Slugify(alias)
	for _, d := range ds {
		if d.Alias == want || d.DeclaredAlias == alias {
			return []Descriptor{d}, nil
		}
	}
	return nil, fmt.Errorf("%w: source %q is not present in the sources file", ErrUnknownAlias, alias)
}

// LayerName is the output layer name, e.g. rr_01_park_national.
func LayerName(prefix string, d Descriptor) string {
	return fmt.Sprintf("%s_%02d_%s", prefix, d.Index, strings.ToLower(d.Alias))
}

// FileName is LayerName with an extension, e.g. rr_01_park_national.parquet.
func FileName(prefix string, d Descriptor, ext string) string {
	return LayerName(prefix, d) + "." + strings.TrimPrefix(ext, ".")
}

// ExpandPath replaces $VAR and ${VAR} references in path. A reference to a
// variable lookup does not know is an error. A nil lookup uses the process
// environment.
func ExpandPath(path string, lookup func(string) (string, bool)) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var missing []string
	out := os.Expand(path, func(name string) string {
		v, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: unset environment variable %s in %q", ErrIO, strings.Join(missing, ", "), path)
	}
	return out, nil
}
