package source

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CurrentDateToken is replaced in queries with the run date.
const CurrentDateToken = "{CURRENT_DATE}"

// Warning records an alias that was rewritten during normalization.
type Warning struct {
	Index      int
	Declared   string
	Normalized string
}

func (w Warning) String() string {
	return fmt.Sprintf("alias %q normalized to %q", w.Declared, w.Normalized)
}

// Normalize turns raw sources into descriptors. raws is not modified. The
// result keeps input order and numbers sources from 1.
func Normalize(raws []RawSource, today time.Time) ([]Descriptor, []Warning, error) {
	date := today.Format(time.DateOnly)
	out := make([]Descriptor, 0, len(raws))
	var warnings []Warning
	var (
		bad       []Violation
		ambiguous []error
	)
	seen := map[string]int{}

	for i, r := range raws {
		at := fmt.Sprintf("/%d", i)
		d := Descriptor{
			Index:         i + 1,
			DeclaredAlias: r.Alias,
			Alias:         Slugify(r.Alias),
			Description:   r.Description,
			FieldMapper:   r.FieldMapper.clone(),
			Data:          r.Data.clone(),
		}
		if d.Description == "" {
			d.Description = r.Name
		}
		if d.Alias == "" {
			bad = append(bad, Violation{Path: at + "/alias", Message: fmt.Sprintf("alias %q has no letters or digits", r.Alias)})
			continue
		}
		if d.Alias != r.Alias {
			warnings = append(warnings, Warning{Index: d.Index, Declared: r.Alias, Normalized: d.Alias})
		}
		if prev, dup := seen[d.Alias]; dup {
			ambiguous = append(ambiguous, &Error{
				Kind:  ErrAliasAmbiguity,
				Alias: d.Alias,
				Msg:   fmt.Sprintf("sources %d and %d both normalize to %q", prev, d.Index, d.Alias),
			})
			continue
		}
		seen[d.Alias] = d.Index

		kind, err := ParseKind(r.SourceType)
		if err != nil {
			bad = append(bad, Violation{Path: at + "/source_type", Message: err.Error()})
			continue
		}
		switch kind {
		case KindRemoteService:
			d.Location = RemoteTable{Table: r.Source}
		case KindFile:
			fl := FileLayer{Path: r.Source}
			if r.Layer != nil {
				fl.Layer = *r.Layer
			}
			d.Location = fl
		}
		if r.Query != nil {
			d.Query = strings.ReplaceAll(*r.Query, CurrentDateToken, date)
		}
		if r.PrimaryKey != nil {
			d.PrimaryKey = *r.PrimaryKey
		}
		if r.NameColumn != nil && *r.NameColumn != "" && !d.FieldMapper.Has("name") {
			col := *r.NameColumn
			d.FieldMapper = append(d.FieldMapper, FieldMapping{Field: "name", Column: &col})
		}
		bad = append(bad, checkOutputFields(at, d)...)
		out = append(out, d)
	}
	errs := ambiguous
	if len(bad) > 0 {
		errs = append([]error{&SchemaError{Violations: bad}}, errs...)
	}
	switch len(errs) {
	case 0:
		return out, warnings, nil
	case 1:
		return nil, warnings, errs[0]
	default:
		return nil, warnings, errors.Join(errs...)
	}
}

// checkOutputFields rejects field_mapper and data keys that would collide
// with a reserved column or with each other.
func checkOutputFields(at string, d Descriptor) []Violation {
	var bad []Violation
	used := map[string]string{"geom": "reserved"}
	for _, c := range ReservedColumns {
		used[c] = "reserved"
	}
	check := func(block, field string) {
		key := strings.ToLower(field)
		if prev, ok := used[key]; ok {
			msg := fmt.Sprintf("output field %q collides with a %s column", field, prev)
			if prev != "reserved" {
				msg = fmt.Sprintf("output field %q is also declared in %s", field, prev)
			}
			bad = append(bad, Violation{Path: at + "/" + block + "/" + field, Message: msg})
			return
		}
		used[key] = block
	}
	for _, f := range d.FieldMapper {
		check("field_mapper", f.Field)
	}
	for _, c := range d.Data {
		check("data", c.Field)
	}
	return bad
}
