package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `[
  {
    "alias": "park_national",
    "description": "National Park",
    "source_type": "BCGW",
    "source": "WHSE_ADMIN_BOUNDARIES.CLAB_NATIONAL_PARKS",
    "query": null,
    "primary_key": "NATIONAL_PARK_ID",
    "field_mapper": {"name": "ENGLISH_NAME", "park_class": null},
    "data": {"harvest_restriction": 1, "og_restriction": 1.5, "active": true}
  },
  {
    "alias": "ogma_legal",
    "source_type": "FILE",
    "source": "/vsizip//vsis3/$BUCKET/ogma.zip",
    "layer": "ogma",
    "query": "LEGAL_STATUS = 'LEGAL'"
  }
]`

func TestParseDocumentKeepsOrder(t *testing.T) {
	raws, err := ParseDocument([]byte(validDoc))
	require.NoError(t, err)
	require.Len(t, raws, 2)

	assert.Equal(t, []string{"name", "park_class"}, raws[0].FieldMapper.Fields())
	assert.Nil(t, raws[0].FieldMapper[1].Column)
	assert.Equal(t, Constants{
		{Field: "harvest_restriction", Value: int64(1)},
		{Field: "og_restriction", Value: 1.5},
		{Field: "active", Value: true},
	}, raws[0].Data)
	assert.Nil(t, raws[0].Query)
	require.NotNil(t, raws[1].Layer)
	assert.Equal(t, "ogma", *raws[1].Layer)
}

func TestValidateDocumentReportsEveryViolation(t *testing.T) {
	doc := `[
	  {"alias": "a", "source_type": "BCGW", "source": "T"},
	  {"alias": 7, "source_type": "SHAPE", "source": "x", "query": null}
	]`
	err := ValidateDocument([]byte(doc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	paths := map[string]bool{}
	for _, v := range se.Violations {
		paths[v.Path] = true
		assert.NotEmpty(t, v.Message)
	}
	assert.True(t, paths["/0"], "missing query should be reported on /0: %v", se.Violations)
	assert.True(t, paths["/1/alias"], "%v", se.Violations)
	assert.True(t, paths["/1/source_type"], "%v", se.Violations)
}

func TestValidateDocumentRejectsNonArray(t *testing.T) {
	err := ValidateDocument([]byte(`{"alias": "a"}`))
	assert.ErrorIs(t, err, ErrSchema)
}

func TestValidateDocumentRejectsBadJSON(t *testing.T) {
	err := ValidateDocument([]byte(`[{"alias": `))
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "invalid JSON")
}

func TestValidateDocumentLayerOnlyForFiles(t *testing.T) {
	doc := `[{"alias": "a", "source_type": "BCGW", "source": "T", "query": null, "layer": "x"}]`
	err := ValidateDocument([]byte(doc))
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/0/layer", se.Violations[0].Path)
}

func TestValidateDocumentRejectsUnknownKeys(t *testing.T) {
	doc := `[{"alias": "a", "source_type": "FILE", "source": "x", "query": null, "fieldmapper": {}}]`
	assert.ErrorIs(t, ValidateDocument([]byte(doc)), ErrSchema)
}

func TestParseDocumentRejectsDuplicateMapperKeys(t *testing.T) {
	doc := `[{"alias": "a", "source_type": "FILE", "source": "x", "query": null,
	  "field_mapper": {"name": "A", "name": "B"}}]`
	_, err := ParseDocument([]byte(doc))
	assert.ErrorIs(t, err, ErrSchema)
}

func TestYAMLDocument(t *testing.T) {
	yml := `
- alias: Park National
  source_type: BCGW
  source: WHSE_ADMIN_BOUNDARIES.CLAB_NATIONAL_PARKS
  query: ~
  field_mapper:
    zname: ENGLISH_NAME
    aclass: null
  data:
    harvest_restriction: 1
    ratio: 0.25
`
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	raws, err := Load(path)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, []string{"zname", "aclass"}, raws[0].FieldMapper.Fields())
	assert.Equal(t, Constants{{Field: "harvest_restriction", Value: int64(1)}, {Field: "ratio", Value: 0.25}}, raws[0].Data)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := error(&Error{Kind: ErrIO, Alias: "wha", Msg: "open layer", Err: cause})
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEmptyResult)
	assert.Equal(t, "wha - i/o error: open layer: dial tcp: timeout", err.Error())
}
