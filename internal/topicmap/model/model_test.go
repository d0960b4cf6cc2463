package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personJSON = `[
  {
    "type_id": "dm3.contacts.person",
    "implementation": "PlainDocument",
    "view": {"icon_src": "images/person.png", "label_field": "name", "label": "Person"},
    "fields": [
      {"id": "name", "model": {"type": "text"}, "indexing_mode": "KEY"},
      {"id": "bio", "model": {"type": "html"}, "view": {"editor": "multi line"}, "indexing_mode": "FULLTEXT"},
      {"id": "employer", "model": {"type": "relation", "related_type_id": "dm3.contacts.institution"}}
    ]
  }
]`

func TestParseTypeDescriptions(t *testing.T) {
	types, err := ParseTypeDescriptions(strings.NewReader(personJSON))
	require.NoError(t, err)
	require.Len(t, types, 1)

	person := types[0]
	assert.Equal(t, "dm3.contacts.person", person.Identifier())
	assert.Equal(t, TopicTypeTypeID, person.TypeID)
	assert.Equal(t, NoID, person.ID)
	assert.Equal(t, "Person", person.Label)
	assert.Equal(t, "name", person.LabelField())
	assert.Equal(t, []string{"name", "bio", "employer"}, person.FieldIDs())

	name, ok := person.DataField("name")
	require.True(t, ok)
	assert.Equal(t, DataTypeText, name.DataType)
	assert.Equal(t, EditorSingleLine, name.Editor)
	assert.Equal(t, IndexingKey, name.IndexingMode)

	bio, _ := person.DataField("bio")
	assert.Equal(t, EditorMultiLine, bio.Editor)
	assert.Equal(t, IndexingFulltext, bio.IndexingMode)

	employer, _ := person.DataField("employer")
	assert.Equal(t, DataTypeRelation, employer.DataType)
	assert.Equal(t, "dm3.contacts.institution", employer.RelatedTypeID)
	assert.Equal(t, IndexingOff, employer.IndexingMode)
}

func TestParseTypeDescriptionsFormatErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{invalid`},
		{"missing type_id", `[{"fields": []}]`},
		{"field without id", `[{"type_id": "t", "fields": [{"model": {"type": "text"}}]}]`},
		{"field without model type", `[{"type_id": "t", "fields": [{"id": "a", "model": {}}]}]`},
		{"unknown data type", `[{"type_id": "t", "fields": [{"id": "a", "model": {"type": "blob"}}]}]`},
		{"relation without related type", `[{"type_id": "t", "fields": [{"id": "a", "model": {"type": "relation"}}]}]`},
		{"fulltext key on the shared key", `[{"type_id": "t", "fields": [{"id": "default", "model": {"type": "text"}, "indexing_mode": "FULLTEXT_KEY"}]}]`},
		{"duplicate field", `[{"type_id": "t", "fields": [{"id": "a", "model": {"type": "text"}}, {"id": "a", "model": {"type": "text"}}]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTypeDescriptions(strings.NewReader(tt.json))
			require.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestUnknownIndexingModeAcceptedAtDefinitionTime(t *testing.T) {
	f, err := DataFieldFromDescription(FieldDescription{
		ID:           "a",
		Model:        FieldModel{Type: "text"},
		IndexingMode: "SOMETIMES",
	})
	require.NoError(t, err)
	assert.Equal(t, IndexingMode("SOMETIMES"), f.IndexingMode)
}

func TestSharedFulltextKeyAsFieldID(t *testing.T) {
	f := &DataField{ID: DefaultFulltextKey, IndexingMode: IndexingFulltext}
	require.NoError(t, f.Validate())

	f.IndexingMode = IndexingFulltextKey
	assert.ErrorIs(t, f.Validate(), ErrFormat)
}

func TestDescriptionRoundTrip(t *testing.T) {
	types, err := ParseTypeDescriptions(strings.NewReader(personJSON))
	require.NoError(t, err)
	person := types[0]

	first, err := json.Marshal(person.Description())
	require.NoError(t, err)

	again, err := TopicTypeFromDescription(person.Description())
	require.NoError(t, err)
	second, err := json.Marshal(again.Description())
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.True(t, person.SameFields(again))
	assert.Equal(t, person.Properties, again.Properties)
}

func TestSetDataFieldOrder(t *testing.T) {
	newType := func() *TopicType {
		return NewTopicType(map[string]any{PropTypeID: "t"}, []*DataField{
			NewDataField("a"), NewDataField("b"), NewDataField("c"),
		})
	}

	t.Run("permutation", func(t *testing.T) {
		tt := newType()
		require.NoError(t, tt.SetDataFieldOrder([]string{"c", "a", "b"}))
		assert.Equal(t, []string{"c", "a", "b"}, tt.FieldIDs())
	})

	invalid := map[string][]string{
		"too short": {"a", "b"},
		"too long":  {"a", "b", "c", "a"},
		"duplicate": {"a", "a", "b"},
		"unknown":   {"a", "b", "x"},
	}
	for name, order := range invalid {
		t.Run(name, func(t *testing.T) {
			tt := newType()
			err := tt.SetDataFieldOrder(order)
			require.ErrorIs(t, err, ErrContractViolation)
			assert.Equal(t, []string{"a", "b", "c"}, tt.FieldIDs())
		})
	}
}

func TestAddDataFieldRejectsDuplicate(t *testing.T) {
	tt := NewTopicType(map[string]any{PropTypeID: "t"}, []*DataField{NewDataField("a")})
	require.NoError(t, tt.AddDataField(NewDataField("b")))
	require.ErrorIs(t, tt.AddDataField(NewDataField("a")), ErrContractViolation)
	assert.Equal(t, []string{"a", "b"}, tt.FieldIDs())
}

func TestTopicLabel(t *testing.T) {
	withLabelField := NewTopicType(map[string]any{PropTypeID: "t", PropLabelField: "title"},
		[]*DataField{NewDataField("name"), NewDataField("title")})
	assert.Equal(t, "Dr", withLabelField.TopicLabel(map[string]any{"name": "Ada", "title": "Dr"}))

	firstField := NewTopicType(map[string]any{PropTypeID: "t"},
		[]*DataField{NewDataField("name"), NewDataField("title")})
	assert.Equal(t, "Ada", firstField.TopicLabel(map[string]any{"name": "Ada"}))
	assert.Equal(t, "42", firstField.TopicLabel(map[string]any{"name": float64(42)}))
	assert.Equal(t, "", firstField.TopicLabel(map[string]any{"title": "Dr"}))

	empty := NewTopicType(map[string]any{PropTypeID: "t"}, nil)
	assert.Equal(t, "", empty.TopicLabel(map[string]any{"x": "y"}))
}

func TestCloneIsIndependent(t *testing.T) {
	tt := NewTopicType(map[string]any{PropTypeID: "t"}, []*DataField{NewDataField("a")})
	tt.ID = 7
	c := tt.Clone()
	require.NoError(t, c.AddDataField(NewDataField("b")))
	c.DataFields[0].IndexingMode = IndexingKey

	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, []string{"a"}, tt.FieldIDs())
	assert.Equal(t, IndexingOff, tt.DataFields[0].IndexingMode)
}

func TestParseRelationFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    RelationFilter
		wantErr bool
	}{
		{in: "LIKES", want: RelationFilter{TypeID: "LIKES"}},
		{in: "LIKES;OUTGOING", want: RelationFilter{TypeID: "LIKES", Direction: DirectionOutgoing}},
		{in: "LIKES;INCOMING", want: RelationFilter{TypeID: "LIKES", Direction: DirectionIncoming}},
		{in: "LIKES;SIDEWAYS", wantErr: true},
		{in: ";OUTGOING", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRelationFilter(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestRelationFilterExcludes(t *testing.T) {
	out := RelationFilter{TypeID: "LIKES", Direction: DirectionOutgoing}
	in := RelationFilter{TypeID: "LIKES", Direction: DirectionIncoming}
	both := RelationFilter{TypeID: "LIKES"}

	assert.True(t, out.Excludes("LIKES", true))
	assert.False(t, out.Excludes("LIKES", false))
	assert.False(t, in.Excludes("LIKES", true))
	assert.True(t, in.Excludes("LIKES", false))
	assert.True(t, both.Excludes("LIKES", true))
	assert.True(t, both.Excludes("LIKES", false))
	assert.False(t, both.Excludes("KNOWS", true))
}
