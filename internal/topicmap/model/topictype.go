package model

import (
	"fmt"
	"slices"
)

// Property keys of a topic type.
const (
	PropTypeID         = "type_id"
	PropImplementation = "implementation"
	PropIconSrc        = "icon_src"
	PropLabelField     = "label_field"
	PropLabel          = "label"
)

// DataType is the value kind of a data field.
type DataType string

const (
	DataTypeText     DataType = "text"
	DataTypeNumber   DataType = "number"
	DataTypeDate     DataType = "date"
	DataTypeHTML     DataType = "html"
	DataTypeRelation DataType = "relation"
)

// Valid reports whether d is one of the known data types.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeText, DataTypeNumber, DataTypeDate, DataTypeHTML, DataTypeRelation:
		return true
	}
	return false
}

// Editor is the presentation hint of a data field.
type Editor string

const (
	EditorSingleLine Editor = "single line"
	EditorMultiLine  Editor = "multi line"
)

// IndexingMode governs how a field value is indexed. Unknown values are
// kept as-is and rejected by the indexing policy when first used.
type IndexingMode string

const (
	IndexingOff         IndexingMode = "OFF"
	IndexingKey         IndexingMode = "KEY"
	IndexingFulltext    IndexingMode = "FULLTEXT"
	IndexingFulltextKey IndexingMode = "FULLTEXT_KEY"
)

// DataField is one schema-declared property slot of a topic type.
type DataField struct {
	ID            string       `json:"id"`
	DataType      DataType     `json:"data_type"`
	RelatedTypeID string       `json:"related_type_id,omitempty"`
	Editor        Editor       `json:"editor"`
	IndexingMode  IndexingMode `json:"indexing_mode"`
}

// NewDataField returns a text field with default editor and indexing.
func NewDataField(id string) *DataField {
	return &DataField{
		ID:           id,
		DataType:     DataTypeText,
		Editor:       EditorSingleLine,
		IndexingMode: IndexingOff,
	}
}

// Validate checks the field's required attributes and fills in defaults
// for the optional ones.
func (f *DataField) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: data field without id", ErrFormat)
	}
	if f.DataType == "" {
		f.DataType = DataTypeText
	}
	if !f.DataType.Valid() {
		return fmt.Errorf("%w: data field %q has unknown data type %q", ErrFormat, f.ID, f.DataType)
	}
	if f.DataType == DataTypeRelation && f.RelatedTypeID == "" {
		return fmt.Errorf("%w: relation field %q without related_type_id", ErrFormat, f.ID)
	}
	if f.Editor == "" {
		f.Editor = EditorSingleLine
	}
	if f.IndexingMode == "" {
		f.IndexingMode = IndexingOff
	}
	if f.IndexingMode == IndexingFulltextKey && f.ID == DefaultFulltextKey {
		return fmt.Errorf("%w: field id %q is the shared full-text key and cannot be indexed %s",
			ErrFormat, f.ID, IndexingFulltextKey)
	}
	return nil
}

// TopicType is the schema for a class of topics: a topic of the reserved
// type-definition type carrying an ordered sequence of data fields.
type TopicType struct {
	Topic
	DataFields []*DataField `json:"data_fields"`
}

// NewTopicType builds an unpersisted topic type from its properties and fields.
func NewTopicType(props map[string]any, fields []*DataField) *TopicType {
	tt := &TopicType{
		Topic: Topic{
			ID:         NoID,
			TypeID:     TopicTypeTypeID,
			Properties: copyProps(props),
		},
		DataFields: fields,
	}
	tt.Label, _ = tt.Properties[PropLabel].(string)
	return tt
}

// Identifier returns the type id this type defines.
func (t *TopicType) Identifier() string {
	s, _ := t.Properties[PropTypeID].(string)
	return s
}

// LabelField returns the id of the field that provides topic labels, if declared.
func (t *TopicType) LabelField() string {
	s, _ := t.Properties[PropLabelField].(string)
	return s
}

// DataField looks up a field by id.
func (t *TopicType) DataField(id string) (*DataField, bool) {
	for _, f := range t.DataFields {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// FieldIDs returns the field ids in sequence order.
func (t *TopicType) FieldIDs() []string {
	ids := make([]string, len(t.DataFields))
	for i, f := range t.DataFields {
		ids[i] = f.ID
	}
	return ids
}

// AddDataField appends a field to the end of the sequence.
func (t *TopicType) AddDataField(f *DataField) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if _, ok := t.DataField(f.ID); ok {
		return fmt.Errorf("%w: type %q already has data field %q", ErrContractViolation, t.Identifier(), f.ID)
	}
	t.DataFields = append(t.DataFields, f)
	return nil
}

// SetDataFieldOrder reorders the sequence. ids must name every existing
// field exactly once; otherwise the sequence is left unchanged.
func (t *TopicType) SetDataFieldOrder(ids []string) error {
	if len(ids) != len(t.DataFields) {
		return fmt.Errorf("%w: order names %d fields, type %q has %d",
			ErrContractViolation, len(ids), t.Identifier(), len(t.DataFields))
	}
	ordered := make([]*DataField, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("%w: field %q named twice", ErrContractViolation, id)
		}
		seen[id] = true
		f, ok := t.DataField(id)
		if !ok {
			return fmt.Errorf("%w: type %q has no data field %q", ErrContractViolation, t.Identifier(), id)
		}
		ordered = append(ordered, f)
	}
	t.DataFields = ordered
	return nil
}

// TopicLabel derives the display label of an instance: the value of the
// label field when declared, otherwise the value of the first data field.
func (t *TopicType) TopicLabel(props map[string]any) string {
	key := t.LabelField()
	if key == "" {
		if len(t.DataFields) == 0 {
			return ""
		}
		key = t.DataFields[0].ID
	}
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Clone returns a deep copy; mutations of the copy do not affect t.
func (t *TopicType) Clone() *TopicType {
	fields := make([]*DataField, len(t.DataFields))
	for i, f := range t.DataFields {
		cp := *f
		fields[i] = &cp
	}
	c := NewTopicType(t.Properties, fields)
	c.ID = t.ID
	return c
}

// SameFields reports whether both types declare equal fields in equal order.
func (t *TopicType) SameFields(other *TopicType) bool {
	return slices.EqualFunc(t.DataFields, other.DataFields, func(a, b *DataField) bool {
		return *a == *b
	})
}
