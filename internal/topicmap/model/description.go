package model

import (
	"encoding/json"
	"fmt"
	"io"
)

// TypeDescription is the bootstrap shape of a topic type, as consumed by
// the type importer.
type TypeDescription struct {
	TypeID         string             `json:"type_id"`
	Implementation string             `json:"implementation"`
	View           TypeView           `json:"view"`
	Fields         []FieldDescription `json:"fields"`
}

// TypeView holds presentation attributes of a type.
type TypeView struct {
	IconSrc    string `json:"icon_src"`
	LabelField string `json:"label_field,omitempty"`
	Label      string `json:"label"`
}

// FieldDescription is the bootstrap shape of a data field.
type FieldDescription struct {
	ID           string     `json:"id"`
	Model        FieldModel `json:"model"`
	View         *FieldView `json:"view,omitempty"`
	IndexingMode string     `json:"indexing_mode,omitempty"`
}

// FieldModel holds the value kind of a field.
type FieldModel struct {
	Type          string `json:"type"`
	RelatedTypeID string `json:"related_type_id,omitempty"`
}

// FieldView holds presentation attributes of a field.
type FieldView struct {
	Editor string `json:"editor"`
}

// ParseTypeDescriptions decodes one JSON array of type descriptions and
// converts every entry. The first malformed entry aborts the parse.
func ParseTypeDescriptions(r io.Reader) ([]*TopicType, error) {
	var descs []TypeDescription
	if err := json.NewDecoder(r).Decode(&descs); err != nil {
		return nil, fmt.Errorf("%w: decoding type descriptions: %v", ErrFormat, err)
	}
	types := make([]*TopicType, 0, len(descs))
	for i, d := range descs {
		tt, err := TopicTypeFromDescription(d)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		types = append(types, tt)
	}
	return types, nil
}

// TopicTypeFromDescription builds a topic type from its bootstrap description.
func TopicTypeFromDescription(d TypeDescription) (*TopicType, error) {
	if d.TypeID == "" {
		return nil, fmt.Errorf("%w: type description without type_id", ErrFormat)
	}
	props := map[string]any{
		PropTypeID:         d.TypeID,
		PropImplementation: d.Implementation,
		PropIconSrc:        d.View.IconSrc,
		PropLabel:          d.View.Label,
	}
	if d.View.LabelField != "" {
		props[PropLabelField] = d.View.LabelField
	}

	fields := make([]*DataField, 0, len(d.Fields))
	seen := make(map[string]bool, len(d.Fields))
	for _, fd := range d.Fields {
		f, err := DataFieldFromDescription(fd)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", d.TypeID, err)
		}
		if seen[f.ID] {
			return nil, fmt.Errorf("%w: type %q declares field %q twice", ErrFormat, d.TypeID, f.ID)
		}
		seen[f.ID] = true
		fields = append(fields, f)
	}
	return NewTopicType(props, fields), nil
}

// DataFieldFromDescription builds a data field from its bootstrap description.
func DataFieldFromDescription(fd FieldDescription) (*DataField, error) {
	if fd.ID == "" {
		return nil, fmt.Errorf("%w: field description without id", ErrFormat)
	}
	if fd.Model.Type == "" {
		return nil, fmt.Errorf("%w: field %q without model.type", ErrFormat, fd.ID)
	}
	f := &DataField{
		ID:            fd.ID,
		DataType:      DataType(fd.Model.Type),
		RelatedTypeID: fd.Model.RelatedTypeID,
		IndexingMode:  IndexingMode(fd.IndexingMode),
	}
	if fd.View != nil {
		f.Editor = Editor(fd.View.Editor)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Description serializes t back into its bootstrap shape. Optional
// attributes are always written so the output is stable under round trips.
func (t *TopicType) Description() TypeDescription {
	str := func(key string) string {
		s, _ := t.Properties[key].(string)
		return s
	}
	d := TypeDescription{
		TypeID:         t.Identifier(),
		Implementation: str(PropImplementation),
		View: TypeView{
			IconSrc:    str(PropIconSrc),
			LabelField: str(PropLabelField),
			Label:      str(PropLabel),
		},
		Fields: make([]FieldDescription, 0, len(t.DataFields)),
	}
	for _, f := range t.DataFields {
		d.Fields = append(d.Fields, f.Description())
	}
	return d
}

// Description serializes f into its bootstrap shape.
func (f *DataField) Description() FieldDescription {
	return FieldDescription{
		ID: f.ID,
		Model: FieldModel{
			Type:          string(f.DataType),
			RelatedTypeID: f.RelatedTypeID,
		},
		View:         &FieldView{Editor: string(f.Editor)},
		IndexingMode: string(f.IndexingMode),
	}
}
