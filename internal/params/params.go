// Package params describes the inputs an ETL run accepts. The schema is a
// YAML document mapping parameter names to one of five typed variants,
// distinguished by param_type.
package params

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"switchbox/internal/apperrors"

	"gopkg.in/yaml.v3"
)

//go:embed etl_params.yml
var defaultSchema []byte

// Kind is the param_type tag.
type Kind string

const (
	KindBool   Kind = "bool"
	KindCSV    Kind = "csv"
	KindFile   Kind = "file"
	KindNumber Kind = "number"
	KindString Kind = "str"
)

// Param is one of BoolParam, CSVParam, FileParam, NumberParam or StringParam.
type Param interface {
	Kind() Kind
	Prompt() string
	// ValidateValue checks a submitted form value. Upload-backed kinds
	// accept any form value.
	ValidateValue(value string) error
}

type BoolParam struct {
	ParamType Kind   `yaml:"param_type" json:"param_type"`
	Question  string `yaml:"question" json:"question"`
	Default   *bool  `yaml:"default" json:"default"`
}

type CSVParam struct {
	ParamType Kind     `yaml:"param_type" json:"param_type"`
	Question  string   `yaml:"question" json:"question"`
	Columns   []string `yaml:"columns" json:"columns"`
}

type FileParam struct {
	ParamType Kind   `yaml:"param_type" json:"param_type"`
	Question  string `yaml:"question" json:"question"`
}

type NumberParam struct {
	ParamType Kind     `yaml:"param_type" json:"param_type"`
	Question  string   `yaml:"question" json:"question"`
	Default   *float64 `yaml:"default" json:"default"`
}

type StringParam struct {
	ParamType Kind    `yaml:"param_type" json:"param_type"`
	Question  string  `yaml:"question" json:"question"`
	Default   *string `yaml:"default" json:"default"`
}

func (p *BoolParam) Kind() Kind   { return KindBool }
func (p *CSVParam) Kind() Kind    { return KindCSV }
func (p *FileParam) Kind() Kind   { return KindFile }
func (p *NumberParam) Kind() Kind { return KindNumber }
func (p *StringParam) Kind() Kind { return KindString }

func (p *BoolParam) Prompt() string   { return p.Question }
func (p *CSVParam) Prompt() string    { return p.Question }
func (p *FileParam) Prompt() string   { return p.Question }
func (p *NumberParam) Prompt() string { return p.Question }
func (p *StringParam) Prompt() string { return p.Question }

func (p *BoolParam) ValidateValue(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("expected a boolean, got %q", value)
	}
	return nil
}

func (p *NumberParam) ValidateValue(value string) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
		return fmt.Errorf("expected a number, got %q", value)
	}
	return nil
}

func (p *CSVParam) ValidateValue(string) error    { return nil }
func (p *FileParam) ValidateValue(string) error   { return nil }
func (p *StringParam) ValidateValue(string) error { return nil }

// Entry is a named parameter.
type Entry struct {
	Name  string
	Param Param
}

// Set is a parsed schema. Entries keep their declaration order.
type Set struct {
	entries []Entry
	index   map[string]int
}

// Default returns the schema embedded in the binary.
func Default() (*Set, error) {
	return Parse(defaultSchema)
}

// Load reads the schema at path, or the embedded one when path is empty.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read params file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a schema document of the form {params: {name: {param_type: ..., ...}}}.
func Parse(data []byte) (*Set, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid params yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("params yaml must be a mapping")
	}

	var paramsNode *yaml.Node
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "params" {
			paramsNode = root.Content[i+1]
		}
	}
	if paramsNode == nil || paramsNode.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("params yaml must contain a params mapping")
	}

	set := &Set{index: make(map[string]int)}
	for i := 0; i+1 < len(paramsNode.Content); i += 2 {
		name := paramsNode.Content[i].Value
		if _, dup := set.index[name]; dup {
			return nil, fmt.Errorf("param %q declared twice", name)
		}
		p, err := decodeParam(paramsNode.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", name, err)
		}
		set.index[name] = len(set.entries)
		set.entries = append(set.entries, Entry{Name: name, Param: p})
	}
	return set, nil
}

func decodeParam(node *yaml.Node) (Param, error) {
	var tag struct {
		ParamType Kind `yaml:"param_type"`
	}
	if err := node.Decode(&tag); err != nil {
		return nil, err
	}

	var p Param
	switch tag.ParamType {
	case KindBool:
		p = &BoolParam{}
	case KindCSV:
		p = &CSVParam{}
	case KindFile:
		p = &FileParam{}
	case KindNumber:
		p = &NumberParam{}
	case KindString:
		p = &StringParam{}
	default:
		return nil, fmt.Errorf("unknown param_type %q", tag.ParamType)
	}
	if err := node.Decode(p); err != nil {
		return nil, err
	}
	if p.Prompt() == "" {
		return nil, fmt.Errorf("question is required")
	}
	return p, nil
}

// Entries returns the parameters in declaration order.
func (s *Set) Entries() []Entry {
	return s.entries
}

// Get looks up a parameter by name.
func (s *Set) Get(name string) (Param, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.entries[i].Param, true
}

// Names returns the names of parameters of the given kind, in order.
func (s *Set) Names(kind Kind) []string {
	var names []string
	for _, e := range s.entries {
		if e.Param.Kind() == kind {
			names = append(names, e.Name)
		}
	}
	return names
}

// ValidateValues checks submitted form values against their declarations.
// Values without a declaration pass through.
func (s *Set) ValidateValues(values map[string]string) error {
	for _, e := range s.entries {
		value, ok := values[e.Name]
		if !ok || value == "" {
			continue
		}
		if err := e.Param.ValidateValue(value); err != nil {
			return apperrors.Validation(e.Name, err.Error())
		}
	}
	return nil
}

// MarshalJSON writes {"params": {...}} with entries in declaration order.
func (s *Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"params":{`)
	for i, e := range s.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(e.Param)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}
