// Package registry holds the per-component topic metadata: which commands,
// events and telemetry streams each component type exposes, and the field
// schema of every topic. Loaded once at startup from a YAML metadata file
// and immutable afterwards, so reads need no locking.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownComponent marks lookups of component types absent from the
	// metadata file.
	ErrUnknownComponent = errors.New("unknown component type")
	// ErrUnknownTopic marks lookups of commands/events/telemetry a known
	// component does not declare.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrSchema marks payloads that do not match the declared field schema.
	ErrSchema = errors.New("schema violation")
)

// TopicKind distinguishes the three topic classes of a component.
type TopicKind string

const (
	Command   TopicKind = "command"
	Event     TopicKind = "event"
	Telemetry TopicKind = "telemetry"
)

// Field declares one payload field of a topic.
type Field struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// TopicSchema declares the payload shape of one topic. Commands may carry
// their own ack timeout overriding the global default.
type TopicSchema struct {
	Fields  map[string]Field `yaml:"fields"`
	Timeout time.Duration    `yaml:"-"`
}

// UnmarshalYAML accepts timeouts in time.ParseDuration form ("30s").
func (s *TopicSchema) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Fields  map[string]Field `yaml:"fields"`
		Timeout string           `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.Fields = raw.Fields
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", raw.Timeout, err)
		}
		s.Timeout = d
	}
	return nil
}

// Component is the full topic surface of one component type.
type Component struct {
	SchemaVersion string                 `yaml:"schema_version"`
	Commands      map[string]TopicSchema `yaml:"commands"`
	Events        map[string]TopicSchema `yaml:"events"`
	Telemetry     map[string]TopicSchema `yaml:"telemetry"`
}

// Description is the queryable metadata of one component type, in the shape
// clients expect: sorted topic name lists plus the schemas themselves.
type Description struct {
	SchemaVersion  string                 `json:"schema_version"`
	CommandNames   []string               `json:"command_names"`
	EventNames     []string               `json:"event_names"`
	TelemetryNames []string               `json:"telemetry_names"`
	Commands       map[string]TopicSchema `json:"commands"`
	Events         map[string]TopicSchema `json:"events"`
	Telemetry      map[string]TopicSchema `json:"telemetry"`
}

// Registry is the immutable topic metadata of all known component types.
type Registry struct {
	components map[string]Component
}

type metadataFile struct {
	Components map[string]Component `yaml:"components"`
}

// Load reads the metadata file and validates its field type declarations.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Parse(raw)
}

// Parse builds a registry from raw YAML metadata.
func Parse(raw []byte) (*Registry, error) {
	var file metadataFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry metadata: %w", err)
	}
	if len(file.Components) == 0 {
		return nil, fmt.Errorf("registry metadata declares no components")
	}

	for name, component := range file.Components {
		for _, group := range []map[string]TopicSchema{
			component.Commands, component.Events, component.Telemetry,
		} {
			for topic, schema := range group {
				for field, decl := range schema.Fields {
					switch decl.Type {
					case "string", "int", "float", "bool":
					default:
						return nil, fmt.Errorf(
							"component %s topic %s field %s: unsupported type %q",
							name, topic, field, decl.Type)
					}
				}
			}
		}
	}

	return &Registry{components: file.Components}, nil
}

// ComponentNames lists all known component types, sorted.
func (r *Registry) ComponentNames() []string {
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the topic metadata of one component type.
func (r *Registry) Describe(componentType string) (*Description, error) {
	component, ok := r.components[componentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, componentType)
	}

	desc := &Description{
		SchemaVersion:  component.SchemaVersion,
		CommandNames:   sortedKeys(component.Commands),
		EventNames:     sortedKeys(component.Events),
		TelemetryNames: sortedKeys(component.Telemetry),
		Commands:       component.Commands,
		Events:         component.Events,
		Telemetry:      component.Telemetry,
	}
	return desc, nil
}

// Topic returns the schema of one topic of one component type.
func (r *Registry) Topic(componentType string, kind TopicKind, name string) (TopicSchema, error) {
	component, ok := r.components[componentType]
	if !ok {
		return TopicSchema{}, fmt.Errorf("%w: %s", ErrUnknownComponent, componentType)
	}

	var group map[string]TopicSchema
	switch kind {
	case Command:
		group = component.Commands
	case Event:
		group = component.Events
	case Telemetry:
		group = component.Telemetry
	default:
		return TopicSchema{}, fmt.Errorf("%w: %s/%s", ErrUnknownTopic, kind, name)
	}

	schema, ok := group[name]
	if !ok {
		return TopicSchema{}, fmt.Errorf("%w: %s has no %s %q", ErrUnknownTopic, componentType, kind, name)
	}
	return schema, nil
}

// CommandTimeout returns the ack window for one command, falling back to
// defaultTimeout when the metadata declares none.
func (r *Registry) CommandTimeout(componentType, command string, defaultTimeout time.Duration) time.Duration {
	schema, err := r.Topic(componentType, Command, command)
	if err != nil || schema.Timeout <= 0 {
		return defaultTimeout
	}
	return schema.Timeout
}

// Validate checks a payload against a topic's declared schema: required
// fields present, declared fields type-coercible, no undeclared fields.
// Business-level validation is the component's job, not the relay's.
func (r *Registry) Validate(componentType string, kind TopicKind, name string, payload map[string]any) error {
	schema, err := r.Topic(componentType, kind, name)
	if err != nil {
		return err
	}

	for field, decl := range schema.Fields {
		value, present := payload[field]
		if !present {
			if decl.Required {
				return fmt.Errorf("%w: missing required field %q", ErrSchema, field)
			}
			continue
		}
		if !coercible(decl.Type, value) {
			return fmt.Errorf("%w: field %q is not coercible to %s", ErrSchema, field, decl.Type)
		}
	}

	for field := range payload {
		if _, declared := schema.Fields[field]; !declared {
			return fmt.Errorf("%w: undeclared field %q", ErrSchema, field)
		}
	}

	return nil
}

// coercible reports whether value fits the declared type. JSON decoding
// yields float64 for every number, so int accepts integral floats.
func coercible(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "float":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "int":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		case float32:
			return v == float32(int64(v))
		}
		return false
	}
	return false
}

func sortedKeys(group map[string]TopicSchema) []string {
	names := make([]string, 0, len(group))
	for name := range group {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
