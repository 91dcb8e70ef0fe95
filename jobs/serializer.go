package jobs

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// JobSerializer converts job arguments to and from bytes for storage and
// handler dispatch.
type JobSerializer interface {
	Serialize(args any) ([]byte, error)
	Deserialize(data []byte, target any) error
	Name() string
}

// JSONSerializer uses encoding/json.
type JSONSerializer struct{}

func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

func (s *JSONSerializer) Serialize(args any) ([]byte, error) {
	if args == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return data, nil
}

func (s *JSONSerializer) Deserialize(data []byte, target any) error {
	if target == nil {
		return fmt.Errorf("deserialize target cannot be nil")
	}
	if len(data) == 0 {
		return fmt.Errorf("data is empty")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}
	return nil
}

func (s *JSONSerializer) Name() string {
	return "json"
}

// GobSerializer uses encoding/gob, which is more compact than JSON for
// job args dominated by numeric fields and avoids re-deriving a schema for
// types that already satisfy gob.GobEncoder. Deserialize requires target
// to be a pointer, same as gob.NewDecoder.Decode.
type GobSerializer struct{}

func NewGobSerializer() *GobSerializer {
	return &GobSerializer{}
}

func (s *GobSerializer) Serialize(args any) ([]byte, error) {
	var buf bytes.Buffer
	if args == nil {
		return buf.Bytes(), nil
	}
	if err := gob.NewEncoder(&buf).Encode(args); err != nil {
		return nil, fmt.Errorf("gob encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *GobSerializer) Deserialize(data []byte, target any) error {
	if target == nil {
		return fmt.Errorf("deserialize target cannot be nil")
	}
	if len(data) == 0 {
		return fmt.Errorf("data is empty")
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(target); err != nil {
		return fmt.Errorf("gob decode failed: %w", err)
	}
	return nil
}

func (s *GobSerializer) Name() string {
	return "gob"
}
