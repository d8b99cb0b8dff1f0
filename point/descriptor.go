package point

import (
	"fmt"
	"strings"

	"github.com/c360/pointstream/errors"
)

// Tag is a single key=value pair attached to a channel. Keys are
// unique within a descriptor; order is preserved from creation.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Descriptor identifies a channel: a non-empty name plus ordered tags.
// Two descriptors with the same name but different tags are distinct
// channels.
type Descriptor struct {
	Name string
	Tags []Tag
}

// Key returns the canonical dotted-brace form used for map keys,
// metric labels, and log fields: name{k=v,k2=v2} or bare name when
// untagged.
func (d Descriptor) Key() string {
	if len(d.Tags) == 0 {
		return d.Name
	}
	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteByte('{')
	for i, t := range d.Tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.Key)
		b.WriteByte('=')
		b.WriteString(t.Value)
	}
	b.WriteByte('}')
	return b.String()
}

// String returns the same as Key.
func (d Descriptor) String() string {
	return d.Key()
}

// Validate checks the descriptor invariants: non-empty name, non-empty
// unique tag keys.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.ErrEmptyChannelName
	}
	seen := make(map[string]struct{}, len(d.Tags))
	for _, t := range d.Tags {
		if t.Key == "" {
			return errors.ErrMalformedTag
		}
		if _, dup := seen[t.Key]; dup {
			return fmt.Errorf("%w: %q", errors.ErrDuplicateTagKey, t.Key)
		}
		seen[t.Key] = struct{}{}
	}
	return nil
}

// TagMap returns the tags as a map for JSON payloads. Order is lost;
// use Tags where order matters.
func (d Descriptor) TagMap() map[string]string {
	if len(d.Tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(d.Tags))
	for _, t := range d.Tags {
		m[t.Key] = t.Value
	}
	return m
}

// ParseTags parses the CSV tag syntax "key=value,key2=value2" into an
// ordered tag list. Whitespace around keys and values is trimmed.
// Empty segments (trailing commas) are ignored; an entry without '='
// or with an empty key is an error. An empty input yields no tags.
func ParseTags(csv string) ([]Tag, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var tags []Tag
	seen := make(map[string]struct{})
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("%w: %q", errors.ErrMalformedTag, part)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, fmt.Errorf("%w: %q", errors.ErrMalformedTag, part)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %q", errors.ErrDuplicateTagKey, key)
		}
		seen[key] = struct{}{}
		tags = append(tags, Tag{Key: key, Value: value})
	}
	return tags, nil
}
