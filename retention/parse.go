package retention

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"gopkg.in/yaml.v3"
)

const keyExcludePatterns = "exclude_patterns"

// Parse reads a policy document. Missing buckets take their default value.
func Parse(data []byte) (Policy, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), kyaml.Parser()); err != nil {
		return Policy{}, &PolicyValidationError{Reason: "malformed document", Err: err}
	}
	return FromKoanf(k)
}

// Load reads a policy document from a file.
func Load(path string) (Policy, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return Policy{}, fmt.Errorf("cannot load retention policy from %s: %w", path, err)
	}
	return FromKoanf(k)
}

// FromKoanf builds a policy from the top level keys of k, e.g. a section
// cut out of the main configuration.
func FromKoanf(k *koanf.Koanf) (Policy, error) {
	p := DefaultPolicy()

	for _, key := range k.Keys() {
		value := k.Get(key)
		if key == keyExcludePatterns {
			patterns, err := parsePatterns(value)
			if err != nil {
				return Policy{}, err
			}
			p.ExcludePatterns = patterns
			continue
		}

		bucket, ok := bucketByName(key)
		if !ok {
			return Policy{}, &PolicyValidationError{Key: key, Reason: "unknown key"}
		}
		if value == nil {
			continue
		}
		c, err := parseCount(key, value)
		if err != nil {
			return Policy{}, err
		}
		p.set(bucket, c)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Marshal writes the policy as flat YAML document that Parse reads back.
func Marshal(p Policy) ([]byte, error) {
	return yaml.Marshal(p)
}

type policyDocument struct {
	Hourly          Count    `yaml:"hourly"`
	Daily           Count    `yaml:"daily"`
	Weekly          Count    `yaml:"weekly"`
	Monthly         Count    `yaml:"monthly"`
	Yearly          Count    `yaml:"yearly"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// MarshalYAML implements yaml.Marshaler.
func (p Policy) MarshalYAML() (interface{}, error) {
	patterns := p.ExcludePatterns
	if patterns == nil {
		patterns = []string{}
	}
	return policyDocument{
		Hourly:          p.Hourly,
		Daily:           p.Daily,
		Weekly:          p.Weekly,
		Monthly:         p.Monthly,
		Yearly:          p.Yearly,
		ExcludePatterns: patterns,
	}, nil
}

func bucketByName(name string) (Bucket, bool) {
	for _, b := range Buckets {
		if string(b) == name {
			return b, true
		}
	}
	return "", false
}

func parseCount(key string, value interface{}) (Count, error) {
	var n int64
	switch v := value.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case uint64:
		if v > math.MaxInt32 {
			return 0, &PolicyValidationError{Key: key, Reason: "count too large"}
		}
		n = int64(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, &PolicyValidationError{Key: key, Reason: fmt.Sprintf("%v is not an integer", v)}
		}
		n = int64(v)
	case string:
		s := strings.TrimSpace(v)
		if strings.EqualFold(s, foreverKeyword) {
			return Forever, nil
		}
		parsed, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, &PolicyValidationError{Key: key, Reason: fmt.Sprintf("%q is neither an integer nor %q", v, foreverKeyword)}
		}
		n = parsed
	default:
		return 0, &PolicyValidationError{Key: key, Reason: fmt.Sprintf("unsupported value %v", v)}
	}

	switch {
	case n == int64(Forever):
		return Forever, nil
	case n < 0:
		return 0, &PolicyValidationError{Key: key, Reason: fmt.Sprintf("negative count %d", n)}
	case n > math.MaxInt32:
		return 0, &PolicyValidationError{Key: key, Reason: "count too large"}
	}
	return Count(n), nil
}

func parsePatterns(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		if len(v) == 0 {
			return nil, nil
		}
		patterns := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &PolicyValidationError{Key: keyExcludePatterns, Reason: fmt.Sprintf("pattern %v is not a string", item)}
			}
			patterns = append(patterns, s)
		}
		return patterns, nil
	case []string:
		if len(v) == 0 {
			return nil, nil
		}
		return append([]string(nil), v...), nil
	case string:
		return []string{v}, nil
	}
	return nil, &PolicyValidationError{Key: keyExcludePatterns, Reason: "expected a list of patterns"}
}
