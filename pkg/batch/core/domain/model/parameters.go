package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// JobParameters are the run parameters of one job launch. They are resolved once and
// never mutated after the launch starts.
type JobParameters struct {
	Params map[string]interface{}
}

func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]interface{})}
}

// ParseJobParameters builds parameters from "key=value" arguments.
func ParseJobParameters(args []string) (JobParameters, error) {
	jp := NewJobParameters()
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return jp, fmt.Errorf("invalid job parameter %q: expected key=value", arg)
		}
		jp.Params[key] = value
	}
	return jp, nil
}

func (jp JobParameters) Put(key string, value interface{}) {
	jp.Params[key] = value
}

func (jp JobParameters) Get(key string) interface{} {
	return jp.Params[key]
}

// GetString returns the value for key formatted as a string, or "" if absent.
func (jp JobParameters) GetString(key string) string {
	v, ok := jp.Params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Keys returns the parameter names in sorted order.
func (jp JobParameters) Keys() []string {
	keys := make([]string, 0, len(jp.Params))
	for k := range jp.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Hash identifies a parameter set independent of map ordering. Restart only resumes an
// execution whose parameters hash matches.
func (jp JobParameters) Hash() (string, error) {
	canonical, err := json.Marshal(jp.Params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job parameters: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
