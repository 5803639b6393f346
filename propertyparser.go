package signalr

import (
	"regexp"
	"strconv"
	"time"
)

// PropertyParser transforms a value decoded from a received message.
// name is the property name of the value inside its object, the index for array elements,
// or "" for the message itself. The returned value replaces the decoded value.
// Objects and arrays are passed to the parser after their members have been parsed.
type PropertyParser func(name string, value interface{}) interface{}

// ChainPropertyParsers composes parsers left to right: the output of parsers[i] is the input of parsers[i+1].
// It returns nil if no parsers are given.
func ChainPropertyParsers(parsers ...PropertyParser) PropertyParser {
	chain := make([]PropertyParser, 0, len(parsers))
	for _, parser := range parsers {
		if parser != nil {
			chain = append(chain, parser)
		}
	}
	if len(chain) == 0 {
		return nil
	}
	return func(name string, value interface{}) interface{} {
		for _, parser := range chain {
			value = parser(name, value)
		}
		return value
	}
}

var isoDateFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d*)?Z$`)

// ParseISODate converts UTC date strings like "2021-03-04T05:06:07.89Z" into time.Time.
// All other values are returned unchanged.
func ParseISODate(_ string, value interface{}) interface{} {
	if s, ok := value.(string); ok && isoDateFormat.MatchString(s) {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return value
}

func revive(name string, value interface{}, parser PropertyParser) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, member := range v {
			v[key] = revive(key, member, parser)
		}
	case []interface{}:
		for i, element := range v {
			v[i] = revive(strconv.Itoa(i), element, parser)
		}
	}
	return parser(name, value)
}
