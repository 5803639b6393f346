package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// parseArguments decodes every arg as JSON value. Args which are no valid JSON are taken as strings.
func parseArguments(args []string) []interface{} {
	arguments := make([]interface{}, 0, len(args))
	for _, arg := range args {
		var value interface{}
		if err := json.Unmarshal([]byte(arg), &value); err != nil {
			value = arg
		}
		arguments = append(arguments, value)
	}
	return arguments
}

// parseHeaders splits key=value pairs
func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, want key=value", pair)
		}
		headers[key] = value
	}
	return headers, nil
}

// printJSON writes value as a single JSON line
func printJSON(out io.Writer, value interface{}) error {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return err
	}
	_, err := out.Write(buf.Bytes())
	return err
}
