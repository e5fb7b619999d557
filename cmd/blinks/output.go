package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// stdout is where command results are written. Progress and hints go to
// stderr so stdout stays machine readable.
var stdout io.Writer = os.Stdout

// render writes v as filtered JSON, plain JSON or via human, depending on
// the global --filter and --json flags.
func render(c *cli.Context, v interface{}, human func(w io.Writer)) error {
	if expr := c.String("filter"); expr != "" {
		return applyFilter(stdout, v, expr)
	}
	if c.Bool("json") {
		return outputJSON(v)
	}
	human(stdout)
	return nil
}

// outputJSON writes v as indented JSON.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// applyFilter runs a jq expression over the JSON form of v and writes one
// line per result. String results are written raw.
func applyFilter(w io.Writer, v interface{}, expr string) error {
	code, err := compileFilter(expr)
	if err != nil {
		return err
	}

	// gojq only understands the generic JSON types.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to decode output: %w", err)
	}

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("filter %q failed: %w", expr, err)
		}

		if s, isString := result.(string); isString {
			fmt.Fprintln(w, s)
			continue
		}
		line, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal filter result: %w", err)
		}
		fmt.Fprintln(w, string(line))
	}
}

func compileFilter(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return code, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
