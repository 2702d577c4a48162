// Package helloworld provides the starter workflows registered by the
// default supervisor binary: a greeting workflow and an environment probe.
package helloworld

import (
	"context"
	"fmt"
	"os"

	"github.com/mkonduru/flowd/internal/dispatch"
	"github.com/mkonduru/flowd/internal/schema"
	"github.com/mkonduru/flowd/internal/workflow"
)

// Register adds the hello-world workflows to the registry.
func Register(reg *workflow.Registry) error {
	for _, d := range []*workflow.Descriptor{greeting(), getEnv()} {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func greeting() *workflow.Descriptor {
	return &workflow.Descriptor{
		Name:        "hello-world-d",
		Version:     "0.1.0",
		Description: "Greets a person by name and age.",
		InputSchema: schema.Object{Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString, Description: "Name to greet.", Required: true},
			{Name: "age", Type: schema.TypeNumber, Description: "Age in years.", Required: true, Minimum: schema.Min(0)},
		}},
		OutputSchema: schema.Object{Fields: []schema.Field{
			{Name: "greeting", Type: schema.TypeString, Description: "The composed greeting."},
		}},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			name := input["name"].(string)
			dispatch.Logf(ctx, "greeting %s", name)
			return map[string]any{
				"greeting": fmt.Sprintf("Hello %s, age %v!", name, input["age"]),
			}, nil
		},
	}
}

func getEnv() *workflow.Descriptor {
	return &workflow.Descriptor{
		Name:        "get-env",
		Version:     "0.1.0",
		Description: "Reads an environment variable from the supervisor process.",
		InputSchema: schema.Object{Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString, Description: "Environment variable name.", Required: true},
		}},
		OutputSchema: schema.Object{Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString},
			{Name: "value", Type: schema.TypeString},
			{Name: "set", Type: schema.TypeBool, Description: "Whether the variable is set at all."},
		}},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			name := input["name"].(string)
			value, ok := os.LookupEnv(name)
			if !ok {
				dispatch.Logf(ctx, "environment variable %s is not set", name)
			}
			return map[string]any{
				"name":  name,
				"value": value,
				"set":   ok,
			}, nil
		},
	}
}
