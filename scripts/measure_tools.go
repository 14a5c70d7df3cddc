package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"warden/internal/background"
	"warden/internal/tooling"
)

// Prints how many bytes the builtin tool definitions cost when handed to a
// model.
func main() {
	tools := tooling.Builtins(tooling.BuiltinOptions{
		ShellTimeout: 60 * time.Second,
		Background:   background.NewRegistry(0),
	})
	registry, err := tooling.NewRegistry(tools...)
	if err != nil {
		log.Fatalf("Failed to build registry: %v", err)
	}

	definitions := registry.Definitions()
	data, err := json.Marshal(definitions)
	if err != nil {
		log.Fatalf("Failed to marshal tool definitions: %v", err)
	}

	fmt.Printf("Builtin tool definitions:\n")
	fmt.Printf("  Count: %d tools\n", len(definitions))
	fmt.Printf("  JSON size: %d bytes (~%.1fk)\n", len(data), float64(len(data))/1000.0)
	fmt.Println()

	fmt.Println("Size breakdown by tool:")
	for _, def := range definitions {
		defData, _ := json.Marshal(def)
		fmt.Printf("  %-20s: %5d bytes\n", def.Function.Name, len(defData))
	}
}
