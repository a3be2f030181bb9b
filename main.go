package main

import (
	"log"

	"llmlatencybench/cmd/server"
)

func main() {
	// Run the server
	if err := server.Run(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
