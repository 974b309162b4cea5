package main

import (
	"os"

	"wearable-connector/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
