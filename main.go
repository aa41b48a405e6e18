package main

import (
	"os"

	"github.com/nathann3/better-than-netflix-movie-recommender/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
