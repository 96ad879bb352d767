package main

import (
	"log"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/app"
)

func main() {
	// setup and run app
	if err := app.SetupAndRunServer(); err != nil {
		log.Fatal(err)
	}
}
