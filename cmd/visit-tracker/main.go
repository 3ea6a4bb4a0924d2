// Package main is the entry point for the visit-tracker service and CLI.
//
// @title           Visit Tracker API
// @version         1.0
// @description     Field-sales visit registration with duplicate and overlap detection.
// @BasePath        /api/v1
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
package main

import (
	"fmt"
	"os"

	"github.com/tbourn/go-visit-tracker/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
