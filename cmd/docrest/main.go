// Command docrest serves MongoDB collections as REST resources described by
// JSON Schemas.
package main

import (
	"github.com/nimburion/docrest/pkg/cli"
)

func main() {
	cli.Execute(cli.NewServiceCommand(cli.ServiceCommandOptions{
		Name:        "docrest",
		Description: "REST API over schema-validated document collections",
	}))
}
