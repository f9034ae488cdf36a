// Command kernl-deploy archives a plugin and publishes it to Kernl.
package main

import "github.com/oshokin/kernl-deploy/cmd/kernl-deploy/cmd"

func main() {
	cmd.Execute()
}
