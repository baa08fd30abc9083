// Command kestrel runs the kestrel social agent.
package main

import "github.com/kestrel-social/kestrel/cmd/kestrel/cmd"

func main() {
	cmd.Execute()
}
