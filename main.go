package main

import "github.com/frahmantamala/crm-authz/cmd"

func main() {
	cmd.Execute()
}
