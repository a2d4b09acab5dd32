package main

import "github.com/frahmantamala/enrollment-payments/cmd"

func main() {
	cmd.Execute()
}
