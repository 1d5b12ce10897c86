package main

import "github.com/Jacky040124/openquest/internal/cli"

func main() {
	cli.Execute()
}
