package main

import "github.com/inovacc/inboxd/cmd"

func main() {
	cmd.Execute()
}
