package main

import "blafast-backend/cmd"

func main() {
	cmd.Run()
}
