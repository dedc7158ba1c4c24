package main

import "github.com/IliaW/chapter-scrape-worker/cmd"

func main() {
	cmd.Execute()
}
