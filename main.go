package main

import "waorganizer/internal/app"

func main() {
	app.Main()
}
