package main

import "context"

func main() {
	app := mustBootstrapSeatAPI()
	defer app.Close()

	if err := app.Run(); err != nil && err != context.Canceled {
		panic(err)
	}
}
