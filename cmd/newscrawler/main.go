package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/andrewyi/newscrawler/src/server"
)

func main() {
	// .env中的变量可以覆盖配置文件，例如DATABASE_URL
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "fail to load .env:", err)
	}

	app := server.NewApp(os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
