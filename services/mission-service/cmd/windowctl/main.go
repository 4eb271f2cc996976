package main

import "github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/cli"

func main() {
	cli.Execute()
}
