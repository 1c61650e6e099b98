package main

import (
	"github.com/AdguardTeam/LinkCheck/internal/cmd"
)

func main() {
	cmd.Main()
}
