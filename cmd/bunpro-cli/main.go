package main

import (
	"context"

	"bunpro-backup/cmd/bunpro-cli/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
