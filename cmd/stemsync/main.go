package main

import (
	"context"

	"stemsync/cmd/stemsync/commands"
	"stemsync/lib/serviceutil"
)

func main() {
	ctx, cancel := serviceutil.SignalContext(context.Background())
	defer cancel()
	commands.ExecuteContext(ctx)
}
