package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/stevemurr/masterlist/cli"
)

func main() {
	if err := cli.Run(context.Background(), os.Args[1:]); err != nil {
		logrus.Fatal(err)
	}
}
