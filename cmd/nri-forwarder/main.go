// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/nri-forwarder/internal/cmd/forwarder"
	"github.com/newrelic/nri-forwarder/internal/delivery"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, errVersion) {
		fmt.Printf("%s %s\n", delivery.Name, delivery.Version)
		return
	}
	if err != nil {
		logrus.WithError(err).Fatal("while loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = forwarder.Run(ctx, cfg, os.Stdin)
	if err != nil {
		logrus.WithError(err).Fatal("error occurred while running forwarder")
	}
}
