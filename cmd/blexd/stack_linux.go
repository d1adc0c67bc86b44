//go:build linux

package main

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/goble"
	"github.com/srg/blex/stack"
)

func newRadioStack(log *logrus.Logger) (stack.Stack, error) {
	return goble.New(goble.Options{Logger: log}), nil
}
