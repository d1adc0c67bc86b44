//go:build !linux

package main

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/srg/blex/stack"
)

func newRadioStack(_ *logrus.Logger) (stack.Stack, error) {
	return nil, fmt.Errorf("no radio backend on %s, use --sim", runtime.GOOS)
}
